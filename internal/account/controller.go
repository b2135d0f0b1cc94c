package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"amroute/internal/actor"
	"amroute/internal/amconfig"
	"amroute/internal/domain"
	"amroute/internal/matcher"
	"amroute/internal/names"
)

const (
	alertKeyPrefix      = "alert-"
	silenceKeyPrefix    = "silence-"
	inhibitionKeyPrefix = "inhibition-"
	alertGroupKeyPrefix = "alert_group-"
)

// RPC methods served by the account controller.
const (
	MethodAddAlerts          = "add-alerts"
	MethodGetAlerts          = "get-alerts"
	MethodGetAlert           = "get-alert"
	MethodAddSilence         = "add-silence"
	MethodGetSilences        = "get-silences"
	MethodMarkSilenceStarted = "mark-silence-started"
	MethodMarkSilenceExpired = "mark-silence-expired"
	MethodAcknowledgeAlert   = "acknowledge-alert"
	MethodAddAlertComment    = "add-alert-comment"
	MethodAddAlertGroups     = "add-alert-groups"
	MethodGetAlertGroups     = "get-alert-groups"
)

// AddAlertsRequest carries one routed batch into the account store.
type AddAlertsRequest struct {
	Alerts []domain.ReceiveredAlert `json:"alerts"`
}

// AddAlertsResponse acknowledges a stored batch.
type AddAlertsResponse struct {
	Added int `json:"added"`
}

// GetAlertRequest looks one alert up by fingerprint.
type GetAlertRequest struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
}

// AddSilenceRequest creates or updates one silence.
type AddSilenceRequest struct {
	Silence domain.Silence `json:"silence"`
}

// AddSilenceResponse reports the stored silence ID and whether storage
// changed.
type AddSilenceResponse struct {
	ID      string `json:"id"`
	Updated bool   `json:"updated"`
}

// GetSilencesRequest narrows a silence listing.
type GetSilencesRequest struct {
	ID       string           `json:"id,omitempty"`
	Matchers []domain.Matcher `json:"matchers,omitempty"`
}

// MarkSilenceRequest identifies a silence crossing its start or end.
type MarkSilenceRequest struct {
	ID string `json:"id"`
}

// AcknowledgeAlertRequest marks a firing alert acknowledged by a user.
type AcknowledgeAlertRequest struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	User        string             `json:"user"`
}

// AddAlertCommentRequest appends a comment to an alert's history.
type AddAlertCommentRequest struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	User        string             `json:"user"`
	Comment     string             `json:"comment"`
}

// AddAlertGroupsRequest merges routed groups into the read model.
type AddAlertGroupsRequest struct {
	Groups []domain.AlertGroup `json:"groups"`
}

// GetAlertGroupsRequest narrows the group listing by receiver pattern.
type GetAlertGroupsRequest struct {
	Receiver string `json:"receiver,omitempty"`
}

// Ack is the generic mutation acknowledgement.
type Ack struct {
	OK bool `json:"ok"`
}

// Controller is the per-account actor owning the four account stores.
// Cold start blocks every request until all stores are replayed from
// storage; correctness before availability.
type Controller struct {
	state     *actor.State
	provider  amconfig.Provider
	accountID string

	cache       *matcher.Cache
	silences    *SilenceDB
	alerts      *AlertDB
	inhibitions *InhibitionDB
	groups      *AlertGroupDB
}

// New creates the controller for one account actor.
// Params: actor state and the account config provider.
// Returns: handler ready for Load.
func New(state *actor.State, provider amconfig.Provider) *Controller {
	cache := matcher.NewCache()
	silences := NewSilenceDB(state, state.Clock(), cache)
	return &Controller{
		state:       state,
		provider:    provider,
		accountID:   names.AccountID(state.Name()),
		cache:       cache,
		silences:    silences,
		alerts:      NewAlertDB(state, state.Clock(), cache, silences),
		inhibitions: NewInhibitionDB(state, cache),
		groups:      NewAlertGroupDB(state),
	}
}

// Load replays all four store prefixes from durable storage.
// Params: context.
// Returns: first replay error.
func (c *Controller) Load(ctx context.Context) error {
	silences := make(map[string]domain.Silence)
	if err := loadPrefix(ctx, c.state, silenceKeyPrefix, func(_ string, s domain.Silence) {
		silences[s.ID] = s
	}); err != nil {
		return err
	}
	c.silences.Init(silences)

	alerts := make(map[domain.Fingerprint]*domain.CachedAlert)
	if err := loadPrefix(ctx, c.state, alertKeyPrefix, func(_ string, a domain.CachedAlert) {
		stored := a
		alerts[a.Fingerprint] = &stored
	}); err != nil {
		return err
	}
	c.alerts.Init(alerts)

	inhibitions := make(map[string]*CachedInhibition)
	if err := loadPrefix(ctx, c.state, inhibitionKeyPrefix, func(key string, i CachedInhibition) {
		stored := i
		inhibitions[key[len(inhibitionKeyPrefix):]] = &stored
	}); err != nil {
		return err
	}
	c.inhibitions.Init(inhibitions)

	groups := make(map[string]*domain.AlertGroup)
	if err := loadPrefix(ctx, c.state, alertGroupKeyPrefix, func(key string, g domain.AlertGroup) {
		stored := g
		groups[key] = &stored
	}); err != nil {
		return err
	}
	c.groups.Init(groups)

	return nil
}

// loadPrefix replays one record prefix, decoding each value.
func loadPrefix[T any](ctx context.Context, state *actor.State, prefix string, add func(key string, value T)) error {
	entries, err := state.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q records: %w", prefix, err)
	}
	for key, raw := range entries {
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decode record %q: %w", key, err)
		}
		add(key, value)
	}
	return nil
}

// Handle dispatches one account RPC method.
// Params: method name and JSON payload.
// Returns: method response or error; nil response maps to ErrNoResult.
func (c *Controller) Handle(ctx context.Context, method string, payload json.RawMessage) (any, error) {
	switch method {
	case MethodAddAlerts:
		var req AddAlertsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return c.addAlerts(ctx, req)
	case MethodGetAlerts:
		var opts domain.GetAlertsOptions
		if err := json.Unmarshal(payload, &opts); err != nil {
			return nil, err
		}
		alerts, err := c.alerts.GetAlerts(opts)
		if err != nil {
			return nil, err
		}
		return alerts, nil
	case MethodGetAlert:
		var req GetAlertRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		alert, ok := c.alerts.GetAlert(req.Fingerprint)
		if !ok {
			return nil, nil
		}
		return alert, nil
	case MethodAddSilence:
		var req AddSilenceRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return c.addSilence(ctx, req.Silence)
	case MethodGetSilences:
		var req GetSilencesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return c.silences.GetSilences(req.ID, req.Matchers), nil
	case MethodMarkSilenceStarted:
		var req MarkSilenceRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		s, ok := c.silences.Get(req.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSilence, req.ID)
		}
		if err := c.alerts.AddSilence(ctx, s); err != nil {
			return nil, err
		}
		return Ack{OK: true}, nil
	case MethodMarkSilenceExpired:
		var req MarkSilenceRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := c.alerts.MarkSilenceExpired(ctx, req.ID); err != nil {
			return nil, err
		}
		return Ack{OK: true}, nil
	case MethodAcknowledgeAlert:
		var req AcknowledgeAlertRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		ok, err := c.alerts.Acknowledge(ctx, req.Fingerprint, req.User)
		if err != nil {
			return nil, err
		}
		return Ack{OK: ok}, nil
	case MethodAddAlertComment:
		var req AddAlertCommentRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		ok, err := c.alerts.AddComment(ctx, req.Fingerprint, req.User, req.Comment)
		if err != nil {
			return nil, err
		}
		return Ack{OK: ok}, nil
	case MethodAddAlertGroups:
		var req AddAlertGroupsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		for _, group := range req.Groups {
			if err := c.groups.MergeAlertGroup(ctx, group); err != nil {
				return nil, err
			}
		}
		return Ack{OK: true}, nil
	case MethodGetAlertGroups:
		var req GetAlertGroupsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.Receiver == "" {
			return c.groups.GetAlertGroups(nil), nil
		}
		re, err := c.cache.Compile(req.Receiver)
		if err != nil {
			return nil, err
		}
		return c.groups.GetAlertGroups(re), nil
	}
	return nil, fmt.Errorf("unknown account method %q", method)
}

// OnAlarm is never scheduled for account controllers.
// Params: context.
// Returns: invariant violation error.
func (c *Controller) OnAlarm(context.Context) error {
	return errors.New("account controller has no alarm")
}

// addAlerts stores a routed batch in input order, feeds the inhibition
// store, and then refreshes each alert's inhibitor set.
func (c *Controller) addAlerts(ctx context.Context, req AddAlertsRequest) (AddAlertsResponse, error) {
	cfg, err := c.provider.ResolveAccount(ctx, c.accountID)
	if err != nil {
		if !errors.Is(err, amconfig.ErrAccountNotFound) {
			return AddAlertsResponse{}, err
		}
		c.state.Logger().Warn("storing alerts without config", "account", c.accountID)
	} else if err := c.inhibitions.SyncRules(ctx, cfg.InhibitRules); err != nil {
		return AddAlertsResponse{}, err
	}

	now := c.state.Clock().Now()
	for i := range req.Alerts {
		alert := req.Alerts[i]
		if alert.Fingerprint == 0 {
			alert.Fingerprint = domain.LabelsFingerprint(alert.Labels)
		}
		if err := c.alerts.AddAlert(ctx, alert); err != nil {
			return AddAlertsResponse{}, err
		}
		if err := c.inhibitions.ProcessAlert(ctx, alert, alert.State(now)); err != nil {
			return AddAlertsResponse{}, err
		}
	}

	lookup := func(fp domain.Fingerprint) (map[string]string, bool) {
		source, ok := c.alerts.GetAlert(fp)
		if !ok {
			return nil, false
		}
		return source.Labels, true
	}
	for i := range req.Alerts {
		alert := req.Alerts[i]
		if alert.Fingerprint == 0 {
			alert.Fingerprint = domain.LabelsFingerprint(alert.Labels)
		}
		inhibitors, err := c.inhibitions.AlertsThatInhibit(alert.Labels, lookup)
		if err != nil {
			return AddAlertsResponse{}, err
		}
		// An alert never inhibits itself.
		inhibitors = withoutFingerprint(inhibitors, alert.Fingerprint)
		if err := c.alerts.SetInhibitedBy(ctx, alert.Fingerprint, inhibitors); err != nil {
			return AddAlertsResponse{}, err
		}
	}
	return AddAlertsResponse{Added: len(req.Alerts)}, nil
}

// addSilence stores the silence, patches currently matching alerts when
// it is already active, and spawns the timer actor that will mark its
// start and expiry. The timer spawn is asynchronous: the timer's alarm
// path calls back into this actor.
func (c *Controller) addSilence(ctx context.Context, s domain.Silence) (AddSilenceResponse, error) {
	updated, id, err := c.silences.AddSilence(ctx, s)
	if err != nil {
		return AddSilenceResponse{}, err
	}
	if !updated {
		return AddSilenceResponse{ID: id, Updated: false}, nil
	}

	stored, _ := c.silences.Get(id)
	if err := c.alerts.AddSilence(ctx, stored); err != nil {
		return AddSilenceResponse{}, err
	}

	c.state.CallAsync(names.SilenceTimer(c.accountID, id), MethodTimerInitialize, SilenceTimerInit{
		AccountActor: c.state.Name(),
		SilenceID:    id,
		StartsAt:     stored.StartsAt,
		EndsAt:       stored.EndsAt,
	})
	return AddSilenceResponse{ID: id, Updated: true}, nil
}

func withoutFingerprint(list []domain.Fingerprint, fp domain.Fingerprint) []domain.Fingerprint {
	out := list[:0]
	for _, v := range list {
		if v != fp {
			out = append(out, v)
		}
	}
	return out
}
