package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"amroute/internal/account"
	"amroute/internal/actor"
	"amroute/internal/amconfig"
	"amroute/internal/domain"
	"amroute/internal/names"
	"amroute/internal/notifier"
	"amroute/internal/routing"
	"amroute/internal/storage"

	"github.com/google/uuid"
)

// Group controller RPC methods.
const (
	MethodGroupInitialize    = "initialize"
	MethodNotifyReceiverDone = "notify-receiver-done"
)

const (
	groupMetaKey      = "meta"
	groupReceiversKey = "receivers"
)

// GroupInitRequest routes one alert group into its controller actor.
type GroupInitRequest struct {
	AccountID string            `json:"account_id"`
	Route     routing.FlatRoute `json:"route"`
	Group     domain.AlertGroup `json:"group"`
}

// NotifyReceiverDoneRequest is the receiver actor's completion report.
type NotifyReceiverDoneRequest struct {
	ReceiverID string `json:"receiver_id"`
	Fired      bool   `json:"fired"`
}

// groupMeta is the controller's persisted identity. The label set is
// fixed for the actor's lifetime; the route snapshot refreshes on every
// initialize.
type groupMeta struct {
	AccountID   string            `json:"account_id"`
	NodeID      string            `json:"node_id"`
	Route       routing.FlatRoute `json:"route"`
	LabelNames  []string          `json:"label_names"`
	LabelValues []string          `json:"label_values"`
}

// GroupController is the timer-driven actor owning one alert group. It
// queues routed alerts through the state machine, wakes after
// group_wait for the first notification and group_interval thereafter,
// and retires itself once nothing is pending or active.
type GroupController struct {
	state    *actor.State
	provider amconfig.Provider
	pageSize int

	meta      groupMeta
	hasMeta   bool
	machine   *StateMachine
	receivers []string
}

// NewGroupFactory returns the actor factory for group controllers.
// Params: account config provider and flush page size, 0 for unbounded.
// Returns: factory for runtime registration.
func NewGroupFactory(provider amconfig.Provider, pageSize int) actor.Factory {
	return func(state *actor.State) actor.Handler {
		return &GroupController{
			state:    state,
			provider: provider,
			pageSize: pageSize,
			machine:  NewStateMachine(state),
		}
	}
}

// Load restores meta, tracked alerts, and outstanding receivers.
// Params: context.
// Returns: storage or decode error.
func (g *GroupController) Load(ctx context.Context) error {
	err := g.state.Get(ctx, groupMetaKey, &g.meta)
	switch {
	case err == nil:
		g.hasMeta = true
	case errors.Is(err, storage.ErrNotFound):
	default:
		return err
	}

	raw, err := g.state.List(ctx, alertRecordPrefix)
	if err != nil {
		return err
	}
	records := make(map[domain.Fingerprint]*GroupedAlert, len(raw))
	for key, body := range raw {
		var rec GroupedAlert
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("decode grouped alert %q: %w", key, err)
		}
		records[rec.Fingerprint] = &rec
	}
	g.machine.Init(records)

	if err := g.state.Get(ctx, groupReceiversKey, &g.receivers); err != nil &&
		!errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// Handle dispatches one group RPC method.
// Params: method name and JSON payload.
// Returns: acknowledgement or error.
func (g *GroupController) Handle(ctx context.Context, method string, payload json.RawMessage) (any, error) {
	switch method {
	case MethodGroupInitialize:
		var req GroupInitRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := g.initialize(ctx, req); err != nil {
			return nil, err
		}
		return account.Ack{OK: true}, nil
	case MethodNotifyReceiverDone:
		var req NotifyReceiverDoneRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := g.receiverDone(ctx, req.ReceiverID); err != nil {
			return nil, err
		}
		return account.Ack{OK: true}, nil
	default:
		return nil, fmt.Errorf("unknown group method %q", method)
	}
}

// initialize absorbs one routed group. The actor name is derived from
// the group label values, so an initialize carrying different labels is
// a routing bug and fails hard.
func (g *GroupController) initialize(ctx context.Context, req GroupInitRequest) error {
	if g.hasMeta && !stringsEqual(g.meta.LabelValues, req.Group.LabelValues) {
		return fmt.Errorf("group labels %v do not match existing labels %v",
			req.Group.LabelValues, g.meta.LabelValues)
	}

	g.meta = groupMeta{
		AccountID:   req.AccountID,
		NodeID:      req.Group.NodeID,
		Route:       req.Route,
		LabelNames:  req.Group.LabelNames,
		LabelValues: req.Group.LabelValues,
	}
	if err := g.state.Put(ctx, groupMetaKey, g.meta); err != nil {
		return err
	}
	g.hasMeta = true

	for _, alert := range req.Group.Alerts {
		if err := g.machine.HandlePendingAlert(ctx, alert); err != nil {
			return err
		}
	}

	if _, set, err := g.state.Alarm(ctx); err != nil {
		return err
	} else if !set {
		// First notification for this group waits out group_wait.
		return g.state.SetAlarm(ctx, g.state.Clock().Now().Add(g.meta.Route.GroupWait))
	}
	return nil
}

// receiverDone drops one receiver from the outstanding set.
func (g *GroupController) receiverDone(ctx context.Context, receiverID string) error {
	filtered := make([]string, 0, len(g.receivers))
	for _, id := range g.receivers {
		if id != receiverID {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) == len(g.receivers) {
		return nil
	}
	g.receivers = filtered
	return g.state.Put(ctx, groupReceiversKey, g.receivers)
}

// OnAlarm drains the pending queue in pages, fanning each page out to
// receiver actors, then either re-arms at group_interval while alerts
// stay active or retires the whole group.
// Params: context.
// Returns: error to trigger the runtime's alarm retry.
func (g *GroupController) OnAlarm(ctx context.Context) error {
	if !g.hasMeta {
		return errors.New("group alarm fired before initialize")
	}

	for g.machine.HasPendingAlerts() {
		batch, err := g.machine.FlushPendingAlerts(ctx, g.pageSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		if err := g.dispatch(ctx, batch); err != nil {
			return err
		}
	}

	if g.machine.HasActiveAlerts() {
		return g.state.SetAlarm(ctx, g.state.Clock().Now().Add(g.meta.Route.GroupInterval))
	}
	return g.state.DeleteAll(ctx)
}

// dispatch hydrates one flushed page from the account's alert store and
// spawns one receiver actor per configured integration.
func (g *GroupController) dispatch(ctx context.Context, batch []domain.DehydratedAlert) error {
	fps := make([]domain.Fingerprint, 0, len(batch))
	for _, alert := range batch {
		fps = append(fps, alert.Fingerprint)
	}

	var alerts []domain.CachedAlert
	err := g.state.Call(ctx, names.Account(g.meta.AccountID), account.MethodGetAlerts,
		domain.GetAlertsOptions{
			Fingerprints: fps,
			Silenced:     domain.Exclude(),
			Inhibited:    domain.Exclude(),
		}, &alerts)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		// Every alert in the page is suppressed; nothing to send.
		return nil
	}

	cfg, err := g.provider.ResolveAccount(ctx, g.meta.AccountID)
	if err != nil {
		if errors.Is(err, amconfig.ErrAccountNotFound) {
			g.state.Logger().Warn("account config gone, dropping flush",
				"account", g.meta.AccountID)
			return nil
		}
		return err
	}
	receiver, ok := cfg.FindReceiver(g.meta.Route.Receiver)
	if !ok {
		g.state.Logger().Warn("receiver missing from account config, dropping flush",
			"account", g.meta.AccountID, "receiver", g.meta.Route.Receiver)
		return nil
	}

	groupLabels := make(map[string]string, len(g.meta.LabelNames))
	for i, name := range g.meta.LabelNames {
		if i < len(g.meta.LabelValues) {
			groupLabels[name] = g.meta.LabelValues[i]
		}
	}

	for _, ref := range notifier.Kinds(&receiver) {
		receiverID := uuid.NewString()
		g.receivers = append(g.receivers, receiverID)
		if err := g.state.Put(ctx, groupReceiversKey, g.receivers); err != nil {
			return err
		}

		err := g.state.Call(ctx, names.Receiver(receiverID), MethodReceiverInitialize,
			ReceiverInitRequest{
				AccountID:    g.meta.AccountID,
				GroupActor:   g.state.Name(),
				ReceiverName: receiver.Name,
				Ref:          ref,
				SendResolved: ref.WantsResolved(&receiver),
				Alerts:       alerts,
				GroupLabels:  groupLabels,
				GroupKey:     g.state.Name(),
			}, nil)
		if err != nil && !errors.Is(err, actor.ErrNoResult) {
			g.state.Logger().Error("receiver initialize failed",
				"receiver", receiverID, "kind", ref.Kind, "error", err)
			if err := g.receiverDone(ctx, receiverID); err != nil {
				return err
			}
		}
	}
	return nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
