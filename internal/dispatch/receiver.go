package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"amroute/internal/account"
	"amroute/internal/actor"
	"amroute/internal/amconfig"
	"amroute/internal/domain"
	"amroute/internal/metrics"
	"amroute/internal/names"
	"amroute/internal/notifier"
	"amroute/internal/permanent"
	"amroute/internal/storage"
)

// MethodReceiverInitialize arms a receiver actor with one attempt.
const MethodReceiverInitialize = "initialize"

const attemptRecordKey = "attempt"

// ReceiverInitRequest carries one notification attempt into its actor.
type ReceiverInitRequest struct {
	AccountID    string               `json:"account_id"`
	GroupActor   string               `json:"group_actor"`
	ReceiverName string               `json:"receiver_name"`
	Ref          notifier.KindRef     `json:"ref"`
	SendResolved bool                 `json:"send_resolved"`
	Alerts       []domain.CachedAlert `json:"alerts"`
	GroupLabels  map[string]string    `json:"group_labels"`
	GroupKey     string               `json:"group_key"`
}

// receiverAttempt is the actor's persisted attempt record.
type receiverAttempt struct {
	ReceiverInitRequest
	HasFired bool     `json:"has_fired"`
	Retrier  *Retrier `json:"retrier"`
}

// ReceiverController is the actor delivering one notification attempt.
// It renders and posts the payload, retrying with exponential backoff
// off its alarm; permanent config errors and an exhausted budget both
// end in self-deletion with a completion report to the owning group.
type ReceiverController struct {
	state        *actor.State
	provider     amconfig.Provider
	maxRetries   int
	initialDelay time.Duration

	rec    receiverAttempt
	hasRec bool
}

// NewReceiverFactory returns the actor factory for receiver controllers.
// Params: account config provider, retry budget, and first backoff delay.
// Returns: factory for runtime registration.
func NewReceiverFactory(provider amconfig.Provider, maxRetries int, initialDelay time.Duration) actor.Factory {
	return func(state *actor.State) actor.Handler {
		return &ReceiverController{
			state:        state,
			provider:     provider,
			maxRetries:   maxRetries,
			initialDelay: initialDelay,
		}
	}
}

// Load restores the persisted attempt, if any.
// Params: context.
// Returns: storage error.
func (r *ReceiverController) Load(ctx context.Context) error {
	err := r.state.Get(ctx, attemptRecordKey, &r.rec)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err == nil {
		r.hasRec = true
	}
	return err
}

// Handle serves the initialize method.
// Params: method and payload.
// Returns: Ack{OK:false} when there was nothing to send, Ack{OK:true}
// once the attempt is armed.
func (r *ReceiverController) Handle(ctx context.Context, method string, payload json.RawMessage) (any, error) {
	if method != MethodReceiverInitialize {
		return nil, fmt.Errorf("unknown receiver method %q", method)
	}
	var req ReceiverInitRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return r.initialize(ctx, req)
}

func (r *ReceiverController) initialize(ctx context.Context, req ReceiverInitRequest) (any, error) {
	now := r.state.Clock().Now()
	if !req.SendResolved {
		firing := make([]domain.CachedAlert, 0, len(req.Alerts))
		for _, a := range req.Alerts {
			if a.State(now) == domain.AlertStateFiring {
				firing = append(firing, a)
			}
		}
		req.Alerts = firing
		if len(req.Alerts) == 0 && !r.rec.HasFired {
			// Nothing to send and nothing ever sent to retract.
			if err := r.retire(ctx, req.GroupActor, false); err != nil {
				return nil, err
			}
			return account.Ack{OK: false}, nil
		}
	}

	rec := receiverAttempt{
		ReceiverInitRequest: req,
		HasFired:            r.rec.HasFired,
		Retrier:             r.rec.Retrier,
	}
	if rec.Retrier == nil {
		rec.Retrier = NewRetrier(r.maxRetries, r.initialDelay)
	}
	if err := r.state.Put(ctx, attemptRecordKey, rec); err != nil {
		return nil, err
	}
	r.rec = rec
	r.hasRec = true

	if !rec.HasFired {
		// The first dispatch runs off the alarm so initialize returns
		// without waiting on the external receiver.
		if err := r.state.SetAlarm(ctx, now); err != nil {
			return nil, err
		}
	}
	return account.Ack{OK: true}, nil
}

// OnAlarm runs one delivery attempt.
// Params: context.
// Returns: persistence error; send failures are consumed into the
// retry schedule instead of the runtime's alarm retry.
func (r *ReceiverController) OnAlarm(ctx context.Context) error {
	if !r.hasRec {
		return errors.New("receiver alarm fired before initialize")
	}

	if !r.rec.HasFired {
		r.rec.HasFired = true
		if err := r.state.Put(ctx, attemptRecordKey, r.rec); err != nil {
			return err
		}
	}

	err := r.send(ctx)
	if err == nil {
		metrics.NotificationsSentTotal.WithLabelValues(string(r.rec.Ref.Kind)).Inc()
		return r.retire(ctx, r.rec.GroupActor, true)
	}

	if permanent.Is(err) {
		metrics.NotificationsFailedTotal.WithLabelValues(string(r.rec.Ref.Kind), metrics.ReasonPermanent).Inc()
		r.state.Logger().Error("notification permanently failed",
			"receiver", r.rec.ReceiverName, "kind", r.rec.Ref.Kind, "error", err)
		return r.retire(ctx, r.rec.GroupActor, false)
	}

	delay, ok := r.rec.Retrier.Next()
	if !ok {
		metrics.NotificationsFailedTotal.WithLabelValues(string(r.rec.Ref.Kind), metrics.ReasonExhausted).Inc()
		r.state.Logger().Error("notification failed, retries exhausted",
			"receiver", r.rec.ReceiverName, "kind", r.rec.Ref.Kind, "error", err)
		return r.retire(ctx, r.rec.GroupActor, false)
	}
	metrics.NotificationRetriesTotal.WithLabelValues(string(r.rec.Ref.Kind)).Inc()
	r.state.Logger().Warn("notification failed, retrying",
		"receiver", r.rec.ReceiverName, "kind", r.rec.Ref.Kind,
		"delay", delay, "remaining", r.rec.Retrier.Remaining, "error", err)
	if err := r.state.Put(ctx, attemptRecordKey, r.rec); err != nil {
		return err
	}
	return r.state.SetAlarm(ctx, r.state.Clock().Now().Add(delay))
}

// send resolves the receiver config fresh and posts the notification.
// The config may have changed since the group snapshot; a receiver or
// account that vanished is a permanent failure.
func (r *ReceiverController) send(ctx context.Context) error {
	cfg, err := r.provider.ResolveAccount(ctx, r.rec.AccountID)
	if err != nil {
		if errors.Is(err, amconfig.ErrAccountNotFound) {
			return permanent.Mark(err)
		}
		return err
	}
	receiver, ok := cfg.FindReceiver(r.rec.ReceiverName)
	if !ok {
		return permanent.Mark(fmt.Errorf("receiver %q missing from account %q",
			r.rec.ReceiverName, r.rec.AccountID))
	}

	files := func(ctx context.Context, path string) (string, error) {
		body, err := r.provider.LoadFile(ctx, r.rec.AccountID, path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	}

	n, err := notifier.ForKind(r.rec.Ref.Kind, &receiver, r.rec.Ref.Index, files, r.state.Clock().Now)
	if err != nil {
		return err
	}
	return n.Notify(ctx, notifier.Notification{
		AccountID:   r.rec.AccountID,
		Receiver:    r.rec.ReceiverName,
		GroupKey:    r.rec.GroupKey,
		GroupLabels: r.rec.GroupLabels,
		Alerts:      r.rec.Alerts,
	})
}

// retire deletes the actor and reports completion to the owning group.
// The report is asynchronous so the group is never blocked on this
// actor's lock.
func (r *ReceiverController) retire(ctx context.Context, groupActor string, fired bool) error {
	receiverID := strings.TrimPrefix(r.state.Name(), names.ReceiverPrefix)
	if err := r.state.DeleteAll(ctx); err != nil {
		return err
	}
	if groupActor != "" {
		r.state.CallAsync(groupActor, MethodNotifyReceiverDone, NotifyReceiverDoneRequest{
			ReceiverID: receiverID,
			Fired:      fired,
		})
	}
	return nil
}
