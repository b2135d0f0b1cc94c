package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"amroute/internal/actor"
	"amroute/internal/storage"
)

// MethodTimerInitialize arms a silence timer actor.
const MethodTimerInitialize = "initialize"

const timerRecordKey = "timer"

// SilenceTimerInit carries the silence window into its timer actor.
type SilenceTimerInit struct {
	AccountActor string    `json:"account_actor"`
	SilenceID    string    `json:"silence_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
}

// SilenceTimer is the actor marking one silence's start and expiry on
// the account controller. It wakes at startsAt, reports the start, wakes
// again at endsAt, reports the expiry, and retires itself.
type SilenceTimer struct {
	state *actor.State
	rec   SilenceTimerInit
}

// NewSilenceTimer creates the timer handler for one silence actor.
// Params: actor state.
// Returns: handler ready for Load.
func NewSilenceTimer(state *actor.State) *SilenceTimer {
	return &SilenceTimer{state: state}
}

// Load restores the persisted window, if any.
// Params: context.
// Returns: storage error.
func (t *SilenceTimer) Load(ctx context.Context) error {
	err := t.state.Get(ctx, timerRecordKey, &t.rec)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Handle serves the initialize method; re-initialization with a changed
// window simply replaces the stored record and alarm.
// Params: method and payload.
// Returns: acknowledgement or error.
func (t *SilenceTimer) Handle(ctx context.Context, method string, payload json.RawMessage) (any, error) {
	if method != MethodTimerInitialize {
		return nil, fmt.Errorf("unknown silence timer method %q", method)
	}
	var req SilenceTimerInit
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.AccountActor == "" || req.SilenceID == "" {
		return nil, errors.New("silence timer needs account actor and silence id")
	}

	at, ok := t.nextWake(req)
	if !ok {
		// The whole window already passed; nothing to schedule.
		return Ack{OK: false}, nil
	}

	t.rec = req
	if err := t.state.Put(ctx, timerRecordKey, req); err != nil {
		return nil, err
	}
	if current, set, err := t.state.Alarm(ctx); err != nil {
		return nil, err
	} else if !set || !current.Equal(at) {
		if err := t.state.SetAlarm(ctx, at); err != nil {
			return nil, err
		}
	}
	return Ack{OK: true}, nil
}

// OnAlarm reports the window edge that has been crossed. The calls back
// to the account controller are synchronous; the account spawns timers
// asynchronously, so the two never wait on each other.
// Params: context.
// Returns: handler or RPC error.
func (t *SilenceTimer) OnAlarm(ctx context.Context) error {
	if t.rec.AccountActor == "" {
		return errors.New("silence timer fired without an account actor")
	}

	now := t.state.Clock().Now()
	switch {
	case !t.rec.EndsAt.After(now):
		err := t.state.Call(ctx, t.rec.AccountActor, MethodMarkSilenceExpired,
			MarkSilenceRequest{ID: t.rec.SilenceID}, nil)
		if err != nil {
			return err
		}
		return t.state.DeleteAll(ctx)
	case !t.rec.StartsAt.After(now):
		err := t.state.Call(ctx, t.rec.AccountActor, MethodMarkSilenceStarted,
			MarkSilenceRequest{ID: t.rec.SilenceID}, nil)
		if err != nil {
			return err
		}
		return t.state.SetAlarm(ctx, t.rec.EndsAt)
	default:
		return t.state.SetAlarm(ctx, t.rec.StartsAt)
	}
}

// nextWake picks the first window edge still in the future.
func (t *SilenceTimer) nextWake(rec SilenceTimerInit) (time.Time, bool) {
	now := t.state.Clock().Now()
	if rec.StartsAt.After(now) {
		return rec.StartsAt, true
	}
	if rec.EndsAt.After(now) {
		return rec.EndsAt, true
	}
	return time.Time{}, false
}
