package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"amroute/internal/clock"
	"amroute/internal/storage"
)

// Runtime hosts actor instances in process, keyed by name. It guarantees
// strict serialization per actor, cold-start Load before first use, and
// at-least-once delivery of persisted alarms.
type Runtime struct {
	store           storage.Store
	clk             clock.Clock
	log             *slog.Logger
	alarmRetryDelay time.Duration

	mu     sync.Mutex
	kinds  []kind
	actors map[string]*instance
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

type kind struct {
	prefix  string
	factory Factory
}

type instance struct {
	mu      sync.Mutex
	handler Handler
	loaded  bool
}

// NewRuntime creates a runtime over the given store and clock.
// Params: durable store, clock, logger, and alarm retry delay.
// Returns: runtime with no registered kinds.
func NewRuntime(store storage.Store, clk clock.Clock, log *slog.Logger, alarmRetryDelay time.Duration) *Runtime {
	return &Runtime{
		store:           store,
		clk:             clk,
		log:             log,
		alarmRetryDelay: alarmRetryDelay,
		actors:          make(map[string]*instance),
		timers:          make(map[string]*time.Timer),
	}
}

// RegisterKind binds an actor-name prefix to a factory. Longer prefixes
// win when several match.
// Params: name prefix such as "account-" and its factory.
// Returns: nothing.
func (r *Runtime) RegisterKind(prefix string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind{prefix: prefix, factory: factory})
	sort.SliceStable(r.kinds, func(i, j int) bool {
		return len(r.kinds[i].prefix) > len(r.kinds[j].prefix)
	})
}

// Call invokes one RPC method on a named actor, creating and loading the
// instance on demand. The call blocks until the actor is free; no two
// operations on the same actor ever interleave.
// Params: actor name, method, request payload, optional response target.
// Returns: ErrNoResult when the handler had no value, handler errors
// otherwise.
func (r *Runtime) Call(ctx context.Context, name, method string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request for %q: %w", method, name, err)
	}

	inst, err := r.instance(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := r.ensureLoaded(ctx, name, inst); err != nil {
		return err
	}

	result, err := inst.handler.Handle(ctx, method, payload)
	if err != nil {
		return fmt.Errorf("call %q %s: %w", name, method, err)
	}
	if result == nil {
		return fmt.Errorf("call %q %s: %w", name, method, ErrNoResult)
	}
	if out == nil {
		return nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode %s response from %q: %w", method, name, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response from %q: %w", method, name, err)
	}
	return nil
}

// SetAlarm persists the actor's single pending wake time and arms the
// in-process timer, replacing any earlier alarm.
// Params: actor name and wake time.
// Returns: storage error.
func (r *Runtime) SetAlarm(ctx context.Context, name string, at time.Time) error {
	if err := r.store.SetAlarm(ctx, name, at); err != nil {
		return err
	}
	r.armTimer(name, at)
	return nil
}

// DeleteAlarm clears the actor's pending wake time and stops its timer.
// Params: actor name.
// Returns: storage error.
func (r *Runtime) DeleteAlarm(ctx context.Context, name string) error {
	if err := r.store.DeleteAlarm(ctx, name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.timers[name]; ok {
		timer.Stop()
		delete(r.timers, name)
	}
	return nil
}

// ResumeAlarms re-arms every alarm persisted by a previous process run.
// Overdue alarms fire immediately.
// Params: context for the storage scan.
// Returns: storage error.
func (r *Runtime) ResumeAlarms(ctx context.Context) error {
	alarms, err := r.store.Alarms(ctx)
	if err != nil {
		return fmt.Errorf("resume alarms: %w", err)
	}
	for name, at := range alarms {
		r.armTimer(name, at)
	}
	if len(alarms) > 0 {
		r.log.Info("resumed persisted alarms", "count", len(alarms))
	}
	return nil
}

// TriggerAlarm runs the actor's due-alarm path synchronously. The alarm
// must exist and be due; a pending future alarm is left untouched.
// Params: actor name.
// Returns: handler or storage error.
func (r *Runtime) TriggerAlarm(ctx context.Context, name string) error {
	at, err := r.store.GetAlarm(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if at.After(r.clk.Now()) {
		return nil
	}
	return r.runAlarm(ctx, name)
}

// Close stops timers and waits for in-flight alarm work.
// Params: none.
// Returns: nothing.
func (r *Runtime) Close() {
	r.mu.Lock()
	r.closed = true
	for name, timer := range r.timers {
		timer.Stop()
		delete(r.timers, name)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// instance returns the live in-memory actor, creating one via the
// registered factory for the longest matching name prefix.
func (r *Runtime) instance(name string) (*instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.actors[name]; ok {
		return inst, nil
	}
	for _, k := range r.kinds {
		if strings.HasPrefix(name, k.prefix) {
			inst := &instance{handler: k.factory(&State{runtime: r, name: name})}
			r.actors[name] = inst
			return inst, nil
		}
	}
	return nil, fmt.Errorf("no actor kind registered for %q", name)
}

func (r *Runtime) ensureLoaded(ctx context.Context, name string, inst *instance) error {
	if inst.loaded {
		return nil
	}
	if err := inst.handler.Load(ctx); err != nil {
		return fmt.Errorf("load actor %q: %w", name, err)
	}
	inst.loaded = true
	return nil
}

// evict drops the in-memory instance after self-retirement, so any later
// call cold-starts from (now empty) storage.
func (r *Runtime) evict(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, name)
	if timer, ok := r.timers[name]; ok {
		timer.Stop()
		delete(r.timers, name)
	}
}

func (r *Runtime) armTimer(name string, at time.Time) {
	delay := at.Sub(r.clk.Now())
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if timer, ok := r.timers[name]; ok {
		timer.Stop()
	}
	r.timers[name] = time.AfterFunc(delay, func() {
		if !r.beginWork() {
			return
		}
		defer r.wg.Done()
		if err := r.runAlarm(context.Background(), name); err != nil {
			r.log.Error("alarm delivery failed", "actor", name, "error", err)
		}
	})
}

func (r *Runtime) beginWork() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	return true
}

// runAlarm delivers one due alarm under the actor's lock. The persisted
// record outlives the callback: a crash mid-callback leaves it in place
// for the next process's ResumeAlarms, and the record is cleared
// afterwards only when the callback neither re-armed nor retired.
func (r *Runtime) runAlarm(ctx context.Context, name string) error {
	inst, err := r.instance(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	// Re-check under the lock: the alarm may have been cleared or pushed
	// out while this goroutine waited.
	at, err := r.store.GetAlarm(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if at.After(r.clk.Now()) {
		r.armTimer(name, at)
		return nil
	}

	if err := r.ensureLoaded(ctx, name, inst); err != nil {
		return err
	}
	if err := inst.handler.OnAlarm(ctx); err != nil {
		retryAt := r.clk.Now().Add(r.alarmRetryDelay)
		if setErr := r.SetAlarm(ctx, name, retryAt); setErr != nil {
			return errors.Join(err, setErr)
		}
		return fmt.Errorf("alarm for %q failed, retrying at %s: %w", name, retryAt, err)
	}

	// Compare-and-delete: only the record this delivery consumed goes
	// away. A new wake time set inside the callback stays armed.
	current, err := r.store.GetAlarm(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if current.Equal(at) {
		return r.store.DeleteAlarm(ctx, name)
	}
	return nil
}
