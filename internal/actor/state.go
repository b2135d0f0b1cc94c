package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"amroute/internal/clock"
	"amroute/internal/storage"
)

// State is one actor's handle on its durable storage, alarm, and peers.
// Every key it touches is namespaced under the actor's name, so distinct
// actors can never read or clobber each other's records.
type State struct {
	runtime *Runtime
	name    string
}

// Name returns the actor's full name.
// Params: none.
// Returns: runtime-unique actor name.
func (s *State) Name() string {
	return s.name
}

// Clock returns the runtime clock.
// Params: none.
// Returns: injected clock shared by all actors.
func (s *State) Clock() clock.Clock {
	return s.runtime.clk
}

// Logger returns a logger tagged with the actor's name.
// Params: none.
// Returns: scoped slog logger.
func (s *State) Logger() *slog.Logger {
	return s.runtime.log.With("actor", s.name)
}

// Get reads and decodes one namespaced record.
// Params: record key and decode target.
// Returns: storage.ErrNotFound when absent, decode error otherwise.
func (s *State) Get(ctx context.Context, key string, out any) error {
	body, err := s.runtime.store.Get(ctx, s.namespaced(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode record %q of %q: %w", key, s.name, err)
	}
	return nil
}

// Put encodes and writes one namespaced record.
// Params: record key and value.
// Returns: encode or storage error.
func (s *State) Put(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record %q of %q: %w", key, s.name, err)
	}
	return s.runtime.store.Put(ctx, s.namespaced(key), body)
}

// Delete removes one namespaced record.
// Params: record key.
// Returns: storage error.
func (s *State) Delete(ctx context.Context, key string) error {
	return s.runtime.store.Delete(ctx, s.namespaced(key))
}

// List returns raw records under a key prefix, keys stripped of the
// actor namespace.
// Params: record key prefix.
// Returns: key to raw JSON map.
func (s *State) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	entries, err := s.runtime.store.List(ctx, s.namespaced(prefix))
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(entries))
	for key, value := range entries {
		out[strings.TrimPrefix(key, s.name+"/")] = json.RawMessage(value)
	}
	return out, nil
}

// SetAlarm schedules the actor's single wake time, replacing any earlier
// one.
// Params: wake time.
// Returns: storage error.
func (s *State) SetAlarm(ctx context.Context, at time.Time) error {
	return s.runtime.SetAlarm(ctx, s.name, at)
}

// Alarm reads the pending wake time, if any.
// Params: context.
// Returns: wake time and presence flag.
func (s *State) Alarm(ctx context.Context) (time.Time, bool, error) {
	at, err := s.runtime.store.GetAlarm(ctx, s.name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return at, true, nil
}

// DeleteAlarm clears the pending wake time.
// Params: context.
// Returns: storage error.
func (s *State) DeleteAlarm(ctx context.Context) error {
	return s.runtime.DeleteAlarm(ctx, s.name)
}

// DeleteAll retires the actor: every namespaced record and the alarm are
// removed and the in-memory instance is evicted, so a later call starts
// cold from empty storage.
// Params: context.
// Returns: first storage error.
func (s *State) DeleteAll(ctx context.Context) error {
	keys, err := s.runtime.store.Keys(ctx, s.name+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.runtime.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := s.runtime.DeleteAlarm(ctx, s.name); err != nil {
		return err
	}
	s.runtime.evict(s.name)
	return nil
}

// Call performs a synchronous RPC to another actor. Calling back into an
// actor that is waiting on the current one deadlocks; completion
// callbacks use CallAsync instead.
// Params: target actor, method, request, optional response target.
// Returns: target handler error or ErrNoResult.
func (s *State) Call(ctx context.Context, name, method string, in, out any) error {
	return s.runtime.Call(ctx, name, method, in, out)
}

// CallAsync performs a fire-and-forget RPC after the current handler
// releases the actor, logging any failure. Used for completion reports
// where the caller must not block on the target's lock.
// Params: target actor, method, and request.
// Returns: nothing.
func (s *State) CallAsync(name, method string, in any) {
	if !s.runtime.beginWork() {
		return
	}
	go func() {
		defer s.runtime.wg.Done()
		if err := s.runtime.Call(context.Background(), name, method, in, nil); err != nil &&
			!errors.Is(err, ErrNoResult) {
			s.Logger().Error("async call failed", "target", name, "method", method, "error", err)
		}
	}()
}

func (s *State) namespaced(key string) string {
	return s.name + "/" + key
}
