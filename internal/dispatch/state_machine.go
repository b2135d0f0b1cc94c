// Package dispatch holds the timer-driven notification side: the
// per-group state machine deciding which alerts are due, the group
// controller actor that flushes them, and the receiver controller actor
// that delivers one notification attempt with retries.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"amroute/internal/domain"
)

const alertRecordPrefix = "alert-"

// alertStore is the slice of actor state the machine persists through.
type alertStore interface {
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// GroupedAlert is one alert tracked inside a group, with its queue
// membership.
type GroupedAlert struct {
	domain.DehydratedAlert
	Pending bool `json:"pending"`
}

// StateMachine tracks which alerts in one group still owe a
// notification. Alerts are either pending (queued, not yet notified) or
// active (notified and still firing); flushing drains the pending queue
// in FIFO order.
type StateMachine struct {
	store   alertStore
	pending []domain.Fingerprint
	active  []domain.Fingerprint
	records map[domain.Fingerprint]*GroupedAlert
}

// NewStateMachine creates an empty machine.
// Params: record persistence.
// Returns: machine ready for Init.
func NewStateMachine(store alertStore) *StateMachine {
	return &StateMachine{store: store, records: make(map[domain.Fingerprint]*GroupedAlert)}
}

// Init replaces the tracked set with cold-start records. The FIFO order
// of the original queue is not persisted; fingerprint order stands in
// for it after a restart.
// Params: grouped alerts keyed by fingerprint.
// Returns: nothing.
func (m *StateMachine) Init(records map[domain.Fingerprint]*GroupedAlert) {
	m.records = records
	m.pending = m.pending[:0]
	m.active = m.active[:0]

	fps := make([]domain.Fingerprint, 0, len(records))
	for fp := range records {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
	for _, fp := range fps {
		if records[fp].Pending {
			m.pending = append(m.pending, fp)
		} else {
			m.active = append(m.active, fp)
		}
	}
}

// HandlePendingAlert feeds one routed alert through the transition
// rules: unseen firing alerts queue as pending, unseen resolved alerts
// are ignored, a pending alert that resolves before ever notifying is
// retracted, and an active alert that resolves moves back to pending so
// its resolution gets notified.
// Params: dehydrated alert.
// Returns: persistence error.
func (m *StateMachine) HandlePendingAlert(ctx context.Context, alert domain.DehydratedAlert) error {
	fp := alert.Fingerprint
	nowResolved := alert.State == domain.AlertStateResolved
	current := m.records[fp]

	if current == nil {
		if nowResolved {
			return nil
		}
		rec := &GroupedAlert{DehydratedAlert: alert, Pending: true}
		if err := m.store.Put(ctx, alertRecordKey(fp), rec); err != nil {
			return err
		}
		m.records[fp] = rec
		m.pending = append(m.pending, fp)
		return nil
	}

	wasResolved := current.State == domain.AlertStateResolved
	if !nowResolved {
		// Re-ingested without a status change; membership stays put.
		return nil
	}

	if m.isPending(fp) {
		if wasResolved {
			return nil
		}
		if err := m.store.Delete(ctx, alertRecordKey(fp)); err != nil {
			return err
		}
		delete(m.records, fp)
		m.pending = withoutFingerprint(m.pending, fp)
		return nil
	}

	if !wasResolved {
		rec := &GroupedAlert{DehydratedAlert: alert, Pending: true}
		if err := m.store.Put(ctx, alertRecordKey(fp), rec); err != nil {
			return err
		}
		m.records[fp] = rec
		m.pending = append(m.pending, fp)
		m.active = withoutFingerprint(m.active, fp)
	}
	return nil
}

// FlushPendingAlerts takes up to n pending alerts (all, when n is not
// positive) in FIFO order. Flushed alerts that still fire move into the
// active set; resolved ones leave the machine for good once emitted.
// Params: page size.
// Returns: the emitted batch or a persistence error.
func (m *StateMachine) FlushPendingAlerts(ctx context.Context, n int) ([]domain.DehydratedAlert, error) {
	if n <= 0 || n > len(m.pending) {
		n = len(m.pending)
	}
	batch := m.pending[:n]

	out := make([]domain.DehydratedAlert, 0, n)
	for _, fp := range batch {
		rec := m.records[fp]
		if rec == nil {
			return nil, fmt.Errorf("pending alert %s has no record", fp)
		}
		out = append(out, rec.DehydratedAlert)

		if rec.State == domain.AlertStateFiring {
			rec.Pending = false
			if err := m.store.Put(ctx, alertRecordKey(fp), rec); err != nil {
				return nil, err
			}
			m.active = append(m.active, fp)
		} else {
			if err := m.store.Delete(ctx, alertRecordKey(fp)); err != nil {
				return nil, err
			}
			delete(m.records, fp)
		}
	}
	m.pending = m.pending[n:]
	return out, nil
}

// HasPendingAlerts reports whether any alert still owes a notification.
func (m *StateMachine) HasPendingAlerts() bool {
	return len(m.pending) > 0
}

// HasActiveAlerts reports whether any notified alert still fires.
func (m *StateMachine) HasActiveAlerts() bool {
	return len(m.active) > 0
}

func (m *StateMachine) isPending(fp domain.Fingerprint) bool {
	for _, p := range m.pending {
		if p == fp {
			return true
		}
	}
	return false
}

func withoutFingerprint(list []domain.Fingerprint, fp domain.Fingerprint) []domain.Fingerprint {
	out := make([]domain.Fingerprint, 0, len(list))
	for _, v := range list {
		if v != fp {
			out = append(out, v)
		}
	}
	return out
}

func alertRecordKey(fp domain.Fingerprint) string {
	return alertRecordPrefix + fp.String()
}
