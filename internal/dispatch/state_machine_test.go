package dispatch

import (
	"context"
	"testing"

	"amroute/internal/domain"
)

type fakeAlertStore struct {
	puts    int
	deletes int
}

func (f *fakeAlertStore) Put(_ context.Context, _ string, _ any) error {
	f.puts++
	return nil
}

func (f *fakeAlertStore) Delete(_ context.Context, _ string) error {
	f.deletes++
	return nil
}

func fingerprintOf(name string) domain.Fingerprint {
	return domain.LabelsFingerprint(map[string]string{"alertname": name})
}

func TestStateMachineLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewStateMachine(&fakeAlertStore{})
	fp := fingerprintOf("foo")

	if err := m.HandlePendingAlert(ctx, domain.DehydratedAlert{Fingerprint: fp, State: domain.AlertStateFiring}); err != nil {
		t.Fatalf("HandlePendingAlert: %v", err)
	}
	if !m.HasPendingAlerts() || m.HasActiveAlerts() {
		t.Fatalf("new firing alert: pending=%v active=%v", m.HasPendingAlerts(), m.HasActiveAlerts())
	}

	batch, err := m.FlushPendingAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("FlushPendingAlerts: %v", err)
	}
	if len(batch) != 1 || batch[0].State != domain.AlertStateFiring {
		t.Fatalf("first flush = %+v", batch)
	}
	if m.HasPendingAlerts() || !m.HasActiveAlerts() {
		t.Fatalf("after first flush: pending=%v active=%v", m.HasPendingAlerts(), m.HasActiveAlerts())
	}

	// Resolution of a notified alert queues a resolved notification.
	if err := m.HandlePendingAlert(ctx, domain.DehydratedAlert{Fingerprint: fp, State: domain.AlertStateResolved}); err != nil {
		t.Fatalf("HandlePendingAlert resolve: %v", err)
	}
	if !m.HasPendingAlerts() || m.HasActiveAlerts() {
		t.Fatalf("after resolve: pending=%v active=%v", m.HasPendingAlerts(), m.HasActiveAlerts())
	}

	batch, err = m.FlushPendingAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("FlushPendingAlerts: %v", err)
	}
	if len(batch) != 1 || batch[0].State != domain.AlertStateResolved {
		t.Fatalf("second flush = %+v", batch)
	}
	if m.HasPendingAlerts() || m.HasActiveAlerts() {
		t.Fatalf("machine not empty after resolved flush")
	}

	// The alert can fire again from scratch.
	if err := m.HandlePendingAlert(ctx, domain.DehydratedAlert{Fingerprint: fp, State: domain.AlertStateFiring}); err != nil {
		t.Fatalf("HandlePendingAlert refire: %v", err)
	}
	batch, err = m.FlushPendingAlerts(ctx, 0)
	if err != nil || len(batch) != 1 || batch[0].State != domain.AlertStateFiring {
		t.Fatalf("refire flush = %+v, %v", batch, err)
	}
}

func TestStateMachineRetractsUnnotifiedResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeAlertStore{}
	m := NewStateMachine(store)
	fp := fingerprintOf("flappy")

	if err := m.HandlePendingAlert(ctx, domain.DehydratedAlert{Fingerprint: fp, State: domain.AlertStateFiring}); err != nil {
		t.Fatalf("HandlePendingAlert: %v", err)
	}
	if err := m.HandlePendingAlert(ctx, domain.DehydratedAlert{Fingerprint: fp, State: domain.AlertStateResolved}); err != nil {
		t.Fatalf("HandlePendingAlert resolve: %v", err)
	}

	if m.HasPendingAlerts() || m.HasActiveAlerts() {
		t.Fatalf("retracted alert still tracked")
	}
	batch, err := m.FlushPendingAlerts(ctx, 0)
	if err != nil || len(batch) != 0 {
		t.Fatalf("flush after retraction = %+v, %v", batch, err)
	}
	if store.deletes != 1 {
		t.Fatalf("retraction should delete the record once, got %d", store.deletes)
	}

	// A resolve for an alert never seen is ignored outright.
	other := fingerprintOf("unseen")
	if err := m.HandlePendingAlert(ctx, domain.DehydratedAlert{Fingerprint: other, State: domain.AlertStateResolved}); err != nil {
		t.Fatalf("HandlePendingAlert unseen resolve: %v", err)
	}
	if m.HasPendingAlerts() {
		t.Fatalf("unseen resolved alert queued a notification")
	}
}

func TestStateMachineFlushPaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewStateMachine(&fakeAlertStore{})
	names := []string{"a", "b", "c"}
	for _, name := range names {
		err := m.HandlePendingAlert(ctx, domain.DehydratedAlert{
			Fingerprint: fingerprintOf(name),
			State:       domain.AlertStateFiring,
		})
		if err != nil {
			t.Fatalf("HandlePendingAlert: %v", err)
		}
	}

	first, err := m.FlushPendingAlerts(ctx, 2)
	if err != nil || len(first) != 2 {
		t.Fatalf("page 1 = %+v, %v", first, err)
	}
	if first[0].Fingerprint != fingerprintOf("a") || first[1].Fingerprint != fingerprintOf("b") {
		t.Fatalf("flush broke FIFO order: %+v", first)
	}
	if !m.HasPendingAlerts() {
		t.Fatalf("third alert lost after partial flush")
	}

	second, err := m.FlushPendingAlerts(ctx, 2)
	if err != nil || len(second) != 1 || second[0].Fingerprint != fingerprintOf("c") {
		t.Fatalf("page 2 = %+v, %v", second, err)
	}
}

func TestRetrierExponentialBudget(t *testing.T) {
	t.Parallel()

	r := NewRetrier(3, 200)
	var delays []int64
	for {
		delay, ok := r.Next()
		if !ok {
			break
		}
		delays = append(delays, int64(delay))
	}
	want := []int64{200, 400, 800}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
}
