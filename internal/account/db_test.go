package account

import (
	"context"
	"testing"
	"time"

	"amroute/internal/amconfig"
	"amroute/internal/clock"
	"amroute/internal/domain"
	"amroute/internal/matcher"
)

type fakeStore struct {
	puts    int
	deletes int
	records map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]any)}
}

func (f *fakeStore) Put(_ context.Context, key string, value any) error {
	f.puts++
	f.records[key] = value
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deletes++
	delete(f.records, key)
	return nil
}

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func firingAlert(labels map[string]string, receivers ...string) domain.ReceiveredAlert {
	return domain.ReceiveredAlert{
		Alert: domain.Alert{
			Fingerprint: domain.LabelsFingerprint(labels),
			Labels:      labels,
			StartsAt:    time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		Receivers: receivers,
	}
}

func TestAddAlertIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	clk := testClock()
	cache := matcher.NewCache()
	silences := NewSilenceDB(newFakeStore(), clk, cache)
	db := NewAlertDB(store, clk, cache, silences)

	alert := firingAlert(map[string]string{"alertname": "foo"}, "web.hook")
	if err := db.AddAlert(ctx, alert); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if store.puts != 1 {
		t.Fatalf("first AddAlert wrote %d records, want 1", store.puts)
	}

	cached, _ := db.GetAlert(alert.Fingerprint)
	if len(cached.History) != 1 || cached.History[0].Type != domain.HistoryEventFiring {
		t.Fatalf("history after first ingest = %+v", cached.History)
	}

	if err := db.AddAlert(ctx, alert); err != nil {
		t.Fatalf("AddAlert repeat: %v", err)
	}
	if store.puts != 1 {
		t.Fatalf("idempotent re-ingestion wrote storage: %d puts", store.puts)
	}
	cached, _ = db.GetAlert(alert.Fingerprint)
	if len(cached.History) != 1 {
		t.Fatalf("idempotent re-ingestion grew history: %+v", cached.History)
	}
}

func TestAddAlertStateTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := testClock()
	cache := matcher.NewCache()
	db := NewAlertDB(newFakeStore(), clk, cache, NewSilenceDB(newFakeStore(), clk, cache))

	alert := firingAlert(map[string]string{"alertname": "foo"})
	if err := db.AddAlert(ctx, alert); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if ok, err := db.Acknowledge(ctx, alert.Fingerprint, "casey"); err != nil || !ok {
		t.Fatalf("Acknowledge firing alert = %v, %v", ok, err)
	}

	resolved := alert
	resolved.EndsAt = clk.Now().Add(-time.Minute)
	if err := db.AddAlert(ctx, resolved); err != nil {
		t.Fatalf("AddAlert resolved: %v", err)
	}

	cached, _ := db.GetAlert(alert.Fingerprint)
	if cached.AcknowledgedBy != "" {
		t.Fatalf("acknowledgement survived resolve: %q", cached.AcknowledgedBy)
	}
	want := []domain.HistoryEventType{
		domain.HistoryEventFiring,
		domain.HistoryEventAcknowledged,
		domain.HistoryEventResolved,
	}
	if len(cached.History) != len(want) {
		t.Fatalf("history = %+v, want %v", cached.History, want)
	}
	for i, event := range cached.History {
		if event.Type != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, event.Type, want[i])
		}
	}

	// Resolved alerts cannot be acknowledged.
	if ok, err := db.Acknowledge(ctx, alert.Fingerprint, "casey"); err != nil || ok {
		t.Fatalf("Acknowledge resolved alert = %v, %v", ok, err)
	}
}

func TestSilenceActivationWindow(t *testing.T) {
	t.Parallel()

	clk := testClock()
	cache := matcher.NewCache()
	db := NewSilenceDB(newFakeStore(), clk, cache)
	db.Init(map[string]domain.Silence{
		"s1": {
			ID:       "s1",
			Matchers: []domain.Matcher{{Name: "alertname", Value: "foo", IsEqual: true}},
			StartsAt: clk.Now().Add(time.Hour),
			EndsAt:   clk.Now().Add(2 * time.Hour),
		},
	})

	alert := domain.Alert{Labels: map[string]string{"alertname": "foo"}}

	silenced, err := db.IsSilenced(alert)
	if err != nil || silenced {
		t.Fatalf("silenced before window: %v, %v", silenced, err)
	}

	clk.Advance(90 * time.Minute)
	silenced, err = db.IsSilenced(alert)
	if err != nil || !silenced {
		t.Fatalf("not silenced inside window: %v, %v", silenced, err)
	}

	clk.Advance(time.Hour)
	silenced, err = db.IsSilenced(alert)
	if err != nil || silenced {
		t.Fatalf("silenced after window: %v, %v", silenced, err)
	}
}

func TestSilenceIdempotentUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := testClock()
	store := newFakeStore()
	db := NewSilenceDB(store, clk, matcher.NewCache())

	s := domain.Silence{
		Matchers: []domain.Matcher{{Name: "a", Value: "b", IsEqual: true}},
		StartsAt: clk.Now(),
		EndsAt:   clk.Now().Add(time.Hour),
		Comment:  "deploy window",
	}
	updated, id, err := db.AddSilence(ctx, s)
	if err != nil || !updated || id == "" {
		t.Fatalf("AddSilence create = %v, %q, %v", updated, id, err)
	}

	same := s
	same.ID = id
	updated, _, err = db.AddSilence(ctx, same)
	if err != nil {
		t.Fatalf("AddSilence repeat: %v", err)
	}
	if updated {
		t.Fatalf("field-identical update reported a change")
	}
	if store.puts != 1 {
		t.Fatalf("idempotent update wrote storage: %d puts", store.puts)
	}

	unknown := s
	unknown.ID = "no-such-id"
	if _, _, err := db.AddSilence(ctx, unknown); err == nil {
		t.Fatalf("update of unknown silence id accepted")
	}
}

func TestAlertSilencePatching(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := testClock()
	cache := matcher.NewCache()
	db := NewAlertDB(newFakeStore(), clk, cache, NewSilenceDB(newFakeStore(), clk, cache))

	alert := firingAlert(map[string]string{"alertname": "foo"})
	other := firingAlert(map[string]string{"alertname": "bar"})
	if err := db.AddAlert(ctx, alert); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if err := db.AddAlert(ctx, other); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}

	active := domain.Silence{
		ID:       "s1",
		Matchers: []domain.Matcher{{Name: "alertname", Value: "foo", IsEqual: true}},
		StartsAt: clk.Now().Add(-time.Minute),
		EndsAt:   clk.Now().Add(time.Hour),
	}
	if err := db.AddSilence(ctx, active); err != nil {
		t.Fatalf("AddSilence: %v", err)
	}

	cached, _ := db.GetAlert(alert.Fingerprint)
	if len(cached.SilencedBy) != 1 || cached.SilencedBy[0] != "s1" {
		t.Fatalf("silencedBy = %v", cached.SilencedBy)
	}
	cached, _ = db.GetAlert(other.Fingerprint)
	if len(cached.SilencedBy) != 0 {
		t.Fatalf("non-matching alert silenced: %v", cached.SilencedBy)
	}

	// Future silences are a no-op.
	future := active
	future.ID = "s2"
	future.StartsAt = clk.Now().Add(time.Hour)
	if err := db.AddSilence(ctx, future); err != nil {
		t.Fatalf("AddSilence future: %v", err)
	}
	cached, _ = db.GetAlert(alert.Fingerprint)
	if len(cached.SilencedBy) != 1 {
		t.Fatalf("future silence applied: %v", cached.SilencedBy)
	}

	if err := db.MarkSilenceExpired(ctx, "s1"); err != nil {
		t.Fatalf("MarkSilenceExpired: %v", err)
	}
	cached, _ = db.GetAlert(alert.Fingerprint)
	if len(cached.SilencedBy) != 0 {
		t.Fatalf("expired silence still applied: %v", cached.SilencedBy)
	}
}

func TestGetAlertsFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := testClock()
	cache := matcher.NewCache()
	db := NewAlertDB(newFakeStore(), clk, cache, NewSilenceDB(newFakeStore(), clk, cache))

	firing := firingAlert(map[string]string{"alertname": "foo", "severity": "critical"}, "pager")
	resolved := firingAlert(map[string]string{"alertname": "bar"}, "web.hook")
	resolved.EndsAt = clk.Now().Add(-time.Minute)
	if err := db.AddAlert(ctx, firing); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if err := db.AddAlert(ctx, resolved); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}

	all, err := db.GetAlerts(domain.GetAlertsOptions{})
	if err != nil || len(all) != 2 {
		t.Fatalf("unfiltered GetAlerts = %d alerts, %v", len(all), err)
	}

	onlyFiring, err := db.GetAlerts(domain.GetAlertsOptions{Resolved: domain.Exclude()})
	if err != nil || len(onlyFiring) != 1 || onlyFiring[0].Fingerprint != firing.Fingerprint {
		t.Fatalf("resolved=false returned %+v, %v", onlyFiring, err)
	}

	byFilter, err := db.GetAlerts(domain.GetAlertsOptions{
		Filter: []domain.Matcher{{Name: "severity", Value: "critical", IsEqual: true}},
	})
	if err != nil || len(byFilter) != 1 {
		t.Fatalf("filter matchers returned %d alerts, %v", len(byFilter), err)
	}

	byReceiver, err := db.GetAlerts(domain.GetAlertsOptions{Receiver: "pag.*"})
	if err != nil || len(byReceiver) != 1 || byReceiver[0].Fingerprint != firing.Fingerprint {
		t.Fatalf("receiver filter returned %+v, %v", byReceiver, err)
	}

	byFingerprint, err := db.GetAlerts(domain.GetAlertsOptions{
		Fingerprints: []domain.Fingerprint{resolved.Fingerprint},
	})
	if err != nil || len(byFingerprint) != 1 || byFingerprint[0].Fingerprint != resolved.Fingerprint {
		t.Fatalf("fingerprint fast path returned %+v, %v", byFingerprint, err)
	}
}

func TestInhibitionPropagation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := matcher.NewCache()
	db := NewInhibitionDB(newFakeStore(), cache)

	rule := amconfig.InhibitRule{
		SourceMatch: map[string]string{"severity": "critical"},
		TargetMatch: map[string]string{"severity": "warning"},
		Equal:       []string{"service"},
	}
	if err := db.SyncRules(ctx, []amconfig.InhibitRule{rule}); err != nil {
		t.Fatalf("SyncRules: %v", err)
	}

	source := firingAlert(map[string]string{"severity": "critical", "service": "db"})
	if err := db.ProcessAlert(ctx, source, domain.AlertStateFiring); err != nil {
		t.Fatalf("ProcessAlert: %v", err)
	}

	lookup := func(fp domain.Fingerprint) (map[string]string, bool) {
		if fp == source.Fingerprint {
			return source.Labels, true
		}
		return nil, false
	}

	sameService := map[string]string{"severity": "warning", "service": "db"}
	inhibitors, err := db.AlertsThatInhibit(sameService, lookup)
	if err != nil {
		t.Fatalf("AlertsThatInhibit: %v", err)
	}
	if len(inhibitors) != 1 || inhibitors[0] != source.Fingerprint {
		t.Fatalf("inhibitors = %v, want source fingerprint", inhibitors)
	}

	// The equal constraint blocks targets on a different service.
	otherService := map[string]string{"severity": "warning", "service": "web"}
	inhibitors, err = db.AlertsThatInhibit(otherService, lookup)
	if err != nil {
		t.Fatalf("AlertsThatInhibit: %v", err)
	}
	if len(inhibitors) != 0 {
		t.Fatalf("equal constraint ignored: %v", inhibitors)
	}

	// A resolved source stops inhibiting.
	if err := db.ProcessAlert(ctx, source, domain.AlertStateResolved); err != nil {
		t.Fatalf("ProcessAlert resolved: %v", err)
	}
	inhibitors, err = db.AlertsThatInhibit(sameService, lookup)
	if err != nil {
		t.Fatalf("AlertsThatInhibit: %v", err)
	}
	if len(inhibitors) != 0 {
		t.Fatalf("resolved source still inhibits: %v", inhibitors)
	}
}

func TestAlertGroupMergeFold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	db := NewAlertGroupDB(store)

	fpA := domain.LabelsFingerprint(map[string]string{"alertname": "a"})
	fpB := domain.LabelsFingerprint(map[string]string{"alertname": "b"})
	group := domain.AlertGroup{
		NodeID:      "node1",
		Receiver:    "web.hook",
		LabelNames:  []string{"service"},
		LabelValues: []string{"db"},
		Alerts: []domain.DehydratedAlert{
			{Fingerprint: fpA, State: domain.AlertStateFiring},
			{Fingerprint: fpB, State: domain.AlertStateResolved},
		},
	}
	if err := db.MergeAlertGroup(ctx, group); err != nil {
		t.Fatalf("MergeAlertGroup: %v", err)
	}

	groups := db.GetAlertGroups(nil)
	if len(groups) != 1 || len(groups[0].Alerts) != 1 || groups[0].Alerts[0].Fingerprint != fpA {
		t.Fatalf("new group kept resolved alerts: %+v", groups)
	}

	// Resolving the last firing alert deletes the group.
	group.Alerts = []domain.DehydratedAlert{{Fingerprint: fpA, State: domain.AlertStateResolved}}
	if err := db.MergeAlertGroup(ctx, group); err != nil {
		t.Fatalf("MergeAlertGroup resolve: %v", err)
	}
	if groups := db.GetAlertGroups(nil); len(groups) != 0 {
		t.Fatalf("empty group survived: %+v", groups)
	}
	if store.deletes != 1 {
		t.Fatalf("empty group not deleted from storage: %d deletes", store.deletes)
	}
}
