package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"amroute/internal/account"
	"amroute/internal/actor"
	"amroute/internal/amconfig"
	"amroute/internal/clock"
	"amroute/internal/domain"
	"amroute/internal/names"
	"amroute/internal/notifier"
	"amroute/internal/routing"
	"amroute/internal/storage"
)

// staticProvider serves one fixed account config.
type staticProvider struct {
	cfg amconfig.Config
}

func (p staticProvider) ResolveAccount(_ context.Context, _ string) (amconfig.Config, error) {
	return p.cfg, nil
}

func (p staticProvider) LoadFile(_ context.Context, _, path string) ([]byte, error) {
	return nil, fmt.Errorf("no uploaded file %q", path)
}

// fakeAccount answers get-alerts from a fixed alert set.
type fakeAccount struct {
	alerts map[domain.Fingerprint]*domain.CachedAlert
}

func (a *fakeAccount) Load(context.Context) error { return nil }

func (a *fakeAccount) Handle(_ context.Context, method string, payload json.RawMessage) (any, error) {
	if method != account.MethodGetAlerts {
		return nil, fmt.Errorf("unexpected account method %q", method)
	}
	var opts domain.GetAlertsOptions
	if err := json.Unmarshal(payload, &opts); err != nil {
		return nil, err
	}
	out := make([]domain.CachedAlert, 0, len(opts.Fingerprints))
	for _, fp := range opts.Fingerprints {
		if cached, ok := a.alerts[fp]; ok {
			out = append(out, *cached)
		}
	}
	return out, nil
}

func (a *fakeAccount) OnAlarm(context.Context) error {
	return errors.New("fake account has no alarm")
}

// fakeGroup records receiver completion reports.
type fakeGroup struct {
	done chan NotifyReceiverDoneRequest
}

func (g *fakeGroup) Load(context.Context) error { return nil }

func (g *fakeGroup) Handle(_ context.Context, method string, payload json.RawMessage) (any, error) {
	if method != MethodNotifyReceiverDone {
		return nil, fmt.Errorf("unexpected group method %q", method)
	}
	var req NotifyReceiverDoneRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	g.done <- req
	return account.Ack{OK: true}, nil
}

func (g *fakeGroup) OnAlarm(context.Context) error {
	return errors.New("fake group has no alarm")
}

type webhookHit struct {
	Version  string `json:"version"`
	Status   string `json:"status"`
	Receiver string `json:"receiver"`
	Alerts   []struct {
		Status string `json:"status"`
	} `json:"alerts"`
}

func waitHit(t *testing.T, hits <-chan webhookHit) webhookHit {
	t.Helper()
	select {
	case hit := <-hits:
		return hit
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for webhook delivery")
		return webhookHit{}
	}
}

func webhookReceiverConfig(url string) amconfig.Config {
	return amconfig.Config{
		Receivers: []amconfig.Receiver{{
			Name:           "web.hook",
			WebhookConfigs: []amconfig.WebhookConfig{{URL: url}},
		}},
	}
}

func TestGroupNotificationLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hits := make(chan webhookHit, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hit webhookHit
		if err := json.NewDecoder(r.Body).Decode(&hit); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		hits <- hit
	}))
	t.Cleanup(server.Close)

	store := storage.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rt := actor.NewRuntime(store, clk, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	t.Cleanup(rt.Close)

	provider := staticProvider{cfg: webhookReceiverConfig(server.URL)}
	labels := map[string]string{"alertname": "HighLatency", "service": "db"}
	fp := domain.LabelsFingerprint(labels)
	cached := &domain.CachedAlert{
		ReceiveredAlert: domain.ReceiveredAlert{
			Alert: domain.Alert{
				Fingerprint: fp,
				Labels:      labels,
				StartsAt:    clk.Now().Add(-time.Hour),
			},
			Receivers: []string{"web.hook"},
		},
	}
	acct := &fakeAccount{alerts: map[domain.Fingerprint]*domain.CachedAlert{fp: cached}}

	rt.RegisterKind(names.AlertGroupPrefix, NewGroupFactory(provider, 0))
	rt.RegisterKind(names.ReceiverPrefix, NewReceiverFactory(provider, 3, time.Millisecond))
	rt.RegisterKind(names.AccountPrefix, func(*actor.State) actor.Handler { return acct })

	route := routing.FlatRoute{
		Receiver:      "web.hook",
		GroupBy:       []string{"service"},
		GroupWait:     30 * time.Second,
		GroupInterval: 5 * time.Minute,
	}
	groupName := names.AlertGroup("acme", "node1", []string{"db"})
	group := domain.AlertGroup{
		NodeID:      "node1",
		Receiver:    "web.hook",
		LabelNames:  []string{"service"},
		LabelValues: []string{"db"},
		Alerts:      []domain.DehydratedAlert{{Fingerprint: fp, State: domain.AlertStateFiring}},
	}

	var ack account.Ack
	err := rt.Call(ctx, groupName, MethodGroupInitialize,
		GroupInitRequest{AccountID: "acme", Route: route, Group: group}, &ack)
	if err != nil || !ack.OK {
		t.Fatalf("group initialize = %+v, %v", ack, err)
	}

	// Re-initializing with a different label set must fail hard.
	mismatched := group
	mismatched.LabelValues = []string{"web"}
	err = rt.Call(ctx, groupName, MethodGroupInitialize,
		GroupInitRequest{AccountID: "acme", Route: route, Group: mismatched}, nil)
	if err == nil {
		t.Fatalf("label mismatch accepted")
	}

	// Nothing is sent before group_wait elapses.
	if err := rt.TriggerAlarm(ctx, groupName); err != nil {
		t.Fatalf("TriggerAlarm: %v", err)
	}
	select {
	case hit := <-hits:
		t.Fatalf("notification before group_wait: %+v", hit)
	default:
	}

	clk.Advance(30 * time.Second)
	if err := rt.TriggerAlarm(ctx, groupName); err != nil {
		t.Fatalf("TriggerAlarm: %v", err)
	}
	hit := waitHit(t, hits)
	if hit.Version != "4" || hit.Status != "firing" || hit.Receiver != "web.hook" || len(hit.Alerts) != 1 {
		t.Fatalf("firing notification = %+v", hit)
	}

	// Resolve the alert and deliver its resolved notification.
	cached.EndsAt = clk.Now()
	group.Alerts = []domain.DehydratedAlert{{Fingerprint: fp, State: domain.AlertStateResolved}}
	err = rt.Call(ctx, groupName, MethodGroupInitialize,
		GroupInitRequest{AccountID: "acme", Route: route, Group: group}, &ack)
	if err != nil || !ack.OK {
		t.Fatalf("group re-initialize = %+v, %v", ack, err)
	}

	clk.Advance(5 * time.Minute)
	if err := rt.TriggerAlarm(ctx, groupName); err != nil {
		t.Fatalf("TriggerAlarm: %v", err)
	}
	hit = waitHit(t, hits)
	if hit.Status != "resolved" {
		t.Fatalf("resolved notification = %+v", hit)
	}

	// With nothing pending or active left, the group retired itself.
	keys, err := store.Keys(ctx, groupName+"/")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("retired group left records: %v", keys)
	}
}

func TestReceiverRetryExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	attempts := make(chan struct{}, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts <- struct{}{}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	store := storage.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rt := actor.NewRuntime(store, clk, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	t.Cleanup(rt.Close)

	group := &fakeGroup{done: make(chan NotifyReceiverDoneRequest, 1)}
	provider := staticProvider{cfg: webhookReceiverConfig(server.URL)}
	rt.RegisterKind(names.ReceiverPrefix, NewReceiverFactory(provider, 2, time.Millisecond))
	rt.RegisterKind(names.AlertGroupPrefix, func(*actor.State) actor.Handler { return group })

	labels := map[string]string{"alertname": "Down"}
	fp := domain.LabelsFingerprint(labels)
	alert := domain.CachedAlert{
		ReceiveredAlert: domain.ReceiveredAlert{
			Alert: domain.Alert{Fingerprint: fp, Labels: labels, StartsAt: clk.Now().Add(-time.Minute)},
		},
	}
	receiverName := names.Receiver("attempt-1")
	groupActor := names.AlertGroup("acme", "node1", nil)

	var ack account.Ack
	err := rt.Call(ctx, receiverName, MethodReceiverInitialize, ReceiverInitRequest{
		AccountID:    "acme",
		GroupActor:   groupActor,
		ReceiverName: "web.hook",
		Ref:          notifier.KindRef{Kind: notifier.KindWebhook},
		SendResolved: true,
		Alerts:       []domain.CachedAlert{alert},
		GroupKey:     groupActor,
	}, &ack)
	if err != nil || !ack.OK {
		t.Fatalf("receiver initialize = %+v, %v", ack, err)
	}

	// Initial attempt plus the full retry budget, each failing.
	for attempt := 0; attempt < 3; attempt++ {
		select {
		case <-attempts:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for attempt %d", attempt+1)
		}
		clk.Advance(time.Second)
	}

	select {
	case report := <-group.done:
		if report.Fired {
			t.Fatalf("exhausted receiver reported fired=true")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for completion report")
	}

	select {
	case <-attempts:
		t.Fatalf("attempt after retry exhaustion")
	case <-time.After(100 * time.Millisecond):
	}

	keys, err := store.Keys(ctx, receiverName+"/")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("retired receiver left records: %v", keys)
	}
}

func TestReceiverSkipsResolvedWhenUnwanted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected delivery for a resolved-only group")
	}))
	t.Cleanup(server.Close)

	store := storage.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rt := actor.NewRuntime(store, clk, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	t.Cleanup(rt.Close)

	group := &fakeGroup{done: make(chan NotifyReceiverDoneRequest, 1)}
	provider := staticProvider{cfg: webhookReceiverConfig(server.URL)}
	rt.RegisterKind(names.ReceiverPrefix, NewReceiverFactory(provider, 2, time.Millisecond))
	rt.RegisterKind(names.AlertGroupPrefix, func(*actor.State) actor.Handler { return group })

	labels := map[string]string{"alertname": "Flap"}
	resolved := domain.CachedAlert{
		ReceiveredAlert: domain.ReceiveredAlert{
			Alert: domain.Alert{
				Fingerprint: domain.LabelsFingerprint(labels),
				Labels:      labels,
				StartsAt:    clk.Now().Add(-time.Hour),
				EndsAt:      clk.Now().Add(-time.Minute),
			},
		},
	}

	var ack account.Ack
	err := rt.Call(ctx, names.Receiver("attempt-2"), MethodReceiverInitialize, ReceiverInitRequest{
		AccountID:    "acme",
		GroupActor:   names.AlertGroup("acme", "node1", nil),
		ReceiverName: "web.hook",
		Ref:          notifier.KindRef{Kind: notifier.KindWebhook},
		SendResolved: false,
		Alerts:       []domain.CachedAlert{resolved},
	}, &ack)
	if err != nil {
		t.Fatalf("receiver initialize: %v", err)
	}
	if ack.OK {
		t.Fatalf("resolved-only attempt with send_resolved=false should not fire")
	}

	select {
	case report := <-group.done:
		if report.Fired {
			t.Fatalf("skipped receiver reported fired=true")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for completion report")
	}
}
