package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"amroute/internal/domain"
)

type captureSink struct {
	accountID string
	alerts    []domain.Alert
	err       error
}

func (s *captureSink) PushAlerts(_ context.Context, accountID string, alerts []domain.Alert) error {
	s.accountID = accountID
	s.alerts = alerts
	return s.err
}

func testNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func postAlerts(t *testing.T, handler http.Handler, accountID, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", strings.NewReader(body))
	if accountID != "" {
		request.Header.Set(AccountHeader, accountID)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestHTTPHandlerAcceptsBatch(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	handler := NewHTTPHandler(sink, 1<<20, testNow)

	body := `[
		{"labels": {"alertname": "HighLatency", "service": "api"}},
		{"labels": {"alertname": "DiskFull"}, "startsAt": "2026-03-01T11:00:00Z", "endsAt": "2026-03-01T11:30:00Z"}
	]`
	recorder := postAlerts(t, handler, "acme", body)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %q", recorder.Code, recorder.Body.String())
	}
	if sink.accountID != "acme" || len(sink.alerts) != 2 {
		t.Fatalf("sink got account %q, %d alerts", sink.accountID, len(sink.alerts))
	}

	first := sink.alerts[0]
	if !first.StartsAt.Equal(testNow()) {
		t.Fatalf("missing startsAt not defaulted: %v", first.StartsAt)
	}
	if first.Fingerprint != domain.LabelsFingerprint(first.Labels) {
		t.Fatalf("fingerprint not derived from labels")
	}
	if first.State(testNow()) != domain.AlertStateFiring {
		t.Fatalf("open-ended alert should be firing")
	}
	if sink.alerts[1].State(testNow()) != domain.AlertStateResolved {
		t.Fatalf("ended alert should be resolved")
	}
}

func TestHTTPHandlerAcceptsSingleObject(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	handler := NewHTTPHandler(sink, 1<<20, testNow)

	recorder := postAlerts(t, handler, "acme", `{"labels": {"alertname": "Solo"}}`)
	if recorder.Code != http.StatusAccepted || len(sink.alerts) != 1 {
		t.Fatalf("status = %d, %d alerts", recorder.Code, len(sink.alerts))
	}
}

func TestHTTPHandlerRejectsBadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		accountID string
		body      string
		want      int
	}{
		{"missing account header", "", `[{"labels": {"a": "b"}}]`, http.StatusBadRequest},
		{"empty body", "acme", "", http.StatusBadRequest},
		{"empty batch", "acme", `[]`, http.StatusBadRequest},
		{"no labels", "acme", `[{"labels": {}}]`, http.StatusBadRequest},
		{"trailing tokens", "acme", `{"labels": {"a": "b"}} {"labels": {"c": "d"}}`, http.StatusBadRequest},
		{"inverted window", "acme", `[{"labels": {"a": "b"}, "startsAt": "2026-03-01T11:00:00Z", "endsAt": "2026-03-01T10:00:00Z"}]`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sink := &captureSink{}
			recorder := postAlerts(t, NewHTTPHandler(sink, 1<<20, testNow), tc.accountID, tc.body)
			if recorder.Code != tc.want {
				t.Fatalf("status = %d, want %d", recorder.Code, tc.want)
			}
			if sink.alerts != nil {
				t.Fatalf("rejected payload reached the sink")
			}
		})
	}
}

func TestHTTPHandlerSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &captureSink{err: errors.New("store down")}
	recorder := postAlerts(t, NewHTTPHandler(sink, 1<<20, testNow), "acme", `[{"labels": {"a": "b"}}]`)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
}

func TestHTTPHandlerMethodNotAllowed(t *testing.T) {
	t.Parallel()

	request := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	recorder := httptest.NewRecorder()
	NewHTTPHandler(&captureSink{}, 1<<20, testNow).ServeHTTP(recorder, request)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", recorder.Code)
	}
}
