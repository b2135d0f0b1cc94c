package ingest

import (
	"context"
	"io"
	"net/http"
	"time"

	"amroute/internal/domain"
)

// AccountHeader names the account an ingest request belongs to.
const AccountHeader = "X-Account-ID"

// AlertSink receives decoded alerts from ingest interfaces.
// Params: owning account and decoded alert batch.
// Returns: processing error.
type AlertSink interface {
	PushAlerts(ctx context.Context, accountID string, alerts []domain.Alert) error
}

// HTTPHandler decodes JSON alert payloads and forwards them to sink.
// Params: sink receives validated alerts, max body limits payload size.
// Returns: HTTP handler for the alerts endpoint.
type HTTPHandler struct {
	sink        AlertSink
	maxBodySize int64
	now         func() time.Time
}

// NewHTTPHandler creates the alert ingest HTTP handler.
// Params: sink, max request body size in bytes, and time source.
// Returns: configured handler.
func NewHTTPHandler(sink AlertSink, maxBodySize int64, now func() time.Time) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, now: now}
}

// ServeHTTP handles one incoming alert request.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/push result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	accountID := request.Header.Get(AccountHeader)
	if accountID == "" {
		http.Error(writer, AccountHeader+" header required", http.StatusBadRequest)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	alerts, err := decodeAlertPayload(body)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.sink.PushAlerts(request.Context(), accountID, convertAlerts(alerts, h.now())); err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
