package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"amroute/internal/domain"
)

// PostableAlert is the Alertmanager v2 wire form of one incoming alert.
// Params: label set, free-form annotations, and the firing window.
// Returns: decoded alert pending validation and conversion.
type PostableAlert struct {
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     time.Time         `json:"startsAt,omitzero"`
	EndsAt       time.Time         `json:"endsAt,omitzero"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// Validate checks the wire alert for structural problems.
// Params: none.
// Returns: first validation error.
func (a PostableAlert) Validate() error {
	if len(a.Labels) == 0 {
		return errors.New("alert has no labels")
	}
	for name := range a.Labels {
		if name == "" {
			return errors.New("alert label with empty name")
		}
	}
	if !a.StartsAt.IsZero() && !a.EndsAt.IsZero() && a.EndsAt.Before(a.StartsAt) {
		return errors.New("alert ends before it starts")
	}
	return nil
}

// ToAlert converts the wire alert into its internal form.
// Params: receive time, used when startsAt is absent.
// Returns: fingerprinted alert.
func (a PostableAlert) ToAlert(now time.Time) domain.Alert {
	startsAt := a.StartsAt
	if startsAt.IsZero() {
		startsAt = now
	}
	return domain.Alert{
		Fingerprint: domain.LabelsFingerprint(a.Labels),
		Labels:      a.Labels,
		Annotations: a.Annotations,
		StartsAt:    startsAt,
		EndsAt:      a.EndsAt,
	}
}

// decodeAlertPayload auto-detects batch vs single payload.
// Params: raw JSON bytes with one alert object or an array of them.
// Returns: validated wire alerts.
func decodeAlertPayload(raw []byte) ([]PostableAlert, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	var alerts []PostableAlert
	if payload[0] == '[' {
		if err := decoder.Decode(&alerts); err != nil {
			return nil, fmt.Errorf("decode alert batch: %w", err)
		}
		if len(alerts) == 0 {
			return nil, errors.New("alert batch must contain at least one alert")
		}
	} else {
		var alert PostableAlert
		if err := decoder.Decode(&alert); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		alerts = []PostableAlert{alert}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}

	for i, alert := range alerts {
		if err := alert.Validate(); err != nil {
			return nil, fmt.Errorf("alert[%d]: %w", i, err)
		}
	}
	return alerts, nil
}

// convertAlerts converts validated wire alerts into internal alerts.
// Params: wire alerts and the receive time.
// Returns: fingerprinted alerts in payload order.
func convertAlerts(alerts []PostableAlert, now time.Time) []domain.Alert {
	converted := make([]domain.Alert, len(alerts))
	for i, alert := range alerts {
		converted[i] = alert.ToAlert(now)
	}
	return converted
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
