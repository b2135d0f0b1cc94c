package domain

import "time"

// AlertState is the lifecycle state derived from an alert's end time.
// Params: firing/resolved state constants.
// Returns: state used by grouping, dispatch, and read APIs.
type AlertState string

const (
	// AlertStateFiring indicates the alert has no end time or ends in the future.
	AlertStateFiring AlertState = "firing"
	// AlertStateResolved indicates the alert's end time has passed.
	AlertStateResolved AlertState = "resolved"
)

// Alert is one ingested alert identified by its label fingerprint.
// Params: identity, labels/annotations, and firing window.
// Returns: core alert record shared by router and stores.
type Alert struct {
	Fingerprint Fingerprint       `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations,omitempty"`
	StartsAt    time.Time         `json:"starts_at"`
	EndsAt      time.Time         `json:"ends_at,omitzero"`
}

// State derives firing/resolved from the end time.
// Params: current time.
// Returns: resolved when the end time is set and has passed.
func (a Alert) State(now time.Time) AlertState {
	if a.EndsAt.IsZero() || a.EndsAt.After(now) {
		return AlertStateFiring
	}
	return AlertStateResolved
}

// ReceiveredAlert is an alert enriched with the receivers it was routed to.
// Params: alert plus receiver names collected during routing.
// Returns: router output ready for the account store.
type ReceiveredAlert struct {
	Alert
	Receivers []string `json:"receivers"`
}

// IsSame reports whether re-ingesting the alert would change anything.
// Params: candidate and stored alert records.
// Returns: true when fingerprint, window, and annotations all match.
func (a ReceiveredAlert) IsSame(cached CachedAlert) bool {
	if a.Fingerprint != cached.Fingerprint ||
		!a.StartsAt.Equal(cached.StartsAt) ||
		!a.EndsAt.Equal(cached.EndsAt) ||
		len(a.Annotations) != len(cached.Annotations) {
		return false
	}
	for key, value := range a.Annotations {
		if cached.Annotations[key] != value {
			return false
		}
	}
	return true
}

// HistoryEventType enumerates alert history transitions.
type HistoryEventType string

const (
	// HistoryEventFiring records a transition into the firing state.
	HistoryEventFiring HistoryEventType = "firing"
	// HistoryEventResolved records a transition into the resolved state.
	HistoryEventResolved HistoryEventType = "resolved"
	// HistoryEventAcknowledged records a user acknowledging the alert.
	HistoryEventAcknowledged HistoryEventType = "acknowledged"
	// HistoryEventComment records a free-form user comment.
	HistoryEventComment HistoryEventType = "comment"
)

// HistoryEvent is one timestamped entry in an alert's history.
// Params: event type, time, and optional user/comment context.
// Returns: append-only audit record on the cached alert.
type HistoryEvent struct {
	Type    HistoryEventType `json:"type"`
	At      time.Time        `json:"at"`
	User    string           `json:"user,omitempty"`
	Comment string           `json:"comment,omitempty"`
}

// CachedAlert is the stored form of an alert with suppression annotations.
// Params: alert plus silencing/inhibition/acknowledgement state and history.
// Returns: account-store record, never hard-deleted.
type CachedAlert struct {
	ReceiveredAlert
	SilencedBy     []string       `json:"silenced_by"`
	InhibitedBy    []Fingerprint  `json:"inhibited_by"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	History        []HistoryEvent `json:"history,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Suppressed reports whether any silence or inhibition applies.
// Params: none.
// Returns: true when the alert must not be notified.
func (c CachedAlert) Suppressed() bool {
	return len(c.SilencedBy) > 0 || len(c.InhibitedBy) > 0
}
