package domain

import "time"

// GetAlertsOptions narrows an alert-store query. Every toggle left unset
// defaults to true, so the zero value selects everything.
// Params: optional fingerprint fast path, label filter, receiver pattern,
// state toggles, and startsAt bounds.
// Returns: query options carried over RPC to the account controller.
type GetAlertsOptions struct {
	Fingerprints []Fingerprint `json:"fingerprints,omitempty"`
	Filter       []Matcher     `json:"filter,omitempty"`
	Receiver     string        `json:"receiver,omitempty"`

	Active      *bool `json:"active,omitempty"`
	Silenced    *bool `json:"silenced,omitempty"`
	Inhibited   *bool `json:"inhibited,omitempty"`
	Muted       *bool `json:"muted,omitempty"`
	Resolved    *bool `json:"resolved,omitempty"`
	Unprocessed *bool `json:"unprocessed,omitempty"`

	StartTime time.Time `json:"start_time,omitzero"`
	EndTime   time.Time `json:"end_time,omitzero"`
}

// ShowActive reports whether unsuppressed firing alerts are included.
func (o GetAlertsOptions) ShowActive() bool { return toggle(o.Active) }

// ShowSilenced reports whether silenced alerts are included.
func (o GetAlertsOptions) ShowSilenced() bool { return toggle(o.Silenced) }

// ShowInhibited reports whether inhibited alerts are included.
func (o GetAlertsOptions) ShowInhibited() bool { return toggle(o.Inhibited) }

// ShowMuted reports whether muted alerts are included.
func (o GetAlertsOptions) ShowMuted() bool { return toggle(o.Muted) }

// ShowResolved reports whether resolved alerts are included.
func (o GetAlertsOptions) ShowResolved() bool { return toggle(o.Resolved) }

// ShowUnprocessed reports whether not-yet-routed alerts are included.
func (o GetAlertsOptions) ShowUnprocessed() bool { return toggle(o.Unprocessed) }

func toggle(v *bool) bool {
	return v == nil || *v
}

// Exclude returns a pointer to false for building query options inline.
func Exclude() *bool {
	v := false
	return &v
}
