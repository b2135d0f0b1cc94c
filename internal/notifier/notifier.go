// Package notifier holds the outbound integrations. Each notifier
// renders one flushed alert group into its wire payload and posts it to
// the external receiver. Configuration errors that no retry can fix are
// marked permanent.
package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"amroute/internal/amconfig"
	"amroute/internal/domain"
	"amroute/internal/permanent"
)

const userAgent = "amroute Alertmanager/0.27.0"

// Kind names one supported integration.
type Kind string

const (
	// KindWebhook posts the Alertmanager v4 webhook payload.
	KindWebhook Kind = "webhook"
	// KindPagerduty posts PagerDuty Events API v2 events.
	KindPagerduty Kind = "pagerduty"
)

// FileLoader resolves an account-scoped uploaded file, for url_file and
// routing_key_file style indirections.
type FileLoader func(ctx context.Context, path string) (string, error)

// Notification is one flushed alert group bound for a receiver.
// Params: account, receiver name, group identity, and hydrated alerts.
// Returns: payload input shared by every notifier kind.
type Notification struct {
	AccountID   string
	Receiver    string
	GroupKey    string
	GroupLabels map[string]string
	Alerts      []domain.CachedAlert
}

// Status reports the group status: firing while any alert still fires.
// Params: none.
// Returns: "firing" or "resolved".
func (n Notification) Status(now time.Time) string {
	for _, a := range n.Alerts {
		if a.State(now) == domain.AlertStateFiring {
			return "firing"
		}
	}
	return "resolved"
}

// Notifier sends one notification to its external receiver.
// Params: context and notification.
// Returns: delivery error, permanent for unfixable configs.
type Notifier interface {
	Kind() Kind
	Notify(ctx context.Context, n Notification) error
}

// ForKind builds the notifier for one receiver config entry.
// Params: kind, resolved receiver, config index, file loader, and clock time source.
// Returns: notifier or a permanent error for unknown kinds and indexes.
func ForKind(kind Kind, receiver *amconfig.Receiver, index int, files FileLoader, now func() time.Time) (Notifier, error) {
	switch kind {
	case KindWebhook:
		if index < 0 || index >= len(receiver.WebhookConfigs) {
			return nil, permanent.Mark(fmt.Errorf("receiver %q has no webhook config %d", receiver.Name, index))
		}
		return NewWebhook(receiver.WebhookConfigs[index], files, now), nil
	case KindPagerduty:
		if index < 0 || index >= len(receiver.PagerdutyConfigs) {
			return nil, permanent.Mark(fmt.Errorf("receiver %q has no pagerduty config %d", receiver.Name, index))
		}
		return NewPagerduty(receiver.PagerdutyConfigs[index], files, now), nil
	default:
		return nil, permanent.Mark(fmt.Errorf("unknown notifier kind %q", kind))
	}
}

// Kinds lists the notifier fan-out for one receiver: one entry per
// configured integration, in config order.
// Params: resolved receiver.
// Returns: kind and config index pairs.
func Kinds(receiver *amconfig.Receiver) []KindRef {
	refs := make([]KindRef, 0, len(receiver.WebhookConfigs)+len(receiver.PagerdutyConfigs))
	for i := range receiver.WebhookConfigs {
		refs = append(refs, KindRef{Kind: KindWebhook, Index: i})
	}
	for i := range receiver.PagerdutyConfigs {
		refs = append(refs, KindRef{Kind: KindPagerduty, Index: i})
	}
	return refs
}

// KindRef points at one notifier config entry within a receiver.
type KindRef struct {
	Kind  Kind `json:"kind"`
	Index int  `json:"index"`
}

// WantsResolved reports whether the referenced config entry asked for
// resolved notifications.
// Params: resolved receiver.
// Returns: send_resolved flag, false for out-of-range refs.
func (r KindRef) WantsResolved(receiver *amconfig.Receiver) bool {
	switch r.Kind {
	case KindWebhook:
		if r.Index >= 0 && r.Index < len(receiver.WebhookConfigs) {
			return receiver.WebhookConfigs[r.Index].WantsResolved()
		}
	case KindPagerduty:
		if r.Index >= 0 && r.Index < len(receiver.PagerdutyConfigs) {
			return receiver.PagerdutyConfigs[r.Index].WantsResolved()
		}
	}
	return false
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return permanent.Mark(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unexpectedHTTPStatusError(resp)
	}
	return nil
}

// unexpectedHTTPStatusError formats a non-2xx response with optional body.
// Params: HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(resp *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("notify status=%d (read body error: %w)", resp.StatusCode, readErr)
	}
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" {
		return fmt.Errorf("notify status=%d", resp.StatusCode)
	}
	return fmt.Errorf("notify status=%d body=%s", resp.StatusCode, trimmed)
}
