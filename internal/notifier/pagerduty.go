package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"amroute/internal/amconfig"
	"amroute/internal/permanent"
)

const (
	defaultPagerdutyURL = "https://events.pagerduty.com/v2/enqueue"

	maxEventSizeBytes  = 512000
	maxSummaryLenRunes = 1024
)

// Pagerduty posts PagerDuty Events API v2 events: trigger while the
// group still fires, resolve once every alert resolved.
type Pagerduty struct {
	cfg    amconfig.PagerdutyConfig
	files  FileLoader
	client *http.Client
	now    func() time.Time
}

// NewPagerduty creates a PagerDuty notifier for one config entry.
// Params: pagerduty config, account file loader, and time source.
// Returns: notifier ready to send.
func NewPagerduty(cfg amconfig.PagerdutyConfig, files FileLoader, now func() time.Time) *Pagerduty {
	return &Pagerduty{
		cfg:    cfg,
		files:  files,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    now,
	}
}

// Kind returns KindPagerduty.
func (p *Pagerduty) Kind() Kind { return KindPagerduty }

type pagerdutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	DedupKey    string           `json:"dedup_key"`
	EventAction string           `json:"event_action"`
	Client      string           `json:"client,omitempty"`
	ClientURL   string           `json:"client_url,omitempty"`
	Payload     pagerdutyPayload `json:"payload"`
}

type pagerdutyPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp,omitempty"`
	Class         string            `json:"class,omitempty"`
	Component     string            `json:"component,omitempty"`
	Group         string            `json:"group,omitempty"`
	CustomDetails map[string]string `json:"custom_details,omitempty"`
}

// Notify sends one trigger or resolve event for the group. The group
// key doubles as the dedup key, so repeated flushes of the same group
// update one PagerDuty incident.
// Params: context and notification.
// Returns: delivery error; missing routing key is permanent.
func (p *Pagerduty) Notify(ctx context.Context, n Notification) error {
	routingKey, err := p.resolveRoutingKey(ctx)
	if err != nil {
		return err
	}

	now := p.now()
	data := BuildTemplateData(n, now)

	action := "trigger"
	if data.Status == "resolved" {
		action = "resolve"
	}

	summary, err := renderText("pagerduty.description", p.cfg.Description, data)
	if err != nil {
		return permanent.Mark(err)
	}
	if summary == "" {
		summary = fmt.Sprintf("%s: %d alert(s) %s", n.Receiver, len(n.Alerts), data.Status)
	}
	summary = truncateRunes(summary, maxSummaryLenRunes)

	severity := p.cfg.Severity
	if severity == "" {
		severity = "error"
	}

	event := pagerdutyEvent{
		RoutingKey:  routingKey,
		DedupKey:    n.GroupKey,
		EventAction: action,
		Client:      p.cfg.Client,
		ClientURL:   p.cfg.ClientURL,
		Payload: pagerdutyPayload{
			Summary:       summary,
			Source:        "amroute",
			Severity:      severity,
			Timestamp:     now.Format(time.RFC3339),
			Class:         p.cfg.Class,
			Component:     p.cfg.Component,
			Group:         p.cfg.Group,
			CustomDetails: data.CommonLabels,
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode pagerduty event: %w", err))
	}
	if len(body) > maxEventSizeBytes {
		event.Payload.CustomDetails = map[string]string{
			"error": fmt.Sprintf("custom details removed: event exceeds the maximum size of %d bytes", maxEventSizeBytes),
		}
		if body, err = json.Marshal(event); err != nil {
			return permanent.Mark(fmt.Errorf("encode truncated pagerduty event: %w", err))
		}
	}

	url := p.cfg.URL
	if url == "" {
		url = defaultPagerdutyURL
	}
	return postJSON(ctx, p.client, url, body)
}

// resolveRoutingKey picks the configured routing key, loading
// routing_key_file when the inline key is absent.
func (p *Pagerduty) resolveRoutingKey(ctx context.Context) (string, error) {
	if p.cfg.RoutingKey != "" {
		return p.cfg.RoutingKey, nil
	}
	if p.cfg.RoutingKeyFile == "" {
		return "", permanent.Mark(errors.New("pagerduty config has neither routing_key nor routing_key_file"))
	}
	key, err := p.files(ctx, p.cfg.RoutingKeyFile)
	if err != nil {
		return "", permanent.Mark(fmt.Errorf("load pagerduty routing_key_file %q: %w", p.cfg.RoutingKeyFile, err))
	}
	return key, nil
}
