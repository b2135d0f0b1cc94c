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

// Webhook posts the Alertmanager v4 webhook payload to a configured URL.
type Webhook struct {
	cfg    amconfig.WebhookConfig
	files  FileLoader
	client *http.Client
	now    func() time.Time
}

// NewWebhook creates a webhook notifier for one config entry.
// Params: webhook config, account file loader, and time source.
// Returns: notifier ready to send.
func NewWebhook(cfg amconfig.WebhookConfig, files FileLoader, now func() time.Time) *Webhook {
	return &Webhook{
		cfg:    cfg,
		files:  files,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    now,
	}
}

// Kind returns KindWebhook.
func (w *Webhook) Kind() Kind { return KindWebhook }

// webhookPayload is the Alertmanager v4 webhook message.
type webhookPayload struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	TruncatedAlerts   int               `json:"truncatedAlerts"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []TemplateAlert   `json:"alerts"`
}

// Notify posts the group to the webhook URL. max_alerts caps the alert
// list, with the remainder counted in truncatedAlerts.
// Params: context and notification.
// Returns: delivery error; missing URL config is permanent.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	url, err := w.resolveURL(ctx)
	if err != nil {
		return err
	}

	now := w.now()
	data := BuildTemplateData(n, now)

	alerts := data.Alerts
	truncated := 0
	if w.cfg.MaxAlerts > 0 && len(alerts) > w.cfg.MaxAlerts {
		truncated = len(alerts) - w.cfg.MaxAlerts
		alerts = alerts[:w.cfg.MaxAlerts]
	}

	body, err := json.Marshal(webhookPayload{
		Version:           "4",
		GroupKey:          n.GroupKey,
		TruncatedAlerts:   truncated,
		Status:            data.Status,
		Receiver:          n.Receiver,
		GroupLabels:       data.GroupLabels,
		CommonLabels:      data.CommonLabels,
		CommonAnnotations: data.CommonAnnotations,
		Alerts:            alerts,
	})
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode webhook payload: %w", err))
	}

	return postJSON(ctx, w.client, url, body)
}

// resolveURL picks the configured URL, loading url_file when the inline
// url is absent.
func (w *Webhook) resolveURL(ctx context.Context) (string, error) {
	if w.cfg.URL != "" {
		return w.cfg.URL, nil
	}
	if w.cfg.URLFile == "" {
		return "", permanent.Mark(errors.New("webhook config has neither url nor url_file"))
	}
	url, err := w.files(ctx, w.cfg.URLFile)
	if err != nil {
		return "", permanent.Mark(fmt.Errorf("load webhook url_file %q: %w", w.cfg.URLFile, err))
	}
	return url, nil
}
