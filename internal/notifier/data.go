package notifier

import (
	"fmt"
	"strings"
	"time"

	"amroute/internal/templatefmt"
)

// TemplateData is the context handed to receiver templates. Field names
// follow the Alertmanager template contract so existing templates keep
// working.
type TemplateData struct {
	Receiver          string            `json:"receiver"`
	Status            string            `json:"status"`
	Alerts            []TemplateAlert   `json:"alerts"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	GroupKey          string            `json:"groupKey"`
}

// TemplateAlert is one alert inside the template context.
type TemplateAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// BuildTemplateData assembles the template context for one notification.
// Params: notification and evaluation time.
// Returns: template data with common label/annotation intersections.
func BuildTemplateData(n Notification, now time.Time) TemplateData {
	alerts := make([]TemplateAlert, 0, len(n.Alerts))
	labelSets := make([]map[string]string, 0, len(n.Alerts))
	annotationSets := make([]map[string]string, 0, len(n.Alerts))
	for _, a := range n.Alerts {
		alerts = append(alerts, TemplateAlert{
			Status:      string(a.State(now)),
			Labels:      a.Labels,
			Annotations: a.Annotations,
			StartsAt:    a.StartsAt,
			EndsAt:      a.EndsAt,
			Fingerprint: a.Fingerprint.String(),
		})
		labelSets = append(labelSets, a.Labels)
		annotationSets = append(annotationSets, a.Annotations)
	}

	return TemplateData{
		Receiver:          n.Receiver,
		Status:            n.Status(now),
		Alerts:            alerts,
		GroupLabels:       n.GroupLabels,
		CommonLabels:      commonStrings(labelSets),
		CommonAnnotations: commonStrings(annotationSets),
		GroupKey:          n.GroupKey,
	}
}

// commonStrings intersects label sets, keeping keys whose value is
// identical across every set.
func commonStrings(sets []map[string]string) map[string]string {
	common := map[string]string{}
	if len(sets) == 0 {
		return common
	}
outer:
	for key, value := range sets[0] {
		for _, set := range sets[1:] {
			if set[key] != value {
				continue outer
			}
		}
		common[key] = value
	}
	return common
}

// renderText expands one config string as a template over the data.
// Params: field name for error context, template body, and data.
// Returns: rendered string; empty input renders empty.
func renderText(field, body string, data TemplateData) (string, error) {
	if body == "" {
		return "", nil
	}
	tmpl, err := templatefmt.ParseNotificationTemplate(field, body)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", field, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", field, err)
	}
	return out.String(), nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
