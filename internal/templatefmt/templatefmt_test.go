package templatefmt

import (
	"strings"
	"testing"
)

func TestParseNotificationTemplateHelpers(t *testing.T) {
	t.Parallel()

	tmpl, err := ParseNotificationTemplate("desc",
		`{{ toUpper .Status }}: {{ join ", " .GroupLabels }}`)
	if err != nil {
		t.Fatalf("ParseNotificationTemplate: %v", err)
	}

	var out strings.Builder
	err = tmpl.Execute(&out, map[string]any{
		"Status":      "firing",
		"GroupLabels": map[string]string{"service": "api", "env": "prod"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.String(); got != "FIRING: env=prod, service=api" {
		t.Fatalf("rendered %q", got)
	}
}

func TestParseNotificationTemplateMissingField(t *testing.T) {
	t.Parallel()

	tmpl, err := ParseNotificationTemplate("desc", `{{ .Absent }}`)
	if err != nil {
		t.Fatalf("ParseNotificationTemplate: %v", err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, map[string]any{"Status": "firing"}); err == nil {
		t.Fatalf("missing field rendered as %q, want error", out.String())
	}
}

func TestJoinLabelsEmpty(t *testing.T) {
	t.Parallel()

	if got := JoinLabels(", ", nil); got != "" {
		t.Fatalf("JoinLabels(nil) = %q", got)
	}
}
