package routing

import (
	"testing"
	"time"

	"amroute/internal/amconfig"
	"amroute/internal/domain"
	"amroute/internal/matcher"
)

func parseRoute(t *testing.T, body string) *amconfig.Route {
	t.Helper()
	cfg, err := amconfig.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg.Route
}

const sharedSubtreeConfig = `
route:
  receiver: web.hook
  group_by: [alertname]
  routes:
    - match: {team: a}
      receiver: pager
      routes:
        - match: {severity: critical}
          receiver: pager
    - match: {team: b}
      receiver: pager
      routes:
        - match: {severity: critical}
          receiver: pager
receivers:
  - name: web.hook
  - name: pager
`

func TestCollapseDeterminism(t *testing.T) {
	t.Parallel()

	first, err := Collapse(parseRoute(t, sharedSubtreeConfig))
	if err != nil {
		t.Fatalf("Collapse: %v", err)
	}
	second, err := Collapse(parseRoute(t, sharedSubtreeConfig))
	if err != nil {
		t.Fatalf("Collapse: %v", err)
	}

	if len(first.Roots) != len(second.Roots) {
		t.Fatalf("roots differ: %v vs %v", first.Roots, second.Roots)
	}
	for i := range first.Roots {
		if first.Roots[i] != second.Roots[i] {
			t.Fatalf("root %d differs: %s vs %s", i, first.Roots[i], second.Roots[i])
		}
	}
	if len(first.Tree) != len(second.Tree) {
		t.Fatalf("tree sizes differ: %d vs %d", len(first.Tree), len(second.Tree))
	}
	for id := range first.Tree {
		if _, ok := second.Tree[id]; !ok {
			t.Fatalf("node %s missing from second compile", id)
		}
	}
}

func TestCollapseStructuralSharing(t *testing.T) {
	t.Parallel()

	compiled, err := Collapse(parseRoute(t, sharedSubtreeConfig))
	if err != nil {
		t.Fatalf("Collapse: %v", err)
	}

	// The identical {severity: critical} leaves under team a and team b
	// must collapse to one node: root + 2 team nodes + 1 shared leaf.
	if len(compiled.Tree) != 4 {
		t.Fatalf("tree has %d nodes, want 4 with shared leaf", len(compiled.Tree))
	}
	if len(compiled.Roots) != 1 {
		t.Fatalf("roots = %v, want exactly the config root", compiled.Roots)
	}
}

func TestGroupAlertsEndToEnd(t *testing.T) {
	t.Parallel()

	compiled, err := Collapse(parseRoute(t, `
route:
  receiver: web.hook
  group_by: [alertname]
receivers:
  - name: web.hook
`))
	if err != nil {
		t.Fatalf("Collapse: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []domain.Alert{{Labels: map[string]string{"alertname": "foo"}, StartsAt: now}}

	groups, enriched, err := GroupAlerts(alerts, compiled, matcher.NewCache(), now)
	if err != nil {
		t.Fatalf("GroupAlerts: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("got %d nodes with groups, want 1", len(groups))
	}
	for nodeID, nodeGroups := range groups {
		if len(nodeGroups) != 1 {
			t.Fatalf("node %s has %d groups, want 1", nodeID, len(nodeGroups))
		}
		g := nodeGroups[0]
		if g.Receiver != "web.hook" {
			t.Fatalf("group receiver = %q", g.Receiver)
		}
		if len(g.Alerts) != 1 || g.Alerts[0].State != domain.AlertStateFiring {
			t.Fatalf("group alerts = %+v", g.Alerts)
		}
		want := domain.LabelsFingerprint(map[string]string{"alertname": "foo"})
		if g.Alerts[0].Fingerprint != want {
			t.Fatalf("fingerprint = %s, want %s", g.Alerts[0].Fingerprint, want)
		}
		if len(g.LabelValues) != 1 || g.LabelValues[0] != "foo" {
			t.Fatalf("group label values = %v", g.LabelValues)
		}
	}

	if len(enriched) != 1 || len(enriched[0].Receivers) != 1 || enriched[0].Receivers[0] != "web.hook" {
		t.Fatalf("enriched alerts = %+v", enriched)
	}
}

func TestGroupAlertsContinue(t *testing.T) {
	t.Parallel()

	withContinue := `
route:
  receiver: root.hook
  group_by: [alertname]
  continue: true
  routes:
    - match: {severity: critical}
      receiver: pager
receivers:
  - name: root.hook
  - name: pager
`
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []domain.Alert{{
		Labels:   map[string]string{"alertname": "foo", "severity": "critical"},
		StartsAt: now,
	}}

	compiled, err := Collapse(parseRoute(t, withContinue))
	if err != nil {
		t.Fatalf("Collapse: %v", err)
	}
	groups, enriched, err := GroupAlerts(alerts, compiled, matcher.NewCache(), now)
	if err != nil {
		t.Fatalf("GroupAlerts: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("continue=true produced %d grouped nodes, want 2", len(groups))
	}
	if len(enriched[0].Receivers) != 2 {
		t.Fatalf("alert receivers = %v, want both", enriched[0].Receivers)
	}

	withoutContinue, err := Collapse(parseRoute(t, `
route:
  receiver: root.hook
  group_by: [alertname]
  routes:
    - match: {severity: critical}
      receiver: pager
receivers:
  - name: root.hook
  - name: pager
`))
	if err != nil {
		t.Fatalf("Collapse: %v", err)
	}
	groups, enriched, err = GroupAlerts(alerts, withoutContinue, matcher.NewCache(), now)
	if err != nil {
		t.Fatalf("GroupAlerts: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("continue=false produced %d grouped nodes, want 1", len(groups))
	}
	if len(enriched[0].Receivers) != 1 || enriched[0].Receivers[0] != "root.hook" {
		t.Fatalf("alert receivers = %v, want root only", enriched[0].Receivers)
	}
}

func TestGroupAlertsSeparateGroupValues(t *testing.T) {
	t.Parallel()

	compiled, err := Collapse(parseRoute(t, `
route:
  receiver: web.hook
  group_by: [service]
receivers:
  - name: web.hook
`))
	if err != nil {
		t.Fatalf("Collapse: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []domain.Alert{
		{Labels: map[string]string{"alertname": "a", "service": "db"}, StartsAt: now},
		{Labels: map[string]string{"alertname": "b", "service": "db"}, StartsAt: now},
		{Labels: map[string]string{"alertname": "c"}, StartsAt: now},
	}
	groups, _, err := GroupAlerts(alerts, compiled, matcher.NewCache(), now)
	if err != nil {
		t.Fatalf("GroupAlerts: %v", err)
	}

	for _, nodeGroups := range groups {
		if len(nodeGroups) != 2 {
			t.Fatalf("got %d groups, want 2 (db and missing-label)", len(nodeGroups))
		}
		if len(nodeGroups[0].Alerts) != 2 {
			t.Fatalf("db group has %d alerts, want 2", len(nodeGroups[0].Alerts))
		}
		if nodeGroups[1].LabelValues[0] != "" {
			t.Fatalf("missing label value = %q, want empty string", nodeGroups[1].LabelValues[0])
		}
	}
}
