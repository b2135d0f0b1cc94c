package routing

import (
	"time"

	"amroute/internal/domain"
	"amroute/internal/matcher"
)

// GroupAlerts walks the compiled DAG for each alert and buckets matches
// into per-node groups keyed by group_by label values. Alerts pick up
// the receiver name of every node that accepted them.
// Params: incoming alerts, compiled DAG, regex cache, and current time.
// Returns: groups per node ID plus the receiver-enriched alerts, or a
// matcher evaluation error.
func GroupAlerts(alerts []domain.Alert, compiled Compiled, cache *matcher.Cache, now time.Time) (map[string][]domain.AlertGroup, []domain.ReceiveredAlert, error) {
	builders := make(map[string]map[domain.Fingerprint]*domain.AlertGroup)
	groupOrder := make(map[string][]domain.Fingerprint)
	enriched := make([]domain.ReceiveredAlert, 0, len(alerts))

	for _, alert := range alerts {
		if alert.Fingerprint == 0 {
			alert.Fingerprint = domain.LabelsFingerprint(alert.Labels)
		}
		routed := domain.ReceiveredAlert{Alert: alert}

		stack := append([]string(nil), compiled.Roots...)
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			node, err := compiled.Node(id)
			if err != nil {
				return nil, nil, err
			}
			// A node can be pushed by several ancestors, so the match
			// predicate runs on pop, not on push.
			ok, err := matcher.MatchesAll(node.Matchers, alert.Labels, cache)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}

			if node.Receiver != "" {
				addToGroup(builders, groupOrder, id, node, routed.Alert, now)
				if !contains(routed.Receivers, node.Receiver) {
					routed.Receivers = append(routed.Receivers, node.Receiver)
				}
			}
			// A matched node without continue ends the walk for this
			// alert entirely, children and pending siblings included.
			if !node.Continue {
				break
			}
			for i := len(node.Routes) - 1; i >= 0; i-- {
				stack = append(stack, node.Routes[i])
			}
		}
		enriched = append(enriched, routed)
	}

	groups := make(map[string][]domain.AlertGroup, len(builders))
	for nodeID, byKey := range builders {
		out := make([]domain.AlertGroup, 0, len(byKey))
		for _, key := range groupOrder[nodeID] {
			out = append(out, *byKey[key])
		}
		groups[nodeID] = out
	}
	return groups, enriched, nil
}

// addToGroup appends the alert to the node's group for its group_by
// label values, creating the group on first sight. An alert already in
// the group only has its state refreshed.
func addToGroup(builders map[string]map[domain.Fingerprint]*domain.AlertGroup, groupOrder map[string][]domain.Fingerprint, nodeID string, node FlatRoute, alert domain.Alert, now time.Time) {
	values := make([]string, len(node.GroupBy))
	for i, name := range node.GroupBy {
		values[i] = alert.Labels[name]
	}
	key := domain.ArrayFingerprint(values)

	byKey := builders[nodeID]
	if byKey == nil {
		byKey = make(map[domain.Fingerprint]*domain.AlertGroup)
		builders[nodeID] = byKey
	}
	group := byKey[key]
	if group == nil {
		group = &domain.AlertGroup{
			NodeID:      nodeID,
			Receiver:    node.Receiver,
			LabelNames:  node.GroupBy,
			LabelValues: values,
		}
		byKey[key] = group
		groupOrder[nodeID] = append(groupOrder[nodeID], key)
	}

	entry := domain.DehydratedAlert{Fingerprint: alert.Fingerprint, State: alert.State(now)}
	for i := range group.Alerts {
		if group.Alerts[i].Fingerprint == alert.Fingerprint {
			group.Alerts[i] = entry
			return
		}
	}
	group.Alerts = append(group.Alerts, entry)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
