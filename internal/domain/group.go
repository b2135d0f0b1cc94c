package domain

// DehydratedAlert references an alert by fingerprint plus its state at
// grouping time. The full body stays in the alert store and is looked up
// again on dispatch.
type DehydratedAlert struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	State       AlertState  `json:"state"`
}

// AlertGroup is one bucket of alerts sharing group_by label values under
// one routing node.
// Params: node identity, receiver, ordered label names and values.
// Returns: unit handed to a group controller for notification scheduling.
type AlertGroup struct {
	NodeID      string            `json:"node_id"`
	Receiver    string            `json:"receiver"`
	LabelNames  []string          `json:"label_names"`
	LabelValues []string          `json:"label_values"`
	Alerts      []DehydratedAlert `json:"alerts"`
}

// Labels rebuilds the group's label map from its ordered name/value lists.
// Params: none.
// Returns: group_by labels; absent labels carry empty values.
func (g AlertGroup) Labels() map[string]string {
	labels := make(map[string]string, len(g.LabelNames))
	for i, name := range g.LabelNames {
		if i < len(g.LabelValues) {
			labels[name] = g.LabelValues[i]
		}
	}
	return labels
}

// LabelsFingerprint hashes the ordered group label values.
// Params: none.
// Returns: identity component of the group controller's actor name.
func (g AlertGroup) LabelsFingerprint() Fingerprint {
	return ArrayFingerprint(g.LabelValues)
}
