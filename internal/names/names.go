// Package names builds the deterministic actor names that tie accounts,
// groups, receivers, and silence timers together. Group names derive
// from routing-node IDs and group-label fingerprints, so repeated
// ingestion of the same group always reaches the same actor.
package names

import (
	"strings"

	"amroute/internal/domain"
)

const (
	// AccountPrefix keys account controller actors.
	AccountPrefix = "account-"
	// AlertGroupPrefix keys alert-group controller actors.
	AlertGroupPrefix = "alert-group-"
	// ReceiverPrefix keys receiver controller actors.
	ReceiverPrefix = "receiver-"
	// SilenceTimerPrefix keys silence timer actors.
	SilenceTimerPrefix = "silence-timer-"
)

// Account returns the account controller name for an account ID.
// Params: account ID.
// Returns: actor name.
func Account(accountID string) string {
	return AccountPrefix + accountID
}

// AccountID recovers the account ID from an account controller name.
// Params: actor name.
// Returns: account ID.
func AccountID(name string) string {
	return strings.TrimPrefix(name, AccountPrefix)
}

// AlertGroup returns the group controller name for one (account, node,
// group-label-values) tuple.
// Params: account ID, routing node ID, and ordered group label values.
// Returns: deterministic actor name.
func AlertGroup(accountID, nodeID string, labelValues []string) string {
	return AlertGroupPrefix + accountID + "-" + nodeID + "-" + domain.ArrayFingerprint(labelValues).String()
}

// Receiver returns a receiver controller name from its unique ID.
// Params: receiver attempt ID.
// Returns: actor name.
func Receiver(id string) string {
	return ReceiverPrefix + id
}

// SilenceTimer returns the silence timer name for one silence.
// Params: account ID and silence ID.
// Returns: deterministic actor name.
func SilenceTimer(accountID, silenceID string) string {
	return SilenceTimerPrefix + accountID + "-" + silenceID
}
