package account

import (
	"context"
	"regexp"
	"sort"

	"amroute/internal/domain"
)

// AlertGroupDB is the receiver-keyed read model over raw alert groups.
// It folds each routed group into a stored view that only ever holds
// firing alerts; resolved alerts are dropped on merge and empty groups
// deleted. This path is independent of the notification state machine.
type AlertGroupDB struct {
	store  recordStore
	groups map[string]*domain.AlertGroup
}

// NewAlertGroupDB creates an empty group read model.
// Params: record persistence.
// Returns: store ready for Init.
func NewAlertGroupDB(store recordStore) *AlertGroupDB {
	return &AlertGroupDB{store: store, groups: make(map[string]*domain.AlertGroup)}
}

// Init replaces the in-memory set with cold-start records.
// Params: groups keyed by storage key.
// Returns: nothing.
func (db *AlertGroupDB) Init(groups map[string]*domain.AlertGroup) {
	db.groups = groups
}

// GetAlertGroups lists stored groups, optionally filtered by a receiver
// pattern.
// Params: optional compiled receiver regexp.
// Returns: groups ordered by storage key.
func (db *AlertGroupDB) GetAlertGroups(receiver *regexp.Regexp) []domain.AlertGroup {
	keys := make([]string, 0, len(db.groups))
	for key := range db.groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]domain.AlertGroup, 0, len(keys))
	for _, key := range keys {
		group := db.groups[key]
		if receiver != nil && !receiver.MatchString(group.Receiver) {
			continue
		}
		out = append(out, *group)
	}
	return out
}

// MergeAlertGroup folds one routed group into the stored view: newly
// resolved alerts drop out of the existing group, newly firing ones are
// added, and a group left empty is deleted outright.
// Params: routed group.
// Returns: persistence error.
func (db *AlertGroupDB) MergeAlertGroup(ctx context.Context, incoming domain.AlertGroup) error {
	key := alertGroupKey(incoming.NodeID, incoming.LabelValues)
	current := db.groups[key]

	if current == nil {
		firing := make([]domain.DehydratedAlert, 0, len(incoming.Alerts))
		for _, a := range incoming.Alerts {
			if a.State == domain.AlertStateFiring {
				firing = append(firing, a)
			}
		}
		if len(firing) == 0 {
			return nil
		}
		incoming.Alerts = firing
		if err := db.store.Put(ctx, key, incoming); err != nil {
			return err
		}
		db.groups[key] = &incoming
		return nil
	}

	incomingState := make(map[domain.Fingerprint]domain.AlertState, len(incoming.Alerts))
	for _, a := range incoming.Alerts {
		incomingState[a.Fingerprint] = a.State
	}

	kept := make([]domain.DehydratedAlert, 0, len(current.Alerts))
	for _, a := range current.Alerts {
		if state, seen := incomingState[a.Fingerprint]; seen && state == domain.AlertStateResolved {
			continue
		}
		kept = append(kept, a)
	}

	existing := make(map[domain.Fingerprint]struct{}, len(kept))
	for _, a := range kept {
		existing[a.Fingerprint] = struct{}{}
	}
	for _, a := range incoming.Alerts {
		if a.State == domain.AlertStateResolved {
			continue
		}
		if _, dup := existing[a.Fingerprint]; dup {
			continue
		}
		kept = append(kept, a)
	}

	if len(kept) == 0 {
		if err := db.store.Delete(ctx, key); err != nil {
			return err
		}
		delete(db.groups, key)
		return nil
	}

	current.Alerts = kept
	return db.store.Put(ctx, key, current)
}

func alertGroupKey(nodeID string, labelValues []string) string {
	return alertGroupKeyPrefix + nodeID + "-" + domain.ArrayFingerprint(labelValues).String()
}
