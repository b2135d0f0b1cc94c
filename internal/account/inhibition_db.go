package account

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"amroute/internal/amconfig"
	"amroute/internal/domain"
	"amroute/internal/matcher"
)

// CachedInhibition is one inhibit rule plus the fingerprints of the
// currently-firing alerts satisfying its source side.
type CachedInhibition struct {
	Rule              amconfig.InhibitRule `json:"rule"`
	AlertFingerprints []domain.Fingerprint `json:"alert_fingerprints"`
}

// InhibitionDB is the per-account inhibition store.
// Params: record persistence and shared regex cache.
// Returns: store mapping rule keys to cached inhibition state.
type InhibitionDB struct {
	store       recordStore
	cache       *matcher.Cache
	inhibitions map[string]*CachedInhibition
}

// NewInhibitionDB creates an empty inhibition store.
// Params: record persistence and regex cache.
// Returns: store ready for Init.
func NewInhibitionDB(store recordStore, cache *matcher.Cache) *InhibitionDB {
	return &InhibitionDB{
		store:       store,
		cache:       cache,
		inhibitions: make(map[string]*CachedInhibition),
	}
}

// Init replaces the in-memory set with cold-start records.
// Params: inhibitions keyed by rule key.
// Returns: nothing.
func (db *InhibitionDB) Init(inhibitions map[string]*CachedInhibition) {
	db.inhibitions = inhibitions
}

// SyncRules reconciles the stored rule set against the account config.
// New rules start with no source alerts, removed rules are deleted, and
// surviving rules keep their accumulated fingerprints.
// Params: inhibit rules from the resolved account config.
// Returns: persistence error.
func (db *InhibitionDB) SyncRules(ctx context.Context, rules []amconfig.InhibitRule) error {
	wanted := make(map[string]amconfig.InhibitRule, len(rules))
	for _, rule := range rules {
		key, err := inhibitionRuleKey(rule)
		if err != nil {
			return err
		}
		wanted[key] = rule
	}

	for key := range db.inhibitions {
		if _, keep := wanted[key]; keep {
			continue
		}
		if err := db.store.Delete(ctx, inhibitionKeyPrefix+key); err != nil {
			return err
		}
		delete(db.inhibitions, key)
	}

	for key, rule := range wanted {
		if _, exists := db.inhibitions[key]; exists {
			continue
		}
		cached := &CachedInhibition{Rule: rule, AlertFingerprints: []domain.Fingerprint{}}
		if err := db.store.Put(ctx, inhibitionKeyPrefix+key, cached); err != nil {
			return err
		}
		db.inhibitions[key] = cached
	}
	return nil
}

// ProcessAlert feeds one routed alert through every rule's source side:
// firing alerts are added to matching rules, resolved alerts removed
// from all rules. Only changed rules are persisted.
// Params: routed alert and current state at ingestion time.
// Returns: persistence or matcher error.
func (db *InhibitionDB) ProcessAlert(ctx context.Context, alert domain.ReceiveredAlert, state domain.AlertState) error {
	if state == domain.AlertStateResolved {
		return db.removeAlert(ctx, alert.Fingerprint)
	}
	return db.addAlert(ctx, alert)
}

func (db *InhibitionDB) addAlert(ctx context.Context, alert domain.ReceiveredAlert) error {
	for key, inhibition := range db.inhibitions {
		ok, err := db.sideMatches(alert.Labels,
			inhibition.Rule.SourceMatch, inhibition.Rule.SourceMatchRE, inhibition.Rule.SourceMatchers)
		if err != nil {
			return err
		}
		if !ok || containsFingerprint(inhibition.AlertFingerprints, alert.Fingerprint) {
			continue
		}
		inhibition.AlertFingerprints = append(inhibition.AlertFingerprints, alert.Fingerprint)
		if err := db.store.Put(ctx, inhibitionKeyPrefix+key, inhibition); err != nil {
			return err
		}
	}
	return nil
}

func (db *InhibitionDB) removeAlert(ctx context.Context, fp domain.Fingerprint) error {
	for key, inhibition := range db.inhibitions {
		filtered := inhibition.AlertFingerprints[:0:0]
		for _, existing := range inhibition.AlertFingerprints {
			if existing != fp {
				filtered = append(filtered, existing)
			}
		}
		if len(filtered) == len(inhibition.AlertFingerprints) {
			continue
		}
		inhibition.AlertFingerprints = filtered
		if err := db.store.Put(ctx, inhibitionKeyPrefix+key, inhibition); err != nil {
			return err
		}
	}
	return nil
}

// AlertsThatInhibit returns the fingerprints of every source alert
// suppressing the given labels: rules whose target side matches
// contribute their source alerts, each additionally required to share
// the rule's equal-label values with the target.
// Params: target alert labels and a source-label lookup.
// Returns: inhibiting fingerprints or a matcher error.
func (db *InhibitionDB) AlertsThatInhibit(labels map[string]string, sourceLabels func(domain.Fingerprint) (map[string]string, bool)) ([]domain.Fingerprint, error) {
	inhibitors := make([]domain.Fingerprint, 0)
	for _, inhibition := range db.inhibitions {
		ok, err := db.sideMatches(labels,
			inhibition.Rule.TargetMatch, inhibition.Rule.TargetMatchRE, inhibition.Rule.TargetMatchers)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, fp := range inhibition.AlertFingerprints {
			src, found := sourceLabels(fp)
			if !found || !equalLabelsMatch(inhibition.Rule.Equal, src, labels) {
				continue
			}
			if !containsFingerprint(inhibitors, fp) {
				inhibitors = append(inhibitors, fp)
			}
		}
	}
	sort.Slice(inhibitors, func(i, j int) bool { return inhibitors[i] < inhibitors[j] })
	return inhibitors, nil
}

// sideMatches evaluates one rule side; all three matcher forms apply
// simultaneously.
func (db *InhibitionDB) sideMatches(labels, match, matchRE map[string]string, matcherStrings []string) (bool, error) {
	for name, value := range match {
		if labels[name] != value {
			return false, nil
		}
	}
	for name, pattern := range matchRE {
		re, err := db.cache.Compile(pattern)
		if err != nil {
			return false, err
		}
		if !re.MatchString(labels[name]) {
			return false, nil
		}
	}
	ms, err := matcher.ParseAll(matcherStrings)
	if err != nil {
		return false, err
	}
	return matcher.MatchesAll(ms, labels, db.cache)
}

// equalLabelsMatch enforces the rule's equal constraint: the source and
// target alert must carry identical values for every listed label.
func equalLabelsMatch(equal []string, source, target map[string]string) bool {
	for _, name := range equal {
		if source[name] != target[name] {
			return false
		}
	}
	return true
}

// inhibitionRuleKey derives a stable storage key from rule content.
// Params: inhibit rule.
// Returns: hex digest of the canonical rule encoding.
func inhibitionRuleKey(rule amconfig.InhibitRule) (string, error) {
	body, err := json.Marshal(canonicalRule(rule))
	if err != nil {
		return "", fmt.Errorf("encode inhibit rule: %w", err)
	}
	digest := sha1.Sum(body)
	return hex.EncodeToString(digest[:]), nil
}

// canonicalRule orders the map-form matchers so the key is independent
// of YAML map iteration.
func canonicalRule(rule amconfig.InhibitRule) map[string]any {
	return map[string]any{
		"source_match":    sortedPairs(rule.SourceMatch),
		"source_match_re": sortedPairs(rule.SourceMatchRE),
		"source_matchers": rule.SourceMatchers,
		"target_match":    sortedPairs(rule.TargetMatch),
		"target_match_re": sortedPairs(rule.TargetMatchRE),
		"target_matchers": rule.TargetMatchers,
		"equal":           rule.Equal,
	}
}

func sortedPairs(m map[string]string) [][2]string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([][2]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, [2]string{key, m[key]})
	}
	return pairs
}

func containsFingerprint(list []domain.Fingerprint, fp domain.Fingerprint) bool {
	for _, v := range list {
		if v == fp {
			return true
		}
	}
	return false
}
