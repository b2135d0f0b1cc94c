package account

import (
	"context"
	"sort"

	"amroute/internal/clock"
	"amroute/internal/domain"
	"amroute/internal/matcher"
)

// AlertDB is the per-account alert store. Alerts are keyed by label
// fingerprint and never hard-deleted; resolved alerts stay queryable.
// Params: record persistence, clock, regex cache, and silence store.
// Returns: store holding every cached alert in memory after cold start.
type AlertDB struct {
	store    recordStore
	clk      clock.Clock
	cache    *matcher.Cache
	silences *SilenceDB
	alerts   map[domain.Fingerprint]*domain.CachedAlert
}

// NewAlertDB creates an empty alert store.
// Params: record persistence, clock, regex cache, and silence store.
// Returns: store ready for Init.
func NewAlertDB(store recordStore, clk clock.Clock, cache *matcher.Cache, silences *SilenceDB) *AlertDB {
	return &AlertDB{
		store:    store,
		clk:      clk,
		cache:    cache,
		silences: silences,
		alerts:   make(map[domain.Fingerprint]*domain.CachedAlert),
	}
}

// Init replaces the in-memory set with cold-start records.
// Params: cached alerts keyed by fingerprint.
// Returns: nothing.
func (db *AlertDB) Init(alerts map[domain.Fingerprint]*domain.CachedAlert) {
	db.alerts = alerts
}

// AddAlert upserts one routed alert. A field-identical re-ingestion is
// a no-op: no history entry, no storage write. Otherwise suppression
// state is carried over from the cached record (computed fresh from the
// silence store for first-seen alerts), a history entry is appended only
// on an actual firing/resolved transition, and an acknowledgement is
// cleared when the alert just resolved.
// Params: routed alert.
// Returns: persistence or matcher error.
func (db *AlertDB) AddAlert(ctx context.Context, a domain.ReceiveredAlert) error {
	cached := db.alerts[a.Fingerprint]
	if cached != nil && a.IsSame(*cached) {
		return nil
	}

	now := db.clk.Now()
	rec := domain.CachedAlert{ReceiveredAlert: a, UpdatedAt: now}

	if cached != nil {
		rec.SilencedBy = cached.SilencedBy
		rec.InhibitedBy = cached.InhibitedBy
		rec.AcknowledgedBy = cached.AcknowledgedBy
		rec.History = cached.History
	} else {
		silencedBy, err := db.silences.SilencedBy(a.Alert)
		if err != nil {
			return err
		}
		rec.SilencedBy = silencedBy
	}

	prevState := domain.AlertState("")
	if cached != nil {
		prevState = cached.State(now)
	}
	newState := a.State(now)
	if newState != prevState {
		event := domain.HistoryEvent{Type: domain.HistoryEventFiring, At: now}
		if newState == domain.AlertStateResolved {
			event.Type = domain.HistoryEventResolved
			rec.AcknowledgedBy = ""
		}
		rec.History = append(rec.History, event)
	}

	return db.storeAlert(ctx, rec)
}

// GetAlert looks one cached alert up by fingerprint.
// Params: alert fingerprint.
// Returns: alert copy and presence flag.
func (db *AlertDB) GetAlert(fingerprint domain.Fingerprint) (domain.CachedAlert, bool) {
	cached := db.alerts[fingerprint]
	if cached == nil {
		return domain.CachedAlert{}, false
	}
	return *cached, true
}

// GetAlerts filters the stored alerts. When fingerprints are given the
// set is built by direct lookup instead of a full scan. Every state
// toggle left unset includes its state.
// Params: query options.
// Returns: matching alerts ordered by fingerprint, or a matcher error.
func (db *AlertDB) GetAlerts(opts domain.GetAlertsOptions) ([]domain.CachedAlert, error) {
	var candidates []*domain.CachedAlert
	if opts.Fingerprints != nil {
		for _, fp := range opts.Fingerprints {
			if cached := db.alerts[fp]; cached != nil {
				candidates = append(candidates, cached)
			}
		}
	} else {
		for _, cached := range db.alerts {
			candidates = append(candidates, cached)
		}
	}

	var receiverRE func(string) bool
	if opts.Receiver != "" {
		re, err := db.cache.Compile(opts.Receiver)
		if err != nil {
			return nil, err
		}
		receiverRE = re.MatchString
	}

	now := db.clk.Now()
	out := make([]domain.CachedAlert, 0, len(candidates))
	for _, cached := range candidates {
		ok, err := matcher.MatchesAll(opts.Filter, cached.Labels, db.cache)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if receiverRE != nil && !anyReceiverMatches(cached.Receivers, receiverRE) {
			continue
		}
		if !opts.StartTime.IsZero() && cached.StartsAt.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && cached.StartsAt.After(opts.EndTime) {
			continue
		}

		isSilenced := len(cached.SilencedBy) > 0
		isInhibited := len(cached.InhibitedBy) > 0
		isResolved := cached.State(now) == domain.AlertStateResolved
		// Mute time intervals are carried in config but not evaluated
		// against dispatch, so no alert is ever muted here.
		isMuted := false
		isUnprocessed := len(cached.Receivers) == 0
		isActive := !isSilenced && !isInhibited && !isResolved && !isMuted

		if !opts.ShowSilenced() && isSilenced {
			continue
		}
		if !opts.ShowInhibited() && isInhibited {
			continue
		}
		if !opts.ShowResolved() && isResolved {
			continue
		}
		if !opts.ShowMuted() && isMuted {
			continue
		}
		if !opts.ShowUnprocessed() && isUnprocessed {
			continue
		}
		if !opts.ShowActive() && isActive {
			continue
		}
		out = append(out, *cached)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

// AddSilence patches silencedBy on every alert the silence matches. Not
// yet active silences are a no-op; already expired ones are delegated to
// MarkSilenceExpired. Only changed alerts are persisted.
// Params: stored silence.
// Returns: persistence or matcher error.
func (db *AlertDB) AddSilence(ctx context.Context, s domain.Silence) error {
	now := db.clk.Now()
	if s.StartsAt.After(now) {
		return nil
	}
	if s.EndsAt.Before(now) {
		return db.MarkSilenceExpired(ctx, s.ID)
	}

	for _, cached := range db.alerts {
		ok, err := matcher.MatchesAll(s.Matchers, cached.Labels, db.cache)
		if err != nil {
			return err
		}
		if !ok || containsString(cached.SilencedBy, s.ID) {
			continue
		}
		cached.SilencedBy = append(cached.SilencedBy, s.ID)
		cached.UpdatedAt = now
		if err := db.storeAlert(ctx, *cached); err != nil {
			return err
		}
	}
	return nil
}

// MarkSilenceExpired strips the silence ID from every alert.
// Params: silence ID.
// Returns: persistence error.
func (db *AlertDB) MarkSilenceExpired(ctx context.Context, id string) error {
	now := db.clk.Now()
	for _, cached := range db.alerts {
		filtered := withoutString(cached.SilencedBy, id)
		if len(filtered) == len(cached.SilencedBy) {
			continue
		}
		cached.SilencedBy = filtered
		cached.UpdatedAt = now
		if err := db.storeAlert(ctx, *cached); err != nil {
			return err
		}
	}
	return nil
}

// SetInhibitedBy replaces the alert's inhibitor set, persisting only on
// change.
// Params: alert fingerprint and inhibiting source fingerprints.
// Returns: persistence error.
func (db *AlertDB) SetInhibitedBy(ctx context.Context, fp domain.Fingerprint, inhibitors []domain.Fingerprint) error {
	cached := db.alerts[fp]
	if cached == nil || fingerprintsEqual(cached.InhibitedBy, inhibitors) {
		return nil
	}
	cached.InhibitedBy = inhibitors
	cached.UpdatedAt = db.clk.Now()
	return db.storeAlert(ctx, *cached)
}

// Acknowledge marks a firing alert as acknowledged by a user.
// Params: alert fingerprint and user.
// Returns: false for unknown or resolved alerts.
func (db *AlertDB) Acknowledge(ctx context.Context, fp domain.Fingerprint, user string) (bool, error) {
	cached := db.alerts[fp]
	now := db.clk.Now()
	if cached == nil || cached.State(now) == domain.AlertStateResolved {
		return false, nil
	}
	cached.AcknowledgedBy = user
	cached.History = append(cached.History, domain.HistoryEvent{
		Type: domain.HistoryEventAcknowledged,
		At:   now,
		User: user,
	})
	cached.UpdatedAt = now
	if err := db.storeAlert(ctx, *cached); err != nil {
		return false, err
	}
	return true, nil
}

// AddComment appends a comment history event to an existing alert.
// Params: alert fingerprint, user, and comment text.
// Returns: false for unknown alerts.
func (db *AlertDB) AddComment(ctx context.Context, fp domain.Fingerprint, user, comment string) (bool, error) {
	cached := db.alerts[fp]
	if cached == nil {
		return false, nil
	}
	now := db.clk.Now()
	cached.History = append(cached.History, domain.HistoryEvent{
		Type:    domain.HistoryEventComment,
		At:      now,
		User:    user,
		Comment: comment,
	})
	cached.UpdatedAt = now
	if err := db.storeAlert(ctx, *cached); err != nil {
		return false, err
	}
	return true, nil
}

func (db *AlertDB) storeAlert(ctx context.Context, rec domain.CachedAlert) error {
	if err := db.store.Put(ctx, alertKey(rec.Fingerprint), rec); err != nil {
		return err
	}
	stored := rec
	db.alerts[rec.Fingerprint] = &stored
	return nil
}

func anyReceiverMatches(receivers []string, match func(string) bool) bool {
	for _, r := range receivers {
		if match(r) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func withoutString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func fingerprintsEqual(a, b []domain.Fingerprint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func alertKey(fp domain.Fingerprint) string {
	return alertKeyPrefix + fp.String()
}
