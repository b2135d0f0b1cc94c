// Package account implements the per-account controller actor and the
// alert, silence, inhibition, and alert-group stores it owns. The
// controller is the single writer for its account's state; everything
// else reaches it over actor RPC.
package account

import (
	"context"
	"errors"
	"fmt"

	"amroute/internal/clock"
	"amroute/internal/domain"
	"amroute/internal/matcher"

	"github.com/google/uuid"
)

// ErrUnknownSilence indicates an update for a silence ID never stored.
var ErrUnknownSilence = errors.New("unknown silence id")

// recordStore is the slice of actor state the stores persist through.
type recordStore interface {
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// SilenceDB is the per-account silence store.
// Params: record persistence, clock, and shared regex cache.
// Returns: store holding every silence in memory after cold start.
type SilenceDB struct {
	store    recordStore
	clk      clock.Clock
	cache    *matcher.Cache
	silences map[string]domain.Silence
}

// NewSilenceDB creates an empty silence store.
// Params: record persistence, clock, and regex cache.
// Returns: store ready for Init.
func NewSilenceDB(store recordStore, clk clock.Clock, cache *matcher.Cache) *SilenceDB {
	return &SilenceDB{
		store:    store,
		clk:      clk,
		cache:    cache,
		silences: make(map[string]domain.Silence),
	}
}

// Init replaces the in-memory set with cold-start records.
// Params: silences keyed by ID.
// Returns: nothing.
func (db *SilenceDB) Init(silences map[string]domain.Silence) {
	db.silences = silences
}

// AddSilence creates or updates one silence. Updating an unknown ID
// fails; a field-identical update writes nothing.
// Params: posted silence, ID empty for creation.
// Returns: whether storage changed, the silence ID, and update errors.
func (db *SilenceDB) AddSilence(ctx context.Context, s domain.Silence) (bool, string, error) {
	if s.ID != "" {
		if _, ok := db.silences[s.ID]; !ok {
			return false, "", fmt.Errorf("%w: %s", ErrUnknownSilence, s.ID)
		}
	}

	rec := s
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UpdatedAt = db.clk.Now()

	if existing, ok := db.silences[rec.ID]; ok && existing.IsSame(rec) {
		return false, rec.ID, nil
	}

	if err := db.store.Put(ctx, silenceKey(rec.ID), rec); err != nil {
		return false, "", err
	}
	db.silences[rec.ID] = rec
	return true, rec.ID, nil
}

// Get looks one silence up by ID.
// Params: silence ID.
// Returns: silence and presence flag.
func (db *SilenceDB) Get(id string) (domain.Silence, bool) {
	s, ok := db.silences[id]
	return s, ok
}

// GetSilences lists silences, optionally narrowed by ID or by requiring
// specific matchers to be present on the silence.
// Params: optional ID and required matcher set.
// Returns: matching silences.
func (db *SilenceDB) GetSilences(id string, required []domain.Matcher) []domain.Silence {
	var candidates []domain.Silence
	if id != "" {
		if s, ok := db.silences[id]; ok {
			candidates = append(candidates, s)
		}
	} else {
		for _, s := range db.silences {
			candidates = append(candidates, s)
		}
	}
	if len(required) == 0 {
		return candidates
	}

	out := candidates[:0]
	for _, s := range candidates {
		if silenceHasMatchers(s, required) {
			out = append(out, s)
		}
	}
	return out
}

// SilencedBy returns the IDs of every active silence matching the alert.
// Params: alert labels owner.
// Returns: silence IDs or a matcher evaluation error.
func (db *SilenceDB) SilencedBy(alert domain.Alert) ([]string, error) {
	now := db.clk.Now()
	ids := make([]string, 0)
	for _, s := range db.silences {
		if !s.Active(now) {
			continue
		}
		ok, err := matcher.MatchesAll(s.Matchers, alert.Labels, db.cache)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// IsSilenced reports whether any active silence matches the alert.
// Params: alert labels owner.
// Returns: silenced flag or a matcher evaluation error.
func (db *SilenceDB) IsSilenced(alert domain.Alert) (bool, error) {
	ids, err := db.SilencedBy(alert)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func silenceHasMatchers(s domain.Silence, required []domain.Matcher) bool {
	for _, want := range required {
		found := false
		for _, have := range s.Matchers {
			if want == have {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func silenceKey(id string) string {
	return silenceKeyPrefix + id
}
