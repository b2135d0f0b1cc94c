package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced clock for deterministic tests.
// Params: starting instant.
// Returns: clock whose Now moves only via Set/Advance.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at the given instant.
// Params: starting instant.
// Returns: initialized fake clock.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the current fake instant.
// Params: none.
// Returns: frozen timestamp.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the fake clock to an absolute instant.
// Params: new instant.
// Returns: nothing.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Advance moves the fake clock forward by a duration.
// Params: offset to add.
// Returns: nothing.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
