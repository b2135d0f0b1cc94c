// Package matcher evaluates label conditions for routing, silencing, and
// inhibition. Regex values are always anchored; compiled patterns live in
// an explicit cache owned by the caller rather than package-level state.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"amroute/internal/domain"
)

// Cache holds compiled anchored regexps keyed by their source pattern.
// Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// NewCache creates an empty regex cache.
// Params: none.
// Returns: cache ready for concurrent Compile calls.
func NewCache() *Cache {
	return &Cache{compiled: make(map[string]*regexp.Regexp)}
}

// Compile returns the anchored regexp for a pattern, compiling at most once.
// Params: raw pattern as written in config.
// Returns: compiled anchored regexp or compilation error.
func (c *Cache) Compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if re, ok := c.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(Anchor(pattern))
	if err != nil {
		return nil, fmt.Errorf("compile matcher pattern %q: %w", pattern, err)
	}
	c.compiled[pattern] = re
	return re, nil
}

// Anchor wraps a pattern with ^ and $ unless already present. Substring
// matches are never valid for label values.
// Params: raw pattern.
// Returns: anchored pattern.
func Anchor(pattern string) string {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern += "$"
	}
	return pattern
}

// Matches evaluates one matcher against a label set. A missing label is
// treated as the empty string.
// Params: matcher, alert labels, shared regex cache.
// Returns: match outcome, or an error for an invalid regex pattern.
func Matches(m domain.Matcher, labels map[string]string, cache *Cache) (bool, error) {
	value := labels[m.Name]

	var test bool
	if m.IsRegex {
		re, err := cache.Compile(m.Value)
		if err != nil {
			return false, err
		}
		test = re.MatchString(value)
	} else {
		test = m.Value == value
	}

	if m.IsEqual {
		return test, nil
	}
	return !test, nil
}

// MatchesAll evaluates a matcher list conjunctively.
// Params: matchers, alert labels, shared regex cache.
// Returns: true only when every matcher matches; empty list matches all.
func MatchesAll(ms []domain.Matcher, labels map[string]string, cache *Cache) (bool, error) {
	for _, m := range ms {
		ok, err := Matches(m, labels, cache)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
