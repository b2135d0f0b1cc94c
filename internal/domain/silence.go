package domain

import "time"

// Matcher is one label condition used by routing, silencing, and inhibition.
// Params: label name, expected value or pattern, regex/equality flags.
// Returns: condition evaluated by the matcher engine.
type Matcher struct {
	Name    string `json:"name" yaml:"name"`
	Value   string `json:"value" yaml:"value"`
	IsRegex bool   `json:"is_regex" yaml:"is_regex"`
	IsEqual bool   `json:"is_equal" yaml:"is_equal"`
}

// MatchersSame compares two matcher lists element-wise in order.
// Params: two matcher lists.
// Returns: true only when lengths and every positional field pair agree.
func MatchersSame(a, b []Matcher) bool {
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

// Silence suppresses notification for alerts matching all of its matchers
// while the current time falls inside its window.
type Silence struct {
	ID        string    `json:"id"`
	Matchers  []Matcher `json:"matchers"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Comment   string    `json:"comment,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the silence window covers the given instant.
// Params: current time.
// Returns: true when startsAt <= now <= endsAt.
func (s Silence) Active(now time.Time) bool {
	return !now.Before(s.StartsAt) && !now.After(s.EndsAt)
}

// IsSame reports whether an update would leave the silence unchanged.
// Params: candidate silence.
// Returns: true when id, window, comment, creator, and the ordered
// matcher list all match; updatedAt is excluded.
func (s Silence) IsSame(other Silence) bool {
	return s.ID == other.ID &&
		s.StartsAt.Equal(other.StartsAt) &&
		s.EndsAt.Equal(other.EndsAt) &&
		s.Comment == other.Comment &&
		s.CreatedBy == other.CreatedBy &&
		MatchersSame(s.Matchers, other.Matchers)
}
