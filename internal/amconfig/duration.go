package amconfig

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is an Alertmanager-style duration ("30s", "5m", "4h", "1h30m").
// Params: compound unit string from YAML.
// Returns: parsed duration usable wherever time.Duration is.
type Duration time.Duration

// UnmarshalYAML parses the duration string form.
// Params: YAML scalar node.
// Returns: parse error for malformed values.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Duration converts to the standard library type.
// Params: none.
// Returns: time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

var durationUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"y", 365 * 24 * time.Hour},
	{"w", 7 * 24 * time.Hour},
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
	{"ms", time.Millisecond},
}

// ParseDuration parses a compound duration with units y/w/d/h/m/s/ms.
// Units must appear in descending order at most once each.
// Params: duration text.
// Returns: parsed duration or a validation error.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if s == "0" {
		return 0, nil
	}

	var total time.Duration
	rest := s
	unitIdx := 0
	for rest != "" {
		digits := 0
		var n int64
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			n = n*10 + int64(rest[digits]-'0')
			digits++
		}
		if digits == 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		rest = rest[digits:]

		matched := false
		for ; unitIdx < len(durationUnits); unitIdx++ {
			u := durationUnits[unitIdx]
			if len(rest) >= len(u.suffix) && rest[:len(u.suffix)] == u.suffix {
				// "m" must not consume the "m" of a trailing "ms".
				if u.suffix == "m" && len(rest) > 1 && rest[1] == 's' {
					continue
				}
				total += time.Duration(n) * u.unit
				rest = rest[len(u.suffix):]
				unitIdx++
				matched = true
				break
			}
		}
		if !matched {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
	}
	return Duration(total), nil
}
