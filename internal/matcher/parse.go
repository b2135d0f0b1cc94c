package matcher

import (
	"fmt"
	"strings"

	"amroute/internal/domain"
)

// Parse reads one Alertmanager matcher string such as `severity="critical"`
// or `job=~"node.*"`. Supported operators are =, !=, =~, and !~. Values may
// be double-quoted with backslash escapes or left bare.
// Params: matcher text.
// Returns: parsed matcher or a validation error.
func Parse(s string) (domain.Matcher, error) {
	s = strings.TrimSpace(s)

	idx := strings.IndexAny(s, "=!")
	if idx <= 0 {
		return domain.Matcher{}, fmt.Errorf("invalid matcher %q: missing operator", s)
	}

	name := strings.TrimSpace(s[:idx])
	rest := s[idx:]

	var isRegex, isEqual bool
	switch {
	case strings.HasPrefix(rest, "=~"):
		isRegex, isEqual = true, true
		rest = rest[2:]
	case strings.HasPrefix(rest, "!~"):
		isRegex, isEqual = true, false
		rest = rest[2:]
	case strings.HasPrefix(rest, "!="):
		isRegex, isEqual = false, false
		rest = rest[2:]
	case strings.HasPrefix(rest, "="):
		isRegex, isEqual = false, true
		rest = rest[1:]
	default:
		return domain.Matcher{}, fmt.Errorf("invalid matcher %q: unknown operator", s)
	}

	value, err := parseValue(strings.TrimSpace(rest))
	if err != nil {
		return domain.Matcher{}, fmt.Errorf("invalid matcher %q: %w", s, err)
	}

	return domain.Matcher{Name: name, Value: value, IsRegex: isRegex, IsEqual: isEqual}, nil
}

// ParseAll parses a list of matcher strings.
// Params: matcher texts.
// Returns: parsed matchers in input order, or the first parse error.
func ParseAll(ss []string) ([]domain.Matcher, error) {
	ms := make([]domain.Matcher, 0, len(ss))
	for _, s := range ss {
		m, err := Parse(s)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

func parseValue(s string) (string, error) {
	if !strings.HasPrefix(s, `"`) {
		return s, nil
	}
	if len(s) < 2 || !strings.HasSuffix(s, `"`) {
		return "", fmt.Errorf("unterminated quoted value")
	}

	body := s[1 : len(s)-1]
	var b strings.Builder
	escaped := false
	for _, r := range body {
		if escaped {
			switch r {
			case '"', '\\':
				b.WriteRune(r)
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte('\\')
				b.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '"' {
			return "", fmt.Errorf("unescaped quote inside value")
		}
		b.WriteRune(r)
	}
	if escaped {
		return "", fmt.Errorf("dangling escape at end of value")
	}
	return b.String(), nil
}
