package amconfig

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultGroupWait      = 30 * time.Second
	defaultGroupInterval  = 5 * time.Minute
	defaultRepeatInterval = 4 * time.Hour
)

// Parse decodes, defaults, and validates one account config document.
// Inheritance runs exactly once here: after Parse every route node
// carries fully-resolved grouping and timing fields.
// Params: YAML document bytes.
// Returns: normalized config or a validation error.
func Parse(body []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode account config: %w", err)
	}
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize applies root defaults, runs the top-down inheritance pass,
// and validates receiver references.
// Params: decoded config.
// Returns: first validation error.
func normalize(cfg *Config) error {
	if cfg.Route == nil {
		return errors.New("route is required")
	}
	if cfg.Route.Receiver == "" {
		return errors.New("root route needs a receiver")
	}
	if cfg.Route.HasMatchers() {
		return errors.New("root route must not have matchers")
	}

	names := make(map[string]struct{}, len(cfg.Receivers))
	for _, r := range cfg.Receivers {
		if r.Name == "" {
			return errors.New("receiver without a name")
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("duplicate receiver %q", r.Name)
		}
		names[r.Name] = struct{}{}
	}

	if cfg.Route.GroupWait == nil {
		cfg.Route.GroupWait = durationPtr(defaultGroupWait)
	}
	if cfg.Route.GroupInterval == nil {
		cfg.Route.GroupInterval = durationPtr(defaultGroupInterval)
	}
	if cfg.Route.RepeatInterval == nil {
		cfg.Route.RepeatInterval = durationPtr(defaultRepeatInterval)
	}

	return inherit(cfg.Route, names)
}

// inherit pushes unset grouping/timing fields from parent to child so
// the routing compiler never needs parent context.
// Params: route node with resolved fields and known receiver names.
// Returns: first invalid receiver reference.
func inherit(parent *Route, receivers map[string]struct{}) error {
	if parent.Receiver != "" {
		if _, ok := receivers[parent.Receiver]; !ok {
			return fmt.Errorf("route references unknown receiver %q", parent.Receiver)
		}
	}
	for _, child := range parent.Routes {
		if child == nil {
			return errors.New("null route node")
		}
		if child.GroupBy == nil {
			child.GroupBy = parent.GroupBy
		}
		if child.GroupWait == nil {
			child.GroupWait = parent.GroupWait
		}
		if child.GroupInterval == nil {
			child.GroupInterval = parent.GroupInterval
		}
		if child.RepeatInterval == nil {
			child.RepeatInterval = parent.RepeatInterval
		}
		if child.MuteTimeIntervals == nil {
			child.MuteTimeIntervals = parent.MuteTimeIntervals
		}
		if err := inherit(child, receivers); err != nil {
			return err
		}
	}
	return nil
}

func durationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// FindReceiver looks a receiver up by name.
// Params: receiver name.
// Returns: receiver and presence flag.
func (c Config) FindReceiver(name string) (Receiver, bool) {
	for _, r := range c.Receivers {
		if r.Name == name {
			return r, true
		}
	}
	return Receiver{}, false
}
