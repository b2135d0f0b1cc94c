// Package amconfig models Alertmanager-compatible per-account
// configuration: the nested routing tree, receivers, inhibit rules, and
// time intervals, loaded from YAML.
package amconfig

// Config is one account's raw configuration file.
// Params: YAML document fields.
// Returns: decoded config before inheritance and validation.
type Config struct {
	Route             *Route             `yaml:"route"`
	Receivers         []Receiver         `yaml:"receivers"`
	InhibitRules      []InhibitRule      `yaml:"inhibit_rules"`
	MuteTimeIntervals []NamedTimeInterval `yaml:"mute_time_intervals"`
	TimeIntervals     []NamedTimeInterval `yaml:"time_intervals"`
}

// Route is one node of the nested routing tree.
// Params: match forms, grouping, timing, and child routes.
// Returns: tree node; timing fields nil until inherited or defaulted.
type Route struct {
	Receiver string   `yaml:"receiver"`
	GroupBy  []string `yaml:"group_by"`
	Continue bool     `yaml:"continue"`

	Match    map[string]string `yaml:"match"`
	MatchRE  map[string]string `yaml:"match_re"`
	Matchers []string          `yaml:"matchers"`

	GroupWait      *Duration `yaml:"group_wait"`
	GroupInterval  *Duration `yaml:"group_interval"`
	RepeatInterval *Duration `yaml:"repeat_interval"`

	MuteTimeIntervals   []string `yaml:"mute_time_intervals"`
	ActiveTimeIntervals []string `yaml:"active_time_intervals"`

	Routes []*Route `yaml:"routes"`
}

// HasMatchers reports whether any match form is set on the node.
// Params: none.
// Returns: true when the node constrains which alerts reach it.
func (r *Route) HasMatchers() bool {
	return len(r.Match) > 0 || len(r.MatchRE) > 0 || len(r.Matchers) > 0
}

// Receiver names a notification target with its integration configs.
// Params: receiver name plus per-kind config lists.
// Returns: config consumed by the notifier layer.
type Receiver struct {
	Name             string            `yaml:"name"`
	WebhookConfigs   []WebhookConfig   `yaml:"webhook_configs"`
	PagerdutyConfigs []PagerdutyConfig `yaml:"pagerduty_configs"`
}

// WebhookConfig configures one generic webhook integration.
// Params: target URL (inline or file-loaded), resolved-notification flag,
// and alert truncation limit.
// Returns: webhook notifier settings.
type WebhookConfig struct {
	SendResolved *bool  `yaml:"send_resolved"`
	URL          string `yaml:"url"`
	URLFile      string `yaml:"url_file"`
	MaxAlerts    int    `yaml:"max_alerts"`
}

// WantsResolved reports the send_resolved flag, defaulting to true.
func (c WebhookConfig) WantsResolved() bool {
	return c.SendResolved == nil || *c.SendResolved
}

// PagerdutyConfig configures one PagerDuty Events v2 integration.
// Params: routing key (inline or file-loaded), event fields, and
// resolved-notification flag.
// Returns: pagerduty notifier settings.
type PagerdutyConfig struct {
	SendResolved   *bool  `yaml:"send_resolved"`
	RoutingKey     string `yaml:"routing_key"`
	RoutingKeyFile string `yaml:"routing_key_file"`
	URL            string `yaml:"url"`
	Client         string `yaml:"client"`
	ClientURL      string `yaml:"client_url"`
	Description    string `yaml:"description"`
	Severity       string `yaml:"severity"`
	Class          string `yaml:"class"`
	Component      string `yaml:"component"`
	Group          string `yaml:"group"`
}

// WantsResolved reports the send_resolved flag, defaulting to true.
func (c PagerdutyConfig) WantsResolved() bool {
	return c.SendResolved == nil || *c.SendResolved
}

// InhibitRule suppresses target alerts while a source alert fires.
// Params: the three matcher forms for each side plus the equal-label
// constraint.
// Returns: rule consumed by the inhibition store.
type InhibitRule struct {
	SourceMatch    map[string]string `yaml:"source_match"`
	SourceMatchRE  map[string]string `yaml:"source_match_re"`
	SourceMatchers []string          `yaml:"source_matchers"`
	TargetMatch    map[string]string `yaml:"target_match"`
	TargetMatchRE  map[string]string `yaml:"target_match_re"`
	TargetMatchers []string          `yaml:"target_matchers"`
	Equal          []string          `yaml:"equal"`
}

// NamedTimeInterval carries a named time-interval definition. Interval
// bodies are kept opaque: routes reference intervals by name but interval
// evaluation is not applied to dispatch.
type NamedTimeInterval struct {
	Name          string           `yaml:"name"`
	TimeIntervals []map[string]any `yaml:"time_intervals"`
}
