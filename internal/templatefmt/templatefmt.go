// Package templatefmt parses the text templates rendered into
// notification payloads, such as the PagerDuty event description.
package templatefmt

import (
	"encoding/json"
	"sort"
	"strings"
	"text/template"
)

// FuncMap returns shared notification template helpers.
// Params: none.
// Returns: deterministic helper map used for notification rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"toUpper": strings.ToUpper,
		"toLower": strings.ToLower,
		"join":    JoinLabels,
		"json":    MarshalJSON,
	}
}

// ParseNotificationTemplate parses one notification template with shared
// helpers. A reference to a missing field is a render error, not silent
// empty output.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseNotificationTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// JoinLabels renders a label map as name=value pairs in sorted name
// order, so template output is stable across renders.
// Params: pair separator and label map.
// Returns: joined string, empty for an empty map.
func JoinLabels(sep string, labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+labels[name])
	}
	return strings.Join(pairs, sep)
}

// MarshalJSON renders a value into a JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
