// Package routing compiles the nested account route tree into a
// content-addressed DAG and buckets incoming alerts into groups against
// it.
package routing

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"amroute/internal/amconfig"
	"amroute/internal/domain"
	"amroute/internal/matcher"
)

// FlatRoute is one compiled routing node. Inheritance is already
// resolved, the three match forms are normalized into a single matcher
// list, and children are held as node IDs so identity can be hashed
// bottom-up.
type FlatRoute struct {
	Matchers []domain.Matcher `json:"matchers"`
	Receiver string           `json:"receiver,omitempty"`
	GroupBy  []string         `json:"group_by"`
	Continue bool             `json:"continue"`

	GroupWait      time.Duration `json:"group_wait"`
	GroupInterval  time.Duration `json:"group_interval"`
	RepeatInterval time.Duration `json:"repeat_interval"`

	MuteTimeIntervals []string `json:"mute_time_intervals,omitempty"`

	Routes []string `json:"routes,omitempty"`
}

// Compiled is the routing DAG for one account config.
// Params: root node IDs and the node table.
// Returns: structure the grouper walks per incoming alert.
type Compiled struct {
	Roots []string             `json:"roots"`
	Tree  map[string]FlatRoute `json:"tree"`
}

// Collapse flattens a normalized route tree into its DAG form. Node IDs
// are content hashes over node fields plus ordered child IDs, computed
// post-order, so structurally identical subtrees share one node and an
// unchanged config always reproduces the same IDs.
// Params: root route after amconfig.Parse.
// Returns: compiled DAG or a matcher normalization error.
func Collapse(root *amconfig.Route) (Compiled, error) {
	c := Compiled{Tree: make(map[string]FlatRoute)}
	hasParent := make(map[string]bool)

	rootID, err := collapseNode(root, &c, hasParent)
	if err != nil {
		return Compiled{}, err
	}

	ids := make([]string, 0, len(c.Tree))
	for id := range c.Tree {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !hasParent[id] {
			c.Roots = append(c.Roots, id)
		}
	}
	if len(c.Roots) == 0 {
		c.Roots = []string{rootID}
	}
	return c, nil
}

func collapseNode(node *amconfig.Route, c *Compiled, hasParent map[string]bool) (string, error) {
	children := make([]string, 0, len(node.Routes))
	for _, child := range node.Routes {
		id, err := collapseNode(child, c, hasParent)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	matchers, err := normalizeMatchers(node)
	if err != nil {
		return "", err
	}

	flat := FlatRoute{
		Matchers:          matchers,
		Receiver:          node.Receiver,
		GroupBy:           node.GroupBy,
		Continue:          node.Continue,
		GroupWait:         node.GroupWait.Duration(),
		GroupInterval:     node.GroupInterval.Duration(),
		RepeatInterval:    node.RepeatInterval.Duration(),
		MuteTimeIntervals: node.MuteTimeIntervals,
		Routes:            children,
	}

	id := nodeID(flat)
	c.Tree[id] = flat
	for _, child := range children {
		hasParent[child] = true
	}
	return id, nil
}

// normalizeMatchers folds match, match_re, and matcher strings into one
// ordered list: equality matchers by sorted label name, then regex
// matchers by sorted label name, then parsed matcher strings in config
// order.
// Params: route node.
// Returns: normalized matchers or a matcher parse error.
func normalizeMatchers(node *amconfig.Route) ([]domain.Matcher, error) {
	out := make([]domain.Matcher, 0, len(node.Match)+len(node.MatchRE)+len(node.Matchers))

	for _, name := range sortedKeys(node.Match) {
		out = append(out, domain.Matcher{Name: name, Value: node.Match[name], IsEqual: true})
	}
	for _, name := range sortedKeys(node.MatchRE) {
		out = append(out, domain.Matcher{Name: name, Value: node.MatchRE[name], IsRegex: true, IsEqual: true})
	}
	parsed, err := matcher.ParseAll(node.Matchers)
	if err != nil {
		return nil, err
	}
	return append(out, parsed...), nil
}

// nodeID hashes one flat node into its content address.
// Params: flat node with child IDs already assigned.
// Returns: hex SHA-1 of the canonical serialization.
func nodeID(flat FlatRoute) string {
	canonical := make([]byte, 0, 256)
	for _, m := range flat.Matchers {
		canonical = append(canonical, m.Name...)
		canonical = append(canonical, 0)
		canonical = append(canonical, m.Value...)
		canonical = append(canonical, 0)
		canonical = appendBool(canonical, m.IsRegex)
		canonical = appendBool(canonical, m.IsEqual)
	}
	canonical = append(canonical, '\n')
	canonical = append(canonical, flat.Receiver...)
	canonical = append(canonical, '\n')
	for _, name := range flat.GroupBy {
		canonical = append(canonical, name...)
		canonical = append(canonical, 0)
	}
	canonical = append(canonical, '\n')
	canonical = appendBool(canonical, flat.Continue)
	canonical = strconv.AppendInt(canonical, int64(flat.GroupWait), 10)
	canonical = append(canonical, ',')
	canonical = strconv.AppendInt(canonical, int64(flat.GroupInterval), 10)
	canonical = append(canonical, ',')
	canonical = strconv.AppendInt(canonical, int64(flat.RepeatInterval), 10)
	canonical = append(canonical, '\n')
	for _, interval := range flat.MuteTimeIntervals {
		canonical = append(canonical, interval...)
		canonical = append(canonical, 0)
	}
	canonical = append(canonical, '\n')
	for _, child := range flat.Routes {
		canonical = append(canonical, child...)
		canonical = append(canonical, 0)
	}

	digest := sha1.Sum(canonical)
	return hex.EncodeToString(digest[:])
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, '1')
	}
	return append(b, '0')
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Node looks one compiled node up by ID.
// Params: node ID.
// Returns: flat node or an error for a dangling reference.
func (c Compiled) Node(id string) (FlatRoute, error) {
	node, ok := c.Tree[id]
	if !ok {
		return FlatRoute{}, fmt.Errorf("routing node %q not in tree", id)
	}
	return node, nil
}
