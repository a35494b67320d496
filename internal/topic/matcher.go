package topic

import "fmt"

// Binding pairs a compiled pattern with the schema id bound to it. The
// binding set is ordered: on a tie between overlapping patterns, the
// earlier-listed binding wins.
type Binding struct {
	Pattern  Pattern
	SchemaID string
}

// ClientRule restricts a client to an additional allow-list of patterns,
// applied on top of (not instead of) the global pattern set.
type ClientRule struct {
	ClientID      string
	AllowedTopics []string
}

// Matcher matches concrete topics against a compiled, ordered set of
// patterns, and resolves the winning pattern's bound schema id. It is pure
// and safe for concurrent read access once built; it is never mutated
// after Build returns.
type Matcher struct {
	bindings []Binding
	root     *node

	clientRoots map[string]*node // client_id -> compiled allow-list trie
}

// Build compiles an ordered binding set (and optional per-client allow-list
// rules) into a Matcher. Malformed patterns fail the build, so the proxy
// refuses to start rather than run with a partially-compiled pattern set.
func Build(bindings []Binding, clientRules []ClientRule) (*Matcher, error) {
	m := &Matcher{
		bindings:    bindings,
		root:        newNode(),
		clientRoots: make(map[string]*node),
	}

	for i, b := range bindings {
		if len(b.Pattern.Levels()) == 0 {
			return nil, fmt.Errorf("topic: empty binding pattern at index %d", i)
		}
		insert(m.root, b.Pattern, i)
	}

	for _, rule := range clientRules {
		root := newNode()
		for i, raw := range rule.AllowedTopics {
			p, err := ParsePattern(raw)
			if err != nil {
				return nil, fmt.Errorf("topic: invalid client rule pattern for %s: %w", rule.ClientID, err)
			}
			insert(root, p, i)
		}
		m.clientRoots[rule.ClientID] = root
	}

	return m, nil
}

// Match reports whether topic is allowed and, if so, the schema id bound to
// the winning pattern. clientID may be empty if unknown; client-specific
// rules only apply when non-empty and registered.
//
// A topic that matches the global pattern set but fails a registered
// client's allow-list is rejected (matched=false), even though the global
// patterns would have accepted it.
func (m *Matcher) Match(topicStr string, clientID string) (matched bool, schemaID string) {
	levels := SplitTopic(topicStr)

	if clientRoot, ok := m.clientRoots[clientID]; ok && clientID != "" {
		var clientAcc []int
		collectMatches(clientRoot, levels, &clientAcc)
		if len(clientAcc) == 0 {
			return false, ""
		}
	}

	var acc []int
	collectMatches(m.root, levels, &acc)
	if len(acc) == 0 {
		return false, ""
	}

	winner := acc[0]
	for _, idx := range acc[1:] {
		if idx < winner {
			winner = idx
		}
	}
	return true, m.bindings[winner].SchemaID
}

// Bindings returns the compiled binding set, in insertion order.
func (m *Matcher) Bindings() []Binding { return m.bindings }
