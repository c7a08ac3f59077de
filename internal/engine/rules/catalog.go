// Package rules holds the vulnerability rule catalog and the logic that routes
// a chunk's signals to the rules worth verifying.
package rules

import (
	"fmt"
	"strings"
	"sync"

	"repoaudit/internal/engine/signals"
)

type Cluster string

const (
	ClusterInjection     Cluster = "injection"
	ClusterAccessControl Cluster = "access_control"
	ClusterIntegrity     Cluster = "integrity"
	ClusterSecrets       Cluster = "secrets"
	ClusterResilience    Cluster = "resilience"
	// ClusterGeneral holds ids the catalog does not know.
	ClusterGeneral Cluster = "general"
)

type MatchKind int

const (
	MatchAny MatchKind = iota
	MatchAll
)

// Matcher is a tagged predicate over a signal set.
type Matcher struct {
	Kind    MatchKind
	Signals []signals.ID
}

func AnySignals(ids ...signals.ID) Matcher { return Matcher{Kind: MatchAny, Signals: ids} }
func AllSignals(ids ...signals.ID) Matcher { return Matcher{Kind: MatchAll, Signals: ids} }

func (m Matcher) Match(set signals.Set) bool {
	if len(m.Signals) == 0 {
		return false
	}
	switch m.Kind {
	case MatchAll:
		for _, id := range m.Signals {
			if !set.Has(id) {
				return false
			}
		}
		return true
	default:
		for _, id := range m.Signals {
			if set.Has(id) {
				return true
			}
		}
		return false
	}
}

type Rule struct {
	ID       string
	Title    string
	Severity string
	Guidance []string
	Matchers []Matcher
	Cluster  Cluster
	// ContradictedBy lists signals asserting the control this rule checks for.
	ContradictedBy []signals.ID
}

// Matches reports whether any matcher accepts set.
func (r Rule) Matches(set signals.Set) bool {
	for _, m := range r.Matchers {
		if m.Match(set) {
			return true
		}
	}
	return false
}

// SignalIDs returns every signal the rule mentions, matchers first.
func (r Rule) SignalIDs() []signals.ID {
	var out []signals.ID
	seen := map[signals.ID]bool{}
	add := func(id signals.ID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, m := range r.Matchers {
		for _, id := range m.Signals {
			add(id)
		}
	}
	for _, id := range r.ContradictedBy {
		add(id)
	}
	return out
}

// Catalog is immutable once built and safe for concurrent reads.
type Catalog struct {
	rules []Rule
	byID  map[string]int
}

func NewCatalog(list []Rule) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(list))}
	for _, r := range list {
		if err := validateRule(r); err != nil {
			return nil, err
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		c.byID[r.ID] = len(c.rules)
		c.rules = append(c.rules, r)
	}
	return c, nil
}

func validateRule(r Rule) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if strings.TrimSpace(string(r.Cluster)) == "" {
		return fmt.Errorf("rule %q must declare a cluster", r.ID)
	}
	if len(r.Matchers) == 0 {
		return fmt.Errorf("rule %q must declare any_signals or all_signals", r.ID)
	}
	for _, id := range r.SignalIDs() {
		if !id.Valid() {
			return fmt.Errorf("rule %q references unknown signal %q", r.ID, id)
		}
	}
	return nil
}

// With returns a new catalog holding c's rules followed by extra.
func (c *Catalog) With(extra []Rule) (*Catalog, error) {
	all := make([]Rule, 0, len(c.rules)+len(extra))
	all = append(all, c.rules...)
	all = append(all, extra...)
	return NewCatalog(all)
}

func (c *Catalog) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

func (c *Catalog) Get(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

func (c *Catalog) Len() int { return len(c.rules) }

// ResolveCluster returns the static cluster of id, or ClusterGeneral.
func (c *Catalog) ResolveCluster(id string) Cluster {
	if r, ok := c.Get(id); ok {
		return r.Cluster
	}
	return ClusterGeneral
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the built-in, process-wide catalog.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := NewCatalog(builtinRules())
		if err != nil {
			panic(fmt.Sprintf("rules: invalid builtin catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func ResolveCluster(id string) Cluster {
	return DefaultCatalog().ResolveCluster(id)
}
