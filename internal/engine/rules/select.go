package rules

import (
	"repoaudit/internal/engine/understanding"
)

type Strategy string

const (
	StrategySignalsPrimary Strategy = "signals_primary"
	StrategyRoleFallback   Strategy = "role_fallback"
	StrategyBaseline       Strategy = "baseline"
)

const DefaultMinRulesPerChunk = 3

type SelectOptions struct {
	Catalog          *Catalog
	FamilyMapping    map[string][]string
	Baseline         []string
	MinRulesPerChunk int
}

func (o SelectOptions) withDefaults() SelectOptions {
	if o.Catalog == nil {
		o.Catalog = DefaultCatalog()
	}
	if o.FamilyMapping == nil {
		o.FamilyMapping = DefaultFamilyMapping
	}
	if len(o.Baseline) == 0 {
		o.Baseline = DefaultBaseline
	}
	if o.MinRulesPerChunk <= 0 {
		o.MinRulesPerChunk = DefaultMinRulesPerChunk
	}
	return o
}

type Selection struct {
	RuleIDs  []string `json:"rule_ids"`
	Strategy Strategy `json:"strategy"`
}

// SelectCandidates routes a chunk to rules. Every signal-matched rule is
// returned in catalog order. Without a match the chunk gets exactly
// MinRulesPerChunk rules, role-derived ids first and baseline ids after.
func SelectCandidates(u understanding.ChunkUnderstanding, opts SelectOptions) Selection {
	opts = opts.withDefaults()
	set := u.SignalSet()

	var matched []string
	for _, r := range opts.Catalog.rules {
		if r.Matches(set) {
			matched = append(matched, r.ID)
		}
	}
	if len(matched) > 0 {
		return Selection{RuleIDs: matched, Strategy: StrategySignalsPrimary}
	}

	if u.HasRoleInfo() {
		var roleIDs []string
		if u.Role != "" {
			roleIDs = append(roleIDs, opts.FamilyMapping[u.Role]...)
		}
		if u.Exposure != "" {
			roleIDs = append(roleIDs, opts.FamilyMapping["exposure:"+u.Exposure]...)
		}
		if hasAny(opts.Catalog, roleIDs) {
			return Selection{RuleIDs: fill(opts, roleIDs), Strategy: StrategyRoleFallback}
		}
	}
	return Selection{RuleIDs: fill(opts, nil), Strategy: StrategyBaseline}
}

// fill returns exactly MinRulesPerChunk known ids: first from primary, then
// the baseline, then catalog order when the baseline runs short.
func fill(opts SelectOptions, primary []string) []string {
	want := opts.MinRulesPerChunk
	out := make([]string, 0, want)
	seen := make(map[string]bool, want)
	add := func(id string) {
		if len(out) >= want || seen[id] {
			return
		}
		if _, ok := opts.Catalog.Get(id); !ok {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range primary {
		add(id)
	}
	for _, id := range opts.Baseline {
		add(id)
	}
	for _, r := range opts.Catalog.rules {
		add(r.ID)
	}
	return out
}

func hasAny(c *Catalog, ids []string) bool {
	for _, id := range ids {
		if _, ok := c.Get(id); ok {
			return true
		}
	}
	return false
}
