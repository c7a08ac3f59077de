// Package openscan decides whether a chunk gets an unconstrained scan on top
// of its rule-scoped checks.
package openscan

import (
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/engine/signals"
	"repoaudit/internal/engine/understanding"
)

type Thresholds struct {
	// ContradictionRatio is the share of selected rules whose control is
	// asserted present that makes further scanning pointless.
	ContradictionRatio float64
	HighCoverageRatio  float64
	LowCoverageRatio   float64
	// MinSignalsPerRule is the signal count per selected rule below which
	// coverage is considered thin.
	MinSignalsPerRule float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ContradictionRatio: 0.5,
		HighCoverageRatio:  0.75,
		LowCoverageRatio:   0.5,
		MinSignalsPerRule:  0.5,
	}
}

type Input struct {
	Understanding     understanding.ChunkUnderstanding
	SelectedRuleIDs   []string
	RuleFindingsSoFar []findings.Finding
	Strategy          rules.Strategy
	// StartLine and EndLine bound the chunk; zero means the whole file.
	StartLine int
	EndLine   int
	Catalog   *rules.Catalog
}

// highRisk maps a present signal to the rules that verify it.
var highRisk = []struct {
	signal signals.ID
	rules  []string
}{
	{signals.ExecSink, []string{"command_injection"}},
	{signals.PublicEntrypoint, []string{"missing_authentication", "missing_rate_limit"}},
	{signals.DeserializationSink, []string{"insecure_deserialization"}},
}

// Decision carries the verdict and the step that produced it.
type Decision struct {
	Run    bool
	Reason string
}

func ShouldRun(in Input, th Thresholds) bool {
	return Evaluate(in, th).Run
}

// Evaluate applies, in order: weak selection strategy, contradiction by
// present controls, uncovered high-risk signals, covered high-risk signals,
// and finally signal coverage of the selected rules.
func Evaluate(in Input, th Thresholds) Decision {
	if in.Strategy != rules.StrategySignalsPrimary {
		return Decision{Run: true, Reason: "fallback rule selection"}
	}
	if len(in.SelectedRuleIDs) == 0 {
		return Decision{Run: true, Reason: "no rules selected"}
	}

	catalog := in.Catalog
	if catalog == nil {
		catalog = rules.DefaultCatalog()
	}
	set := in.Understanding.SignalSet()
	selected := make(map[string]bool, len(in.SelectedRuleIDs))
	for _, id := range in.SelectedRuleIDs {
		selected[id] = true
	}

	var known, evidenced, contradicted int
	contradictedIDs := make(map[string]bool)
	for _, id := range in.SelectedRuleIDs {
		r, ok := catalog.Get(id)
		if !ok {
			continue
		}
		known++
		if hasAny(set, r.SignalIDs()) {
			evidenced++
		}
		if hasAny(set, r.ContradictedBy) {
			contradicted++
			contradictedIDs[id] = true
		}
	}
	if known == 0 {
		return Decision{Run: true, Reason: "selected rules unknown to catalog"}
	}
	coverage := float64(evidenced) / float64(known)

	risky := activeHighRisk(set, selected)
	uncontradictedRisk := false
	for _, id := range risky {
		if !contradictedIDs[id] {
			uncontradictedRisk = true
			break
		}
	}
	if float64(contradicted)/float64(known) >= th.ContradictionRatio &&
		coverage >= th.HighCoverageRatio && !uncontradictedRisk {
		return Decision{Run: false, Reason: "selected rules contradicted by present controls"}
	}

	if len(risky) > 0 {
		loc := findings.Location{FilePath: in.Understanding.FilePath, StartLine: in.StartLine, EndLine: in.EndLine}
		for _, id := range risky {
			if !findings.Covers(in.RuleFindingsSoFar, id, loc) {
				return Decision{Run: true, Reason: "high-risk signal without finding: " + id}
			}
		}
		return Decision{Run: false, Reason: "high-risk signals already covered"}
	}

	signalsPerRule := float64(len(in.Understanding.Signals)) / float64(known)
	if coverage < th.LowCoverageRatio || signalsPerRule < th.MinSignalsPerRule {
		return Decision{Run: true, Reason: "thin signal coverage"}
	}
	return Decision{Run: false, Reason: "rule coverage sufficient"}
}

// activeHighRisk lists selected rules backing a present high-risk signal.
func activeHighRisk(set signals.Set, selected map[string]bool) []string {
	var out []string
	for _, hr := range highRisk {
		if !set.Has(hr.signal) {
			continue
		}
		for _, id := range hr.rules {
			if selected[id] {
				out = append(out, id)
			}
		}
	}
	return out
}

func hasAny(set signals.Set, ids []signals.ID) bool {
	for _, id := range ids {
		if set.Has(id) {
			return true
		}
	}
	return false
}
