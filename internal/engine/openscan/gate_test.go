package openscan

import (
	"testing"

	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/engine/signals"
	"repoaudit/internal/engine/understanding"

	"github.com/stretchr/testify/assert"
)

func chunk(ids ...signals.ID) understanding.ChunkUnderstanding {
	list := make([]signals.Signal, 0, len(ids))
	for _, id := range ids {
		list = append(list, signals.Signal{ID: id, Confidence: 0.8})
	}
	return understanding.FromSignals(understanding.Fallback{ChunkID: "c1", FilePath: "api/run.ts"}, list)
}

func input(u understanding.ChunkUnderstanding) Input {
	sel := rules.SelectCandidates(u, rules.SelectOptions{})
	return Input{
		Understanding:   u,
		SelectedRuleIDs: sel.RuleIDs,
		Strategy:        sel.Strategy,
		StartLine:       1,
		EndLine:         40,
	}
}

func TestFallbackStrategiesAlwaysRun(t *testing.T) {
	for _, strategy := range []rules.Strategy{rules.StrategyBaseline, rules.StrategyRoleFallback} {
		in := Input{Understanding: chunk(), SelectedRuleIDs: []string{"sql_injection"}, Strategy: strategy}
		assert.True(t, ShouldRun(in, DefaultThresholds()), strategy)
	}
}

func TestHighRiskSignalSensitiveToFindings(t *testing.T) {
	in := input(chunk(signals.ExecSink, signals.UntrustedInputPresent))
	assert.Contains(t, in.SelectedRuleIDs, "command_injection")

	assert.True(t, ShouldRun(in, DefaultThresholds()), "no findings yet")

	in.RuleFindingsSoFar = []findings.Finding{{
		Type:     "command_injection",
		Severity: findings.SeverityCritical,
		Location: findings.Location{FilePath: "api/run.ts", StartLine: 12, EndLine: 12},
	}}
	assert.False(t, ShouldRun(in, DefaultThresholds()), "risk already covered")

	in.RuleFindingsSoFar[0].Location.FilePath = "other.ts"
	assert.True(t, ShouldRun(in, DefaultThresholds()), "finding elsewhere does not cover this chunk")
}

func TestPublicExposureNeedsEveryRiskCovered(t *testing.T) {
	in := input(chunk(signals.PublicEntrypoint, signals.AuthnMissingOrUnknown, signals.ExpensiveOperation))
	assert.Contains(t, in.SelectedRuleIDs, "missing_authentication")
	assert.Contains(t, in.SelectedRuleIDs, "missing_rate_limit")

	loc := findings.Location{FilePath: "api/run.ts", StartLine: 3, EndLine: 3}
	in.RuleFindingsSoFar = []findings.Finding{{Type: "missing_authentication", Location: loc}}
	assert.True(t, ShouldRun(in, DefaultThresholds()))

	in.RuleFindingsSoFar = append(in.RuleFindingsSoFar, findings.Finding{Type: "missing_rate_limit", Location: loc})
	assert.False(t, ShouldRun(in, DefaultThresholds()))
}

func TestContradictedRulesSkip(t *testing.T) {
	// authn/authz asserted present, missing-control rules selected by weak signals.
	u := chunk(signals.AuthnMissingOrUnknown, signals.AuthzMissingOrUnknown, signals.AuthnPresent, signals.AuthzPresent, signals.ParameterizedQuery)
	in := Input{
		Understanding:   u,
		SelectedRuleIDs: []string{"missing_authentication", "missing_authorization"},
		Strategy:        rules.StrategySignalsPrimary,
	}
	d := Evaluate(in, DefaultThresholds())
	assert.False(t, d.Run)
	assert.Equal(t, "selected rules contradicted by present controls", d.Reason)
}

func TestContradictionDoesNotHideUncoveredExec(t *testing.T) {
	u := chunk(signals.ExecSink, signals.AuthnPresent, signals.AuthnMissingOrUnknown)
	in := Input{
		Understanding:   u,
		SelectedRuleIDs: []string{"missing_authentication", "command_injection"},
		Strategy:        rules.StrategySignalsPrimary,
	}
	assert.True(t, ShouldRun(in, DefaultThresholds()))
}

func TestCoverageStep(t *testing.T) {
	th := DefaultThresholds()

	rich := Input{
		Understanding:   chunk(signals.WeakCrypto, signals.SecretLiteral),
		SelectedRuleIDs: []string{"weak_crypto", "hardcoded_secret"},
		Strategy:        rules.StrategySignalsPrimary,
	}
	assert.False(t, ShouldRun(rich, th))

	thin := Input{
		Understanding:   chunk(signals.WeakCrypto),
		SelectedRuleIDs: []string{"weak_crypto", "hardcoded_secret", "sql_injection", "xss"},
		Strategy:        rules.StrategySignalsPrimary,
	}
	assert.True(t, ShouldRun(thin, th))

	th.LowCoverageRatio = 0.2
	th.MinSignalsPerRule = 0.2
	assert.False(t, ShouldRun(thin, th), "thresholds are configurable")
}

func TestEmptySelectionRuns(t *testing.T) {
	in := Input{Understanding: chunk(), Strategy: rules.StrategySignalsPrimary}
	assert.True(t, ShouldRun(in, DefaultThresholds()))
}
