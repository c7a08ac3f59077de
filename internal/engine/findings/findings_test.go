package findings

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationOverlaps(t *testing.T) {
	a := Location{FilePath: "a.go", StartLine: 10, EndLine: 20}
	assert.True(t, a.Overlaps(Location{FilePath: "a.go", StartLine: 20, EndLine: 30}))
	assert.False(t, a.Overlaps(Location{FilePath: "a.go", StartLine: 21, EndLine: 30}))
	assert.False(t, a.Overlaps(Location{FilePath: "b.go", StartLine: 10, EndLine: 20}))
	assert.True(t, a.Overlaps(Location{FilePath: "a.go"}), "zero range matches the whole file")
	assert.True(t, a.Overlaps(Location{FilePath: "a.go", StartLine: 15}), "missing end line treated as single line")
}

func TestStaticType(t *testing.T) {
	assert.Equal(t, "sql_injection", StaticType("javascript.lang.security.audit.sqli.node-sql-injection"))
	assert.Equal(t, "command_injection", StaticType("python.lang.security.audit.subprocess-shell-true"))
	assert.Equal(t, "hardcoded_secret", StaticType("generic.secrets.security.detected-aws-access-key"))
	assert.Equal(t, "hardcoded_secret", StaticType("python.flask.hardcoded-token"))
	assert.Equal(t, "javascript.jsonwebtoken.jwt-none-alg-token", StaticType("javascript.jsonwebtoken.jwt-none-alg-token"))
	assert.Equal(t, "some.other.rule", StaticType("some.other.rule"))
}

func TestAggregate_DeduplicatesAndRanks(t *testing.T) {
	static := []StaticFinding{{
		Tool: "semgrep", RuleID: "go.lang.security.audit.sqli.string-formatted-query",
		Message: "SQL built with fmt.Sprintf", Severity: "error",
		FilePath: "store.go", StartLine: 12, EndLine: 12,
	}}
	detector := []Finding{{
		Type: "hardcoded_secret", Severity: SeverityHigh, Summary: "AWS key",
		Location: Location{FilePath: "config.go", StartLine: 3, EndLine: 3}, Source: SourceDetector,
	}}
	llm := []Finding{
		{
			Type: "sql_injection", Severity: SeverityCritical, Summary: "user id concatenated into query",
			Location: Location{FilePath: "store.go", StartLine: 10, EndLine: 14}, Source: SourceLLM,
		},
		{
			Type: "hardcoded_secret", Severity: SeverityHigh, Summary: "duplicate of detector",
			Location: Location{FilePath: "config.go", StartLine: 1, EndLine: 5}, Source: SourceLLM,
		},
		{
			Type: "missing_timeout", Severity: SeverityLow, Summary: "no timeout",
			Location: Location{FilePath: "client.go", StartLine: 40, EndLine: 41}, Source: SourceLLM,
		},
	}

	out := Aggregate(static, detector, llm)
	require.Len(t, out, 3)

	assert.Equal(t, "sql_injection", out[0].Type)
	assert.Equal(t, SeverityCritical, out[0].Severity, "higher severity wins")
	assert.Equal(t, SourceLLM, out[0].Source)

	assert.Equal(t, "hardcoded_secret", out[1].Type)
	assert.Equal(t, SourceDetector, out[1].Source, "detector beats model at equal severity")

	assert.Equal(t, "missing_timeout", out[2].Type)

	counts := Counts(out)
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 1, counts[SeverityLow])
}

func TestCovers(t *testing.T) {
	list := []Finding{{Type: "command_injection", Location: Location{FilePath: "run.go", StartLine: 5, EndLine: 6}}}
	assert.True(t, Covers(list, "command_injection", Location{FilePath: "run.go", StartLine: 1, EndLine: 10}))
	assert.False(t, Covers(list, "command_injection", Location{FilePath: "run.go", StartLine: 20, EndLine: 30}))
	assert.False(t, Covers(list, "sql_injection", Location{FilePath: "run.go", StartLine: 1, EndLine: 10}))
	assert.False(t, Covers(nil, "command_injection", Location{FilePath: "run.go"}))
}

func TestParseLLMFindings(t *testing.T) {
	var items []any
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type": "sql_injection", "severity": "High", "summary": "concatenated query", "start_line": 12, "end_line": 13, "confidence": 1.4},
		{"rule_id": "xss", "severity": "warning", "title": "innerHTML with user data", "start_line": 500},
		{"type": "", "severity": "low", "summary": "empty type"},
		{"type": "idor", "summary": "missing severity"},
		{"type": "ssrf", "severity": "high", "summary": 7},
		"not an object"
	]`), &items))

	loc := Location{FilePath: "api.ts", StartLine: 10, EndLine: 20}
	out, errs := ParseLLMFindings(items, loc, SourceLLM)
	require.Len(t, out, 2)
	assert.Len(t, errs, 4)

	assert.Equal(t, "sql_injection", out[0].Type)
	assert.Equal(t, SeverityHigh, out[0].Severity)
	assert.Equal(t, Location{FilePath: "api.ts", StartLine: 12, EndLine: 13}, out[0].Location)
	assert.Equal(t, 1.0, out[0].Confidence)

	assert.Equal(t, "xss", out[1].Type)
	assert.Equal(t, SeverityMedium, out[1].Severity)
	assert.Equal(t, "innerHTML with user data", out[1].Summary)
	assert.Equal(t, loc, out[1].Location, "out-of-range line falls back to chunk range")
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, ParseSeverity("ERROR"))
	assert.Equal(t, SeverityLow, ParseSeverity("note"))
	assert.Equal(t, SeverityMedium, ParseSeverity("???"))
}
