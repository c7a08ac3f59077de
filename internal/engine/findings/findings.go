// Package findings defines the final finding model and merges results from
// the static scanner, the signal detector and model verification.
package findings

import (
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

func (s Severity) Rank() int { return severityRank[s] }

// ParseSeverity maps scanner and model wording onto Severity, defaulting to medium.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "blocker":
		return SeverityCritical
	case "high", "error", "major":
		return SeverityHigh
	case "medium", "moderate", "warning", "warn":
		return SeverityMedium
	case "low", "minor", "note":
		return SeverityLow
	case "info", "informational", "none":
		return SeverityInfo
	default:
		return SeverityMedium
	}
}

type Source string

const (
	SourceStatic   Source = "static"
	SourceDetector Source = "detector"
	SourceLLM      Source = "llm"
	SourceOpenScan Source = "open_scan"
)

var sourceRank = map[Source]int{
	SourceStatic:   4,
	SourceDetector: 3,
	SourceLLM:      2,
	SourceOpenScan: 1,
}

type Location struct {
	FilePath  string `json:"filepath"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Overlaps reports whether two locations share a file and at least one line.
// A zero line range matches any line in the file.
func (l Location) Overlaps(o Location) bool {
	if l.FilePath != o.FilePath {
		return false
	}
	if l.StartLine == 0 || o.StartLine == 0 {
		return true
	}
	return l.StartLine <= o.end() && o.StartLine <= l.end()
}

func (l Location) end() int {
	if l.EndLine < l.StartLine {
		return l.StartLine
	}
	return l.EndLine
}

type Finding struct {
	Type       string   `json:"type"`
	Severity   Severity `json:"severity"`
	Summary    string   `json:"summary"`
	Location   Location `json:"location"`
	Evidence   string   `json:"evidence,omitempty"`
	Details    string   `json:"details,omitempty"`
	Source     Source   `json:"source"`
	Confidence float64  `json:"confidence,omitempty"`
	Tool       string   `json:"tool,omitempty"`
}

// StaticFinding is what a static scanner reports.
type StaticFinding struct {
	Tool      string
	RuleID    string
	Message   string
	Severity  string
	FilePath  string
	StartLine int
	EndLine   int
}

var staticTypeKeywords = []struct {
	keywords []string
	ruleID   string
}{
	{[]string{"sql"}, "sql_injection"},
	{[]string{"command", "subprocess", "shell", "exec"}, "command_injection"},
	{[]string{"path-traversal", "path_traversal", "directory-traversal"}, "path_traversal"},
	{[]string{"xss", "cross-site-scripting", "innerhtml"}, "xss"},
	{[]string{"ssrf"}, "ssrf"},
	{[]string{"open-redirect", "redirect"}, "open_redirect"},
	{[]string{"deserializ", "pickle"}, "insecure_deserialization"},
	{[]string{"csrf"}, "csrf"},
	{[]string{"secret", "credential", "password", "api-key", "api-token", "hardcoded-token"}, "hardcoded_secret"},
	{[]string{"md5", "sha1", "weak-crypto", "insecure-hash", "ecb"}, "weak_crypto"},
}

// StaticType maps a scanner rule id onto a catalog rule id when the rule
// obviously targets the same weakness, and returns ruleID otherwise.
func StaticType(ruleID string) string {
	lower := strings.ToLower(ruleID)
	for _, entry := range staticTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.ruleID
			}
		}
	}
	return ruleID
}

func FromStatic(sf StaticFinding) Finding {
	return Finding{
		Type:     StaticType(sf.RuleID),
		Severity: ParseSeverity(sf.Severity),
		Summary:  sf.Message,
		Location: Location{FilePath: sf.FilePath, StartLine: sf.StartLine, EndLine: sf.EndLine},
		Details:  sf.RuleID,
		Source:   SourceStatic,
		Tool:     sf.Tool,
	}
}

// Covers reports whether any finding of type ruleID overlaps loc.
func Covers(list []Finding, ruleID string, loc Location) bool {
	for _, f := range list {
		if f.Type == ruleID && f.Location.Overlaps(loc) {
			return true
		}
	}
	return false
}
