package formats

import (
	"fmt"
	"strings"
	"time"

	"repoaudit/internal/core/ports"
	"repoaudit/internal/engine/findings"
)

type MarkdownReportOptions struct {
	ProjectName         string
	Version             string
	GeneratedAt         time.Time
	Verbosity           string
	CollapsibleSections bool
}

type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

func (m *MarkdownGenerator) Generate(res ports.ScanResult, opts MarkdownReportOptions) (string, error) {
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}
	verbosity := normalizeReportVerbosity(opts.Verbosity)

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Security Audit Report\n")
	b.WriteString("project: " + nonEmpty(opts.ProjectName, "unknown") + "\n")
	b.WriteString("run_id: " + nonEmpty(res.RunID, "unknown") + "\n")
	if res.Commit != "" {
		b.WriteString("commit: " + res.Commit + "\n")
	}
	b.WriteString("generated_at: " + opts.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + nonEmpty(opts.Version, "unknown") + "\n")
	b.WriteString("---\n\n")

	b.WriteString("# Audit Report\n\n")

	counts := findings.Counts(res.Findings)
	b.WriteString("## Executive Summary\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	b.WriteString(fmt.Sprintf("| Files Scanned | %d |\n", res.FilesScanned))
	b.WriteString(fmt.Sprintf("| Chunks | %d |\n", len(res.Chunks)))
	b.WriteString(fmt.Sprintf("| Entry Points | %d |\n", res.Stats.EntryPoints))
	for _, sev := range severities {
		b.WriteString(fmt.Sprintf("| %s | %d |\n", severityTitle(sev), counts[sev]))
	}
	b.WriteString(fmt.Sprintf("| Warnings | %d |\n\n", len(res.Warnings)))

	m.writeFindings(&b, res.Findings, opts.CollapsibleSections, verbosity)
	if verbosity == "detailed" {
		m.writeChunks(&b, res.Chunks, opts.CollapsibleSections)
	}
	m.writeWarnings(&b, res.Warnings)
	return b.String(), nil
}

func (m *MarkdownGenerator) writeFindings(b *strings.Builder, list []findings.Finding, collapsible bool, verbosity string) {
	b.WriteString("## Findings\n")
	if len(list) == 0 {
		b.WriteString("No findings reported.\n\n")
		return
	}
	rows := make([]string, 0, len(list))
	for i, f := range list {
		if verbosity == "summary" {
			rows = append(rows, fmt.Sprintf("| %d | %s | `%s` | `%s` |\n", i+1, f.Severity, f.Type, lineRange(f.Location)))
			continue
		}
		rows = append(rows, fmt.Sprintf("| %d | %s | `%s` | `%s` | %s | %s |\n",
			i+1, f.Severity, f.Type, lineRange(f.Location), f.Source, oneLine(f.Summary)))
	}
	header := []string{"| # | Severity | Type | Location | Source | Summary |\n", "| --- | --- | --- | --- | --- | --- |\n"}
	if verbosity == "summary" {
		header = []string{"| # | Severity | Type | Location |\n", "| --- | --- | --- | --- |\n"}
	}
	m.writeTableWithCollapse(b, "Finding details", collapsible, len(rows) > 10, header, rows)
}

func (m *MarkdownGenerator) writeChunks(b *strings.Builder, chunks []ports.ChunkReport, collapsible bool) {
	b.WriteString("## Chunk Routing\n")
	if len(chunks) == 0 {
		b.WriteString("No chunks produced.\n\n")
		return
	}
	rows := make([]string, 0, len(chunks))
	for _, c := range chunks {
		open := "no"
		if c.OpenScan {
			open = "yes (" + c.OpenReason + ")"
		}
		rows = append(rows, fmt.Sprintf("| `%s:%d-%d` | %s | %s | %s |\n",
			c.FilePath, c.StartLine, c.EndLine, c.Strategy, strings.Join(c.RuleIDs, ", "), open))
	}
	m.writeTableWithCollapse(
		b,
		"Chunk details",
		collapsible,
		len(rows) > 15,
		[]string{"| Chunk | Strategy | Rules | Open Scan |\n", "| --- | --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeWarnings(b *strings.Builder, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	b.WriteString("## Warnings\n")
	for _, w := range warnings {
		b.WriteString("- " + oneLine(w) + "\n")
	}
	b.WriteString("\n")
}

func (m *MarkdownGenerator) writeTableWithCollapse(
	b *strings.Builder,
	summary string,
	collapsible bool,
	collapse bool,
	header []string,
	rows []string,
) {
	if collapsible && collapse {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
	}
	for _, line := range header {
		b.WriteString(line)
	}
	for _, line := range rows {
		b.WriteString(line)
	}
	b.WriteString("\n")
	if collapsible && collapse {
		b.WriteString("</details>\n\n")
	}
}

var severities = []findings.Severity{
	findings.SeverityCritical,
	findings.SeverityHigh,
	findings.SeverityMedium,
	findings.SeverityLow,
	findings.SeverityInfo,
}

func severityTitle(s findings.Severity) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

func normalizeReportVerbosity(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "summary":
		return "summary"
	case "detailed":
		return "detailed"
	default:
		return "standard"
	}
}
