// Package report renders scan results for people and for other tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"repoaudit/internal/core/ports"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/shared/version"
	"repoaudit/internal/ui/report/formats"
)

const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatSARIF    = "sarif"
	FormatMarkdown = "markdown"
	FormatTSV      = "tsv"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	criticalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	highStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FB923C")).
			Bold(true)

	mediumStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24"))

	lowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type Options struct {
	ProjectName string
	Verbosity   string
	// Catalog supplies rule titles for SARIF; nil falls back to finding types.
	Catalog *rules.Catalog
}

// Write renders res in format to w.
func Write(w io.Writer, format string, res ports.ScanResult, opts Options) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		_, err := io.WriteString(w, Text(res))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case FormatSARIF:
		data, err := formats.GenerateSARIF(res.Root, res.Findings, opts.Catalog)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatMarkdown:
		out, err := formats.NewMarkdownGenerator().Generate(res, formats.MarkdownReportOptions{
			ProjectName: opts.ProjectName,
			Version:     version.Version,
			GeneratedAt: res.FinishedAt,
			Verbosity:   opts.Verbosity,
		})
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	case FormatTSV:
		out, err := formats.NewTSVGenerator(res.Root).Generate(res.Findings)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// Text renders a terminal summary grouped by file.
func Text(res ports.ScanResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("repoaudit "+version.Version) + "\n")
	b.WriteString(statusStyle.Render(fmt.Sprintf("%s  files=%d chunks=%d duration=%s",
		res.RunID, res.FilesScanned, len(res.Chunks), res.Duration().Round(1e6))) + "\n\n")

	if len(res.Findings) == 0 {
		b.WriteString(lowStyle.Render("No findings.") + "\n")
	} else {
		byFile := map[string][]findings.Finding{}
		for _, f := range res.Findings {
			byFile[f.Location.FilePath] = append(byFile[f.Location.FilePath], f)
		}
		files := make([]string, 0, len(byFile))
		for f := range byFile {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, file := range files {
			b.WriteString(titleStyle.Render(file) + "\n")
			for _, f := range byFile[file] {
				line := ""
				if f.Location.StartLine > 0 {
					line = fmt.Sprintf(":%d", f.Location.StartLine)
				}
				b.WriteString(fmt.Sprintf("  %s %s%s %s\n",
					severityStyle(f.Severity).Render(fmt.Sprintf("%-8s", strings.ToUpper(string(f.Severity)))),
					f.Type, line, f.Summary))
				if f.Evidence != "" {
					b.WriteString(statusStyle.Render("           "+firstLine(f.Evidence)) + "\n")
				}
			}
		}
	}

	counts := findings.Counts(res.Findings)
	b.WriteString(fmt.Sprintf("\n%s critical  %s high  %s medium  %s low  %d info\n",
		criticalStyle.Render(fmt.Sprint(counts[findings.SeverityCritical])),
		highStyle.Render(fmt.Sprint(counts[findings.SeverityHigh])),
		mediumStyle.Render(fmt.Sprint(counts[findings.SeverityMedium])),
		lowStyle.Render(fmt.Sprint(counts[findings.SeverityLow])),
		counts[findings.SeverityInfo]))

	for _, w := range res.Warnings {
		b.WriteString(mediumStyle.Render("warning: ") + w + "\n")
	}
	return b.String()
}

func severityStyle(s findings.Severity) lipgloss.Style {
	switch s {
	case findings.SeverityCritical:
		return criticalStyle
	case findings.SeverityHigh:
		return highStyle
	case findings.SeverityMedium:
		return mediumStyle
	case findings.SeverityLow:
		return lowStyle
	default:
		return statusStyle
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
