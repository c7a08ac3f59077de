package formats

import (
	"strconv"
	"strings"

	"repoaudit/internal/engine/findings"
	"repoaudit/internal/shared/util"
)

// relativeURI converts an absolute file path to a forward-slash path relative
// to projectRoot. Relative paths are returned with forward slashes.
func relativeURI(projectRoot, filePath string) string {
	return util.RelSlash(projectRoot, filePath)
}

// severityLevel maps a finding severity onto a SARIF result level.
func severityLevel(s findings.Severity) string {
	switch s {
	case findings.SeverityCritical, findings.SeverityHigh:
		return "error"
	case findings.SeverityMedium:
		return "warning"
	case findings.SeverityLow:
		return "note"
	default:
		return "none"
	}
}

func lineRange(loc findings.Location) string {
	switch {
	case loc.StartLine == 0:
		return loc.FilePath
	case loc.EndLine > loc.StartLine:
		return loc.FilePath + ":" + strconv.Itoa(loc.StartLine) + "-" + strconv.Itoa(loc.EndLine)
	default:
		return loc.FilePath + ":" + strconv.Itoa(loc.StartLine)
	}
}

// oneLine flattens s so it fits in a table cell.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\t", " ")
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
