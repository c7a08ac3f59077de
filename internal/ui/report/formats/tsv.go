package formats

import (
	"fmt"
	"strings"

	"repoaudit/internal/engine/findings"
)

type TSVGenerator struct {
	projectRoot string
}

func NewTSVGenerator(projectRoot string) *TSVGenerator {
	return &TSVGenerator{projectRoot: projectRoot}
}

// Generate writes one row per finding.
func (t *TSVGenerator) Generate(list []findings.Finding) (string, error) {
	var buf strings.Builder

	buf.WriteString("Severity\tType\tFile\tStartLine\tEndLine\tSource\tConfidence\tSummary\n")
	for _, f := range list {
		buf.WriteString(fmt.Sprintf("%s\t%s\t%s\t%d\t%d\t%s\t%.2f\t%s\n",
			f.Severity,
			f.Type,
			relativeURI(t.projectRoot, f.Location.FilePath),
			f.Location.StartLine,
			f.Location.EndLine,
			f.Source,
			f.Confidence,
			oneLine(f.Summary),
		))
	}

	return buf.String(), nil
}
