package formats

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/shared/version"
)

const toolName = "repoaudit"

// GenerateSARIF builds a SARIF v2.1.0 document with one rule per finding
// type. File URIs are made relative to projectRoot so reports are safe to
// share. catalog may be nil; it only supplies rule descriptions.
func GenerateSARIF(projectRoot string, list []findings.Finding, catalog *rules.Catalog) ([]byte, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("create SARIF report: %w", err)
	}
	run := sarif.NewRunWithInformationURI(toolName, version.InformationURI)

	worst := map[string]findings.Severity{}
	for _, f := range list {
		if cur, ok := worst[f.Type]; !ok || f.Severity.Rank() > cur.Rank() {
			worst[f.Type] = f.Severity
		}
	}
	types := make([]string, 0, len(worst))
	for t := range worst {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		run.AddRule(t).
			WithDescription(ruleDescription(t, catalog)).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: severityLevel(worst[t])})
	}

	for _, f := range list {
		region := sarif.NewRegion()
		if f.Location.StartLine > 0 {
			region.WithStartLine(f.Location.StartLine)
			if f.Location.EndLine >= f.Location.StartLine {
				region.WithEndLine(f.Location.EndLine)
			}
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(relativeURI(projectRoot, f.Location.FilePath))).
				WithRegion(region),
		)

		result := sarif.NewRuleResult(f.Type).
			WithMessage(sarif.NewTextMessage(message(f))).
			WithLevel(severityLevel(f.Severity)).
			WithLocations([]*sarif.Location{location})
		result.PropertyBag = *sarif.NewPropertyBag()
		result.Properties["severity"] = string(f.Severity)
		result.Properties["source"] = string(f.Source)
		if f.Confidence > 0 {
			result.Properties["confidence"] = f.Confidence
		}
		if f.Tool != "" {
			result.Properties["tool"] = f.Tool
		}
		run.AddResult(result)
	}
	report.AddRun(run)

	var buf bytes.Buffer
	if err := report.PrettyWrite(&buf); err != nil {
		return nil, fmt.Errorf("write SARIF report: %w", err)
	}
	return buf.Bytes(), nil
}

func ruleDescription(findingType string, catalog *rules.Catalog) string {
	if catalog != nil {
		if r, ok := catalog.Get(findingType); ok {
			return r.Title
		}
	}
	return findingType
}

func message(f findings.Finding) string {
	msg := f.Summary
	if f.Details != "" {
		msg += "\n\n" + f.Details
	}
	return msg
}
