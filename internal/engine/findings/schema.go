package findings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

const findingSchemaDoc = `
openapi: "3.0.3"
info:
  title: repoaudit model output
  version: "1"
paths: {}
components:
  schemas:
    Finding:
      type: object
      required: [type, severity, summary]
      properties:
        type:
          type: string
          minLength: 1
        severity:
          type: string
          enum: [critical, high, medium, low, info]
        summary:
          type: string
          minLength: 1
        start_line:
          type: integer
          minimum: 1
        end_line:
          type: integer
          minimum: 1
        evidence:
          type: string
        details:
          type: string
        confidence:
          type: number
          minimum: 0
          maximum: 1
`

var (
	schemaOnce sync.Once
	schema     *openapi3.Schema
	schemaErr  error
)

func findingSchema() (*openapi3.Schema, error) {
	schemaOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData([]byte(findingSchemaDoc))
		if err != nil {
			schemaErr = fmt.Errorf("load finding schema: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			schemaErr = fmt.Errorf("validate finding schema: %w", err)
			return
		}
		ref := doc.Components.Schemas["Finding"]
		if ref == nil || ref.Value == nil {
			schemaErr = fmt.Errorf("finding schema missing")
			return
		}
		schema = ref.Value
	})
	return schema, schemaErr
}

// ParseLLMFindings validates decoded model output entries and converts the
// valid ones. Near-miss entries are coerced first (severity wording, line
// numbers outside loc, string confidences). Entries that still fail the
// schema are reported in the returned errors and skipped.
func ParseLLMFindings(items []any, loc Location, source Source) ([]Finding, []error) {
	s, err := findingSchema()
	if err != nil {
		return nil, []error{err}
	}

	var out []Finding
	var errs []error
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("finding[%d]: expected object, got %T", i, item))
			continue
		}
		m = coerce(m)
		if err := s.VisitJSON(m); err != nil {
			errs = append(errs, fmt.Errorf("finding[%d]: %w", i, err))
			continue
		}
		out = append(out, toFinding(m, loc, source))
	}
	return out, errs
}

func coerce(in map[string]any) map[string]any {
	m := make(map[string]any, len(in))
	for k, v := range in {
		m[k] = v
	}
	if _, ok := m["type"]; !ok {
		if v, ok := m["rule_id"]; ok {
			m["type"] = v
		}
	}
	if t, ok := m["type"].(string); ok {
		m["type"] = strings.TrimSpace(t)
	}
	if sev, ok := m["severity"].(string); ok {
		m["severity"] = string(ParseSeverity(sev))
	}
	if _, ok := m["summary"]; !ok {
		if v, ok := m["title"]; ok {
			m["summary"] = v
		}
	}
	for _, key := range []string{"start_line", "end_line"} {
		switch v := m[key].(type) {
		case nil:
		case float64:
			if v < 1 || v != float64(int(v)) {
				delete(m, key)
			}
		default:
			delete(m, key)
		}
	}
	if c, ok := m["confidence"].(float64); ok {
		m["confidence"] = min(max(c, 0), 1)
	} else {
		delete(m, "confidence")
	}
	for _, key := range []string{"evidence", "details"} {
		if _, ok := m[key].(string); !ok {
			delete(m, key)
		}
	}
	return m
}

func toFinding(m map[string]any, loc Location, source Source) Finding {
	f := Finding{
		Type:     m["type"].(string),
		Severity: Severity(m["severity"].(string)),
		Summary:  m["summary"].(string),
		Location: loc,
		Source:   source,
	}
	if v, ok := m["evidence"].(string); ok {
		f.Evidence = v
	}
	if v, ok := m["details"].(string); ok {
		f.Details = v
	}
	if v, ok := m["confidence"].(float64); ok {
		f.Confidence = v
	}
	start, hasStart := m["start_line"].(float64)
	end, hasEnd := m["end_line"].(float64)
	if hasStart && inside(int(start), loc) {
		f.Location.StartLine = int(start)
		f.Location.EndLine = int(start)
		if hasEnd && int(end) >= int(start) && inside(int(end), loc) {
			f.Location.EndLine = int(end)
		}
	}
	return f
}

func inside(line int, loc Location) bool {
	if loc.StartLine == 0 {
		return true
	}
	return line >= loc.StartLine && line <= loc.end()
}
