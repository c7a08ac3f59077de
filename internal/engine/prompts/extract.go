package prompts

import (
	"encoding/json"
	"strings"

	"repoaudit/internal/core/errors"
)

// ExtractJSON decodes the first JSON object or array in a model reply,
// ignoring code fences and surrounding prose.
func ExtractJSON(text string) (any, error) {
	text = stripFences(text)
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var v any
		if err := dec.Decode(&v); err == nil {
			return v, nil
		}
	}
	return nil, errors.New(errors.CodeMalformedResponse, "no JSON value in model reply")
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ListField returns the entries of a reply that is either a bare array, an
// object holding the array under key, or a single object.
func ListField(v any, key string) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if inner, ok := t[key]; ok {
			if list, ok := inner.([]any); ok {
				return list, nil
			}
			if inner == nil {
				return nil, nil
			}
			return nil, errors.New(errors.CodeMalformedResponse, "field "+key+" is not an array")
		}
		return []any{t}, nil
	}
	return nil, errors.New(errors.CodeMalformedResponse, "unexpected JSON shape")
}

// Understandings parses a mapping reply into raw records.
func Understandings(reply string) ([]map[string]any, error) {
	v, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	list, err := ListField(v, "chunks")
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Findings parses a rule or open-scan reply into raw finding entries.
func Findings(reply string) ([]any, error) {
	v, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	list, err := ListField(v, "findings")
	if err != nil {
		return nil, err
	}
	return list, nil
}
