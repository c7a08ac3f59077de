// Package understanding normalizes per-chunk semantic records returned by the
// model into a canonical, signal-centric shape.
package understanding

import (
	"math"
	"strconv"
	"strings"

	"repoaudit/internal/engine/signals"
)

const (
	defaultConfidence = 0.5

	derivedPublicConfidence  = 0.85
	derivedHandlerConfidence = 0.8
	derivedExecConfidence    = 0.9
)

type Identifier struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

type DataSink struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ChunkUnderstanding always carries non-nil Signals and Identifiers. Exposure,
// Role and DataSinks are empty when the source record did not provide them.
type ChunkUnderstanding struct {
	ChunkID     string           `json:"chunk_id"`
	FilePath    string           `json:"file_path"`
	Confidence  float64          `json:"confidence"`
	Exposure    string           `json:"exposure,omitempty"`
	Role        string           `json:"role,omitempty"`
	DataSinks   []DataSink       `json:"data_sinks,omitempty"`
	Signals     []signals.Signal `json:"signals"`
	Identifiers []Identifier     `json:"identifiers"`
}

type Fallback struct {
	ChunkID  string
	FilePath string
}

// HasRoleInfo reports whether coarse role or exposure data is available.
func (u ChunkUnderstanding) HasRoleInfo() bool {
	return u.Role != "" || u.Exposure != ""
}

func (u ChunkUnderstanding) SignalSet() signals.Set {
	return signals.NewSet(u.Signals)
}

// Normalize coerces an untrusted record into a ChunkUnderstanding. It never
// fails: malformed fields fall back to defaults and unknown signal ids are
// dropped.
func Normalize(raw map[string]any, fallback Fallback) ChunkUnderstanding {
	u := ChunkUnderstanding{
		ChunkID:     firstString(raw, "chunk_id", "chunkId"),
		FilePath:    firstString(raw, "file_path", "filePath", "filepath"),
		Confidence:  clamp01(toFloat(raw["confidence"], defaultConfidence)),
		Exposure:    strings.ToLower(firstString(raw, "exposure")),
		Role:        strings.ToLower(firstString(raw, "role")),
		Signals:     []signals.Signal{},
		Identifiers: []Identifier{},
	}
	if u.ChunkID == "" {
		u.ChunkID = fallback.ChunkID
	}
	if u.FilePath == "" {
		u.FilePath = fallback.FilePath
	}
	if _, ok := raw["data_sinks"]; ok {
		u.DataSinks = parseDataSinks(raw["data_sinks"])
	}

	for _, item := range asSlice(raw["signals"]) {
		sig, ok := parseSignal(item)
		if !ok {
			continue
		}
		u.Signals = signals.Append(u.Signals, sig)
	}
	for _, item := range asSlice(raw["identifiers"]) {
		if id, ok := parseIdentifier(item); ok {
			u.Identifiers = append(u.Identifiers, id)
		}
	}

	u.Signals = derive(u)
	return u
}

func derive(u ChunkUnderstanding) []signals.Signal {
	out := u.Signals
	if u.Exposure == "public" {
		out = signals.Append(out, signals.Signal{ID: signals.PublicEntrypoint, Evidence: "exposure=public", Confidence: derivedPublicConfidence})
	}
	if u.Role == "api_handler" {
		out = signals.Append(out, signals.Signal{ID: signals.APIHandler, Evidence: "role=api_handler", Confidence: derivedHandlerConfidence})
	}
	for _, sink := range u.DataSinks {
		if sink.Type == "exec" {
			evidence := "data_sink type=exec"
			if sink.Name != "" {
				evidence += " name=" + sink.Name
			}
			out = signals.Append(out, signals.Signal{ID: signals.ExecSink, Evidence: evidence, Confidence: derivedExecConfidence})
			break
		}
	}
	return out
}

// MergeSignals folds detector signals into u, keeping existing entries on
// duplicate IDs.
func MergeSignals(u ChunkUnderstanding, extra []signals.Signal) ChunkUnderstanding {
	merged := append([]signals.Signal{}, u.Signals...)
	for _, sig := range extra {
		if sig.ID.Valid() {
			merged = signals.Append(merged, sig)
		}
	}
	u.Signals = merged
	return u
}

// FromSignals builds an understanding from detector output alone, used when
// no model output is available for a chunk.
func FromSignals(fallback Fallback, list []signals.Signal) ChunkUnderstanding {
	u := Normalize(nil, fallback)
	return MergeSignals(u, list)
}

func parseSignal(item any) (signals.Signal, bool) {
	switch v := item.(type) {
	case string:
		id, ok := signals.Parse(v)
		if !ok {
			return signals.Signal{}, false
		}
		return signals.Signal{ID: id, Confidence: defaultConfidence}, true
	case map[string]any:
		id, ok := signals.Parse(firstString(v, "id", "signal"))
		if !ok {
			return signals.Signal{}, false
		}
		return signals.Signal{
			ID:         id,
			Evidence:   firstString(v, "evidence"),
			Confidence: clamp01(toFloat(v["confidence"], defaultConfidence)),
		}, true
	default:
		return signals.Signal{}, false
	}
}

func parseIdentifier(item any) (Identifier, bool) {
	switch v := item.(type) {
	case string:
		v = strings.TrimSpace(v)
		return Identifier{Name: v}, v != ""
	case map[string]any:
		name := firstString(v, "name")
		return Identifier{Name: name, Kind: firstString(v, "kind", "type")}, name != ""
	default:
		return Identifier{}, false
	}
}

func parseDataSinks(value any) []DataSink {
	out := []DataSink{}
	for _, item := range asSlice(value) {
		switch v := item.(type) {
		case string:
			if t := strings.ToLower(strings.TrimSpace(v)); t != "" {
				out = append(out, DataSink{Type: t})
			}
		case map[string]any:
			t := strings.ToLower(firstString(v, "type", "kind"))
			if t == "" {
				continue
			}
			out = append(out, DataSink{Type: t, Name: firstString(v, "name", "target")})
		}
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func toFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return def
		}
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && !math.IsNaN(f) {
			return f
		}
	}
	return def
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
