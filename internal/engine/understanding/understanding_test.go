package understanding

import (
	"encoding/json"
	"testing"

	"repoaudit/internal/engine/signals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func ids(list []signals.Signal) []signals.ID {
	out := make([]signals.ID, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}

func TestNormalize_Defaults(t *testing.T) {
	for name, raw := range map[string]map[string]any{
		"nil":         nil,
		"empty":       {},
		"wrong types": {"signals": "raw_sql_sink", "identifiers": 7, "confidence": "high"},
	} {
		t.Run(name, func(t *testing.T) {
			u := Normalize(raw, Fallback{ChunkID: "c1", FilePath: "a.ts"})
			assert.Equal(t, "c1", u.ChunkID)
			assert.Equal(t, "a.ts", u.FilePath)
			assert.Equal(t, 0.5, u.Confidence)
			assert.NotNil(t, u.Signals)
			assert.NotNil(t, u.Identifiers)
			assert.Empty(t, u.Signals)
			assert.Nil(t, u.DataSinks)
			assert.Empty(t, u.Role)
		})
	}
}

func TestNormalize_DropsUnknownSignals(t *testing.T) {
	u := Normalize(decode(t, `{
		"chunk_id": "from-model",
		"confidence": 1.7,
		"signals": [
			{"id": "raw_sql_sink", "evidence": "db.query(sql)", "confidence": 0.7},
			{"id": "totally_made_up", "confidence": 0.9},
			"untrusted_input_present",
			{"id": "raw_sql_sink", "evidence": "duplicate", "confidence": 0.1},
			42
		],
		"identifiers": ["userId", {"name": "db", "kind": "client"}, {"kind": "orphan"}]
	}`), Fallback{ChunkID: "fallback", FilePath: "x.ts"})

	assert.Equal(t, "from-model", u.ChunkID)
	assert.Equal(t, 1.0, u.Confidence)
	assert.Equal(t, []signals.ID{signals.RawSQLSink, signals.UntrustedInputPresent}, ids(u.Signals))
	assert.Equal(t, "db.query(sql)", u.Signals[0].Evidence)
	assert.Equal(t, []Identifier{{Name: "userId"}, {Name: "db", Kind: "client"}}, u.Identifiers)
}

func TestNormalize_DerivedSignals(t *testing.T) {
	u := Normalize(decode(t, `{
		"exposure": "public",
		"role": "api_handler",
		"data_sinks": [{"type": "sql"}, {"type": "exec", "name": "spawn"}]
	}`), Fallback{ChunkID: "c", FilePath: "f"})

	require.Len(t, u.Signals, 3)
	assert.Equal(t, signals.PublicEntrypoint, u.Signals[0].ID)
	assert.Equal(t, 0.85, u.Signals[0].Confidence)
	assert.Equal(t, signals.APIHandler, u.Signals[1].ID)
	assert.Equal(t, 0.8, u.Signals[1].Confidence)
	assert.Equal(t, signals.ExecSink, u.Signals[2].ID)
	assert.Equal(t, 0.9, u.Signals[2].Confidence)
	assert.Equal(t, []DataSink{{Type: "sql"}, {Type: "exec", Name: "spawn"}}, u.DataSinks)
}

func TestNormalize_DerivedDoesNotDuplicateExplicit(t *testing.T) {
	u := Normalize(decode(t, `{
		"exposure": "public",
		"signals": [{"id": "public_entrypoint", "confidence": 0.3, "evidence": "explicit"}]
	}`), Fallback{})

	require.Len(t, u.Signals, 1)
	assert.Equal(t, "explicit", u.Signals[0].Evidence)
	assert.Equal(t, 0.3, u.Signals[0].Confidence)
}

func TestNormalize_StringConfidence(t *testing.T) {
	u := Normalize(map[string]any{"confidence": " 0.25 "}, Fallback{})
	assert.Equal(t, 0.25, u.Confidence)
	u = Normalize(map[string]any{"confidence": -3.0}, Fallback{})
	assert.Equal(t, 0.0, u.Confidence)
}

func TestMergeSignals(t *testing.T) {
	u := Normalize(map[string]any{"signals": []any{"exec_sink"}}, Fallback{})
	merged := MergeSignals(u, []signals.Signal{
		{ID: signals.ExecSink, Evidence: "regex", Confidence: 0.75},
		{ID: signals.UntrustedInputPresent, Confidence: 0.6},
		{ID: signals.ID("bogus")},
	})
	assert.Equal(t, []signals.ID{signals.ExecSink, signals.UntrustedInputPresent}, ids(merged.Signals))
	assert.Empty(t, merged.Signals[0].Evidence)
	assert.Len(t, u.Signals, 1, "original must not be mutated")
}

func TestFromSignals(t *testing.T) {
	u := FromSignals(Fallback{ChunkID: "c", FilePath: "f"}, []signals.Signal{{ID: signals.WeakCrypto, Confidence: 0.7}})
	assert.Equal(t, "c", u.ChunkID)
	assert.True(t, u.SignalSet().Has(signals.WeakCrypto))
	assert.False(t, u.HasRoleInfo())
}
