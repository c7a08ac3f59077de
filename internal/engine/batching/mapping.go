// Package batching packs chunks and rule sets into prompt-sized batches.
package batching

import (
	"strconv"

	"repoaudit/internal/engine/chunker"
)

const (
	// CharsPerToken is the divisor of the content-length token estimate.
	CharsPerToken = 4
	// PerChunkOverhead covers the id and line markers wrapped around each chunk.
	PerChunkOverhead = 16

	DefaultBasePromptTokens = 800
	DefaultMaxPromptTokens  = 12000
	DefaultMinBatchSize     = 1
	DefaultMaxBatchChunks   = 8
)

type Options struct {
	BasePromptTokens int
	MaxPromptTokens  int
	// MinBatchSize is the number of chunks a batch accepts before the token
	// budget is enforced. With the default of 1 only an oversized first
	// chunk can exceed the budget.
	MinBatchSize   int
	MaxBatchChunks int
}

func (o Options) withDefaults() Options {
	if o.BasePromptTokens < 0 {
		o.BasePromptTokens = 0
	}
	if o.MaxPromptTokens <= 0 {
		o.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if o.MinBatchSize <= 0 {
		o.MinBatchSize = DefaultMinBatchSize
	}
	if o.MaxBatchChunks <= 0 {
		o.MaxBatchChunks = DefaultMaxBatchChunks
	}
	if o.MinBatchSize > o.MaxBatchChunks {
		o.MinBatchSize = o.MaxBatchChunks
	}
	return o
}

type MappingBatch struct {
	Key             string
	Chunks          []chunker.Chunk
	EstimatedTokens int
}

// EstimateTokens is a deterministic token estimate for one chunk.
func EstimateTokens(c chunker.Chunk) int {
	return (len(c.Content)+CharsPerToken-1)/CharsPerToken + PerChunkOverhead
}

// group is a keyed run of chunks that must stay together.
type group struct {
	key    string
	chunks []chunker.Chunk
}

// groupState is the accumulator threaded through groupChunks.
type groupState struct {
	order []string
	byKey map[string][]chunker.Chunk
	misc  int
}

func groupKey(c chunker.Chunk) (string, bool) {
	if c.OverlapGroupID != "" {
		return "group:" + c.OverlapGroupID, true
	}
	if c.FilePath != "" {
		return "file:" + c.FilePath, true
	}
	return "", false
}

func addToGroup(st groupState, c chunker.Chunk) groupState {
	key, ok := groupKey(c)
	if !ok {
		st.misc++
		key = "misc:" + strconv.Itoa(st.misc)
	}
	if _, seen := st.byKey[key]; !seen {
		st.order = append(st.order, key)
	}
	st.byKey[key] = append(st.byKey[key], c)
	return st
}

func groupChunks(chunks []chunker.Chunk) []group {
	st := groupState{byKey: make(map[string][]chunker.Chunk)}
	for _, c := range chunks {
		st = addToGroup(st, c)
	}
	out := make([]group, 0, len(st.order))
	for _, key := range st.order {
		out = append(out, group{key: key, chunks: st.byKey[key]})
	}
	return out
}

// packState is the accumulator threaded through packGroup.
type packState struct {
	done    []MappingBatch
	current MappingBatch
}

func packChunk(st packState, c chunker.Chunk, key string, opts Options) packState {
	cost := EstimateTokens(c)
	n := len(st.current.Chunks)
	overBudget := st.current.EstimatedTokens+cost > opts.MaxPromptTokens
	if n > 0 && (n >= opts.MaxBatchChunks || (n >= opts.MinBatchSize && overBudget)) {
		st.done = append(st.done, st.current)
		st.current = MappingBatch{}
	}
	if len(st.current.Chunks) == 0 {
		st.current = MappingBatch{Key: key, EstimatedTokens: opts.BasePromptTokens}
	}
	st.current.Chunks = append(st.current.Chunks, c)
	st.current.EstimatedTokens += cost
	return st
}

func packGroup(g group, opts Options) []MappingBatch {
	st := packState{}
	for _, c := range g.chunks {
		st = packChunk(st, c, g.key, opts)
	}
	if len(st.current.Chunks) > 0 {
		st.done = append(st.done, st.current)
	}
	return st.done
}

// BuildMappingBatches groups chunks by overlap group, then file path, with
// keyless chunks each in their own group, and packs every group in input
// order under the token budget and chunk cap. Groups never share a batch.
func BuildMappingBatches(chunks []chunker.Chunk, opts Options) []MappingBatch {
	opts = opts.withDefaults()
	var out []MappingBatch
	for _, g := range groupChunks(chunks) {
		out = append(out, packGroup(g, opts)...)
	}
	return out
}
