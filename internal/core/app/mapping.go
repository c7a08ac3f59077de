package app

import (
	"context"
	stderrors "errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"repoaudit/internal/core/errors"
	"repoaudit/internal/data/cache"
	"repoaudit/internal/engine/batching"
	"repoaudit/internal/engine/breaker"
	"repoaudit/internal/engine/chunker"
	"repoaudit/internal/engine/prompts"
	"repoaudit/internal/engine/signals"
	"repoaudit/internal/engine/understanding"
	"repoaudit/internal/shared/observability"
)

// understand fills u.u for every unit: from the cache, from the model, or
// from detector signals alone when neither is available.
func (a *App) understand(ctx context.Context, units []*unit, st *scanState) error {
	ctx, done := phase(ctx, "understand")
	defer done()

	byID := make(map[string]*unit, len(units))
	var pending []chunker.Chunk
	for _, u := range units {
		byID[u.chunk.ID] = u
		if cached, ok := a.cachedUnderstanding(ctx, u.chunk); ok {
			u.u, u.mapped = cached, true
			st.stats.CachedChunks++
			continue
		}
		if a.completer != nil {
			pending = append(pending, u.chunk)
		}
	}

	if len(pending) > 0 {
		batches := batching.BuildMappingBatches(pending, batching.Options{
			BasePromptTokens: a.Config.Batching.BasePromptTokens,
			MaxPromptTokens:  a.Config.Batching.MaxPromptTokens,
			MinBatchSize:     a.Config.Batching.MinBatchSize,
			MaxBatchChunks:   a.Config.Batching.MaxBatchChunks,
		})
		st.stats.MappingBatches = len(batches)

		g := new(errgroup.Group)
		g.SetLimit(a.concurrency())
		for i, b := range batches {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				a.mapBatch(ctx, i, b, byID, st)
				return nil
			})
		}
		_ = g.Wait()
		if err := canceled(ctx); err != nil {
			return err
		}
	}

	for _, u := range units {
		if !u.mapped {
			u.u = understanding.FromSignals(fallbackFor(u.chunk), nil)
		}
	}
	return nil
}

func (a *App) mapBatch(ctx context.Context, index int, b batching.MappingBatch, byID map[string]*unit, st *scanState) {
	ctx, span := observability.Tracer.Start(ctx, "scan.mapping_batch")
	span.SetAttributes(
		attribute.Int("batch", index),
		attribute.String("key", b.Key),
		attribute.Int("chunks", len(b.Chunks)),
		attribute.Int("estimated_tokens", b.EstimatedTokens),
	)
	defer span.End()
	observability.BatchesTotal.WithLabelValues("mapping").Inc()

	results, err := breaker.Run(ctx, b.Chunks, a.mapChunks, breaker.Options{
		MaxDepth: a.Config.Breaker.MaxDepth,
		OnSplit: func(start, end int, err error) {
			observability.BatchSplitsTotal.WithLabelValues("mapping").Inc()
			slog.Debug("splitting mapping batch", "batch", b.Key, "start", start, "end", end, "error", err)
		},
	})

	failed := map[int]bool{}
	var be *breaker.BatchError
	switch {
	case err == nil:
	case stderrors.As(err, &be):
		for _, off := range be.Offsets() {
			failed[off] = true
		}
		st.warn("chunk understanding failed, using detector signals", err, "batch", b.Key, "chunks", len(failed))
	default:
		if ctx.Err() == nil {
			st.warn("mapping batch failed", err, "batch", b.Key)
		}
		return
	}

	for i, c := range b.Chunks {
		if failed[i] {
			continue
		}
		u := byID[c.ID]
		u.u, u.mapped = results[i], true
		a.storeUnderstanding(ctx, c, results[i])
	}
}

// mapChunks sends one mapping prompt and returns one understanding per chunk
// in chunk order. A reply that leaves out a requested chunk fails the call so
// the breaker can isolate it.
func (a *App) mapChunks(ctx context.Context, chunks []chunker.Chunk) ([]understanding.ChunkUnderstanding, error) {
	batch := make([]prompts.ChunkContext, len(chunks))
	for i, c := range chunks {
		batch[i] = prompts.ChunkContext{Chunk: c}
	}
	reply, err := a.completer.Complete(ctx, prompts.SystemUnderstanding, prompts.Understanding(batch))
	if err != nil {
		return nil, err
	}
	records, err := prompts.Understandings(reply)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]map[string]any, len(records))
	for _, r := range records {
		if id, ok := r["chunk_id"].(string); ok {
			byID[id] = r
		}
	}
	if len(chunks) == 1 && len(records) == 1 && len(byID) == 0 {
		byID[chunks[0].ID] = records[0]
	}

	out := make([]understanding.ChunkUnderstanding, len(chunks))
	for i, c := range chunks {
		raw, ok := byID[c.ID]
		if !ok {
			return nil, errors.New(errors.CodeMalformedResponse, "reply is missing chunk "+c.ID)
		}
		out[i] = understanding.Normalize(raw, fallbackFor(c))
		out[i].ChunkID, out[i].FilePath = c.ID, c.FilePath
	}
	return out, nil
}

func (a *App) cachedUnderstanding(ctx context.Context, c chunker.Chunk) (understanding.ChunkUnderstanding, bool) {
	if a.store == nil {
		return understanding.ChunkUnderstanding{}, false
	}
	u, ok, err := cache.Load[understanding.ChunkUnderstanding](ctx, a.store, cache.KindUnderstanding, a.understandingKey(c))
	if err != nil {
		slog.Debug("cache read failed", "chunk", c.ID, "error", err)
		return understanding.ChunkUnderstanding{}, false
	}
	return u, ok
}

func (a *App) storeUnderstanding(ctx context.Context, c chunker.Chunk, u understanding.ChunkUnderstanding) {
	if a.store == nil {
		return
	}
	if err := cache.Save(ctx, a.store, cache.KindUnderstanding, a.understandingKey(c), c.FilePath, u); err != nil {
		slog.Debug("cache write failed", "chunk", c.ID, "error", err)
	}
}

func (a *App) understandingKey(c chunker.Chunk) string {
	return c.ID + ":" + a.Config.LLM.Model + ":v" + signals.VocabularyVersion
}

func (a *App) concurrency() int {
	if n := a.Config.LLM.MaxConcurrency; n > 0 {
		return n
	}
	return 1
}

func fallbackFor(c chunker.Chunk) understanding.Fallback {
	return understanding.Fallback{ChunkID: c.ID, FilePath: c.FilePath}
}
