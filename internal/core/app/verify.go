package app

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"repoaudit/internal/core/errors"
	"repoaudit/internal/core/ports"
	"repoaudit/internal/data/cache"
	"repoaudit/internal/engine/batching"
	"repoaudit/internal/engine/breaker"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/openscan"
	"repoaudit/internal/engine/prompts"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/shared/observability"
)

// verifyRules checks every chunk against its selected rules, one prompt per
// single-cluster rule task.
func (a *App) verifyRules(ctx context.Context, units []*unit, st *scanState) ([]findings.Finding, error) {
	ctx, done := phase(ctx, "verify_rules")
	defer done()

	assignments := make([]batching.Assignment, 0, len(units))
	headers := make(map[string]string, len(units))
	for _, u := range units {
		assignments = append(assignments, batching.Assignment{
			Chunk:    u.chunk,
			RuleIDs:  u.selection.RuleIDs,
			Strategy: u.selection.Strategy,
		})
		headers[u.chunk.ID] = u.header
	}
	tasks := batching.BuildRuleTasksWith(a.catalog, assignments, a.Config.Batching.RuleBatchSize)
	st.stats.RuleTasks = len(tasks)
	if a.completer == nil || len(tasks) == 0 {
		return nil, nil
	}

	results := make([][]findings.Finding, len(tasks))
	g := new(errgroup.Group)
	g.SetLimit(a.concurrency())
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			list, err := a.runRuleTask(ctx, task, headers[task.Chunk.ID], st)
			if err != nil {
				if ctx.Err() == nil {
					st.warn("rule verification failed", err, "chunk", task.Chunk.ID, "cluster", task.Cluster)
				}
				return nil
			}
			results[i] = list
			return nil
		})
	}
	_ = g.Wait()
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	var out []findings.Finding
	for _, list := range results {
		out = append(out, list...)
	}
	return out, nil
}

// runRuleTask verifies one task. The rule ids go through the circuit breaker,
// so a failing multi-rule prompt is retried on halves down to single rules.
// Results are cached only when every rule was verified.
func (a *App) runRuleTask(ctx context.Context, task batching.RuleTask, head string, st *scanState) ([]findings.Finding, error) {
	if a.store != nil {
		cached, ok, err := cache.Load[[]findings.Finding](ctx, a.store, cache.KindRuleResult, a.ruleTaskKey(task))
		if err == nil && ok {
			st.count(func(s *ports.ScanStats) { s.CachedRuleTasks++ })
			return cached, nil
		}
	}

	ctx, span := observability.Tracer.Start(ctx, "scan.rule_task")
	span.SetAttributes(
		attribute.String("chunk", task.Chunk.ID),
		attribute.String("cluster", string(task.Cluster)),
		attribute.Int("rules", len(task.RuleIDs)),
	)
	defer span.End()
	observability.BatchesTotal.WithLabelValues("rules").Inc()

	cc := prompts.ChunkContext{Chunk: task.Chunk, Header: head}
	work := func(ctx context.Context, ids []string) ([][]findings.Finding, error) {
		return a.verifyRuleBatch(ctx, cc, ids)
	}
	results, err := breaker.Run(ctx, task.RuleIDs, work, breaker.Options{
		MaxDepth: a.Config.Breaker.MaxDepth,
		OnSplit: func(start, end int, err error) {
			observability.BatchSplitsTotal.WithLabelValues("rules").Inc()
			slog.Debug("splitting rule batch", "task", task.Key(), "start", start, "end", end, "error", err)
		},
	})

	out := []findings.Finding{}
	for _, list := range results {
		out = append(out, list...)
	}
	if err != nil {
		var be *breaker.BatchError
		if !stderrors.As(err, &be) {
			return nil, err
		}
		failed := make([]string, 0, len(be.Failures))
		for _, off := range be.Offsets() {
			failed = append(failed, task.RuleIDs[off])
		}
		st.warn("rule verification failed", err, "chunk", task.Chunk.ID, "cluster", task.Cluster, "rules", failed)
		return out, nil
	}

	if a.store != nil {
		if err := cache.Save(ctx, a.store, cache.KindRuleResult, a.ruleTaskKey(task), task.Chunk.FilePath, out); err != nil {
			slog.Debug("cache write failed", "task", task.Key(), "error", err)
		}
	}
	return out, nil
}

// verifyRuleBatch sends one rules prompt for ids. Each finding is returned in
// the slot of the rule it names, or the first slot when it names none of them.
func (a *App) verifyRuleBatch(ctx context.Context, cc prompts.ChunkContext, ids []string) ([][]findings.Finding, error) {
	list := make([]rules.Rule, 0, len(ids))
	slot := make(map[string]int, len(ids))
	for i, id := range ids {
		slot[id] = i
		if r, ok := a.catalog.Get(id); ok {
			list = append(list, r)
		}
	}
	reply, err := a.completer.Complete(ctx, prompts.SystemRules, prompts.Rules(cc, list))
	if err != nil {
		return nil, err
	}
	parsed, err := parseFindings(reply, cc.Chunk.FilePath, cc.Chunk.StartLine, cc.Chunk.EndLine, findings.SourceLLM)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxChunk, cc.Chunk.ID)
	}

	out := make([][]findings.Finding, len(ids))
	for _, f := range parsed {
		i := slot[f.Type]
		out[i] = append(out[i], f)
	}
	return out, nil
}

// openScan evaluates the gate for every chunk and runs an unconstrained
// review where it says so. known holds every finding reported so far.
func (a *App) openScan(ctx context.Context, units []*unit, known []findings.Finding, st *scanState) ([]findings.Finding, error) {
	ctx, done := phase(ctx, "open_scan")
	defer done()

	th := openscan.Thresholds{
		ContradictionRatio: a.Config.OpenScan.ContradictionRatio,
		HighCoverageRatio:  a.Config.OpenScan.HighCoverageRatio,
		LowCoverageRatio:   a.Config.OpenScan.LowCoverageRatio,
		MinSignalsPerRule:  a.Config.OpenScan.MinSignalsPerRule,
	}
	var selected []*unit
	for _, u := range units {
		u.decision = openscan.Evaluate(openscan.Input{
			Understanding:     u.u,
			SelectedRuleIDs:   u.selection.RuleIDs,
			RuleFindingsSoFar: known,
			Strategy:          u.selection.Strategy,
			StartLine:         u.chunk.StartLine,
			EndLine:           u.chunk.EndLine,
			Catalog:           a.catalog,
		}, th)
		observability.OpenScanDecisionsTotal.WithLabelValues(strconv.FormatBool(u.decision.Run)).Inc()
		slog.Debug("open scan decision", "chunk", u.chunk.ID, "run", u.decision.Run, "reason", u.decision.Reason)
		if u.decision.Run {
			selected = append(selected, u)
		}
	}
	if !a.Config.OpenScan.IsEnabled() || a.completer == nil || len(selected) == 0 {
		return nil, nil
	}

	var (
		mu  sync.Mutex
		out []findings.Finding
	)
	g := new(errgroup.Group)
	g.SetLimit(a.concurrency())
	for _, u := range selected {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			list, err := a.runOpenScan(ctx, u, reportedTypes(known, u))
			if err != nil {
				if ctx.Err() == nil {
					st.warn("open scan failed", err, "chunk", u.chunk.ID)
				}
				return nil
			}
			st.count(func(s *ports.ScanStats) { s.OpenScans++ })
			mu.Lock()
			out = append(out, list...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	findings.Rank(out)
	return out, nil
}

func (a *App) runOpenScan(ctx context.Context, u *unit, reported []string) ([]findings.Finding, error) {
	key := u.chunk.ID + ":" + a.Config.LLM.Model
	if a.store != nil {
		if cached, ok, err := cache.Load[[]findings.Finding](ctx, a.store, cache.KindOpenScan, key); err == nil && ok {
			return cached, nil
		}
	}

	ctx, span := observability.Tracer.Start(ctx, "scan.open_scan")
	span.SetAttributes(attribute.String("chunk", u.chunk.ID), attribute.String("reason", u.decision.Reason))
	defer span.End()
	observability.BatchesTotal.WithLabelValues("open_scan").Inc()

	cc := prompts.ChunkContext{Chunk: u.chunk, Header: u.header}
	reply, err := a.completer.Complete(ctx, prompts.SystemOpenScan, prompts.OpenScan(cc, reported))
	if err != nil {
		return nil, err
	}
	out, err := parseFindings(reply, u.chunk.FilePath, u.chunk.StartLine, u.chunk.EndLine, findings.SourceOpenScan)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxChunk, u.chunk.ID)
	}
	if a.store != nil {
		if err := cache.Save(ctx, a.store, cache.KindOpenScan, key, u.chunk.FilePath, out); err != nil {
			slog.Debug("cache write failed", "chunk", u.chunk.ID, "error", err)
		}
	}
	return out, nil
}

// parseFindings decodes a findings reply. Entries failing validation are
// logged and dropped; an undecodable reply is an error.
func parseFindings(reply, path string, start, end int, source findings.Source) ([]findings.Finding, error) {
	items, err := prompts.Findings(reply)
	if err != nil {
		return nil, err
	}
	loc := findings.Location{FilePath: path, StartLine: start, EndLine: end}
	out, errs := findings.ParseLLMFindings(items, loc, source)
	for _, e := range errs {
		slog.Debug("dropped invalid finding", "path", path, "error", e)
	}
	if out == nil {
		out = []findings.Finding{}
	}
	return out, nil
}

func reportedTypes(known []findings.Finding, u *unit) []string {
	loc := findings.Location{FilePath: u.chunk.FilePath, StartLine: u.chunk.StartLine, EndLine: u.chunk.EndLine}
	seen := map[string]bool{}
	var out []string
	for _, f := range known {
		if f.Location.Overlaps(loc) && !seen[f.Type] {
			seen[f.Type] = true
			out = append(out, f.Type)
		}
	}
	sort.Strings(out)
	return out
}

func (a *App) ruleTaskKey(task batching.RuleTask) string {
	return task.Key() + ":" + a.Config.LLM.Model
}
