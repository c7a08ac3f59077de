package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repoaudit/internal/core/errors"
	"repoaudit/internal/core/ports"
	"repoaudit/internal/data/cache"
	"repoaudit/internal/engine/callgraph"
	"repoaudit/internal/engine/chunker"
	"repoaudit/internal/engine/discovery"
	"repoaudit/internal/engine/entrypoints"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/header"
	"repoaudit/internal/engine/openscan"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/engine/signals"
	"repoaudit/internal/engine/understanding"
	"repoaudit/internal/shared/observability"
	"repoaudit/internal/shared/util"
)

// unit is the per-chunk state threaded through the pipeline.
type unit struct {
	chunk     chunker.Chunk
	hits      []signals.Signal
	mapped    bool
	u         understanding.ChunkUnderstanding
	entry     []string
	header    string
	selection rules.Selection
	decision  openscan.Decision
}

// scanState holds everything mutable during one scan.
type scanState struct {
	mu       sync.Mutex
	stats    ports.ScanStats
	warnings []string
}

func (s *scanState) warn(msg string, err error, args ...any) {
	if code := errors.CodeOf(err); code != "" {
		args = append(args, "code", code)
	}
	slog.Warn(msg, append(args, "error", err)...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, fmt.Sprintf("%s: %v", msg, err))
}

func (s *scanState) count(fn func(*ports.ScanStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

func phase(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, span := observability.Tracer.Start(ctx, "scan."+name)
	return ctx, func() {
		observability.PhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// Scan runs the full pipeline over the configured root. Collaborator failures
// are recorded as warnings; only discovery failures and cancellation abort.
func (a *App) Scan(ctx context.Context, req ports.ScanRequest) (ports.ScanResult, error) {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	res := ports.ScanResult{
		RunID:     uuid.NewString(),
		Root:      a.Paths.Root,
		StartedAt: time.Now().UTC(),
	}
	ctx, span := observability.Tracer.Start(ctx, "app.Scan", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.String("root", res.Root),
		attribute.Int("changed", len(req.Changed)),
	))
	defer span.End()

	slog.Info("scan started", "run_id", res.RunID, "root", res.Root, "changed", len(req.Changed))
	st := &scanState{}

	files, err := a.discover(ctx, &res)
	if err != nil {
		return res, err
	}

	graph := a.buildGraph(ctx, files, st)
	units := a.chunkFiles(ctx, files, graph)

	eps := entrypoints.Discover(files)
	reach := entrypoints.ComputeReachability(graph, eps, entrypoints.Options{
		MaxDepth:              a.Config.Reachability.MaxDepth,
		MaxEntryPointsPerNode: a.Config.Reachability.MaxEntryPointsPerNode,
	})
	st.stats.EntryPoints = len(eps)
	st.stats.ReachabilityKnown = reach.Available

	if err := a.understand(ctx, units, st); err != nil {
		return res, err
	}
	a.route(units, eps, reach)

	llmFindings, err := a.verifyRules(ctx, units, st)
	if err != nil {
		return res, err
	}
	detectorFindings := a.scanSecrets(ctx, files, st)
	static := a.runStatic(ctx, st)

	known := append([]findings.Finding{}, llmFindings...)
	known = append(known, detectorFindings...)
	for _, sf := range static {
		known = append(known, findings.FromStatic(sf))
	}
	openFindings, err := a.openScan(ctx, units, known, st)
	if err != nil {
		return res, err
	}

	res.Findings = findings.Aggregate(static, detectorFindings, append(llmFindings, openFindings...))
	for _, f := range res.Findings {
		observability.FindingsTotal.WithLabelValues(string(f.Severity)).Inc()
	}

	res.Commit = headCommit(res.Root)
	res.Chunks = chunkReports(units)
	res.Stats = st.stats
	res.Warnings = st.warnings
	res.FinishedAt = time.Now().UTC()

	a.persist(ctx, files, res)
	a.lastMu.Lock()
	a.last = &RunSummary{RunID: res.RunID, FinishedAt: res.FinishedAt, Findings: len(res.Findings), Warnings: len(res.Warnings)}
	a.lastMu.Unlock()
	observability.HeapAllocMB.Set(float64(util.HeapAllocMB()))

	slog.Info("scan finished",
		"run_id", res.RunID,
		"files", res.FilesScanned,
		"chunks", len(res.Chunks),
		"findings", len(res.Findings),
		"warnings", len(res.Warnings),
		"duration", res.Duration(),
	)
	return res, nil
}

func (a *App) discover(ctx context.Context, res *ports.ScanResult) ([]discovery.File, error) {
	ctx, done := phase(ctx, "discover")
	defer done()

	out, err := a.discoverer.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx.Err(), "scan canceled")
		}
		return nil, errors.AddContext(err, errors.CtxOperation, "discover")
	}
	res.FilesScanned = len(out.Files)
	res.Skipped = out.Skipped
	observability.FilesScannedTotal.Add(float64(len(out.Files)))
	for _, s := range out.Skipped {
		slog.Debug("skipped file", "path", s.Path, "reason", s.Reason)
	}
	return out.Files, nil
}

func (a *App) buildGraph(ctx context.Context, files []discovery.File, st *scanState) *callgraph.Graph {
	if a.graphs == nil {
		return nil
	}
	ctx, done := phase(ctx, "callgraph")
	defer done()

	g, err := a.graphs.Build(ctx, files)
	if err != nil {
		st.warn("call graph unavailable", err)
		return nil
	}
	return g
}

// chunkFiles splits every file and ties chunks cut through a function body
// into overlap groups.
func (a *App) chunkFiles(ctx context.Context, files []discovery.File, graph *callgraph.Graph) []*unit {
	_, done := phase(ctx, "chunk")
	defer done()

	opts := chunker.Options{MaxChars: a.Config.Chunking.MaxChars, OverlapChars: a.Config.Chunking.OverlapChars}
	var chunks []chunker.Chunk
	hitsByFile := make(map[string][]signals.Hit, len(files))
	for _, f := range files {
		chunks = append(chunks, chunker.Split(f.Path, f.Content, opts)...)
		hitsByFile[f.Path] = a.signals.Detect(f.Path, f.Content)
	}
	if graph != nil {
		chunks = chunker.AssignOverlapGroups(chunks, graph.Spans())
	}
	observability.ChunksTotal.Add(float64(len(chunks)))

	units := make([]*unit, 0, len(chunks))
	for _, c := range chunks {
		units = append(units, &unit{
			chunk: c,
			hits:  signals.InRange(hitsByFile[c.FilePath], c.StartLine, c.EndLine),
		})
	}
	return units
}

// route attaches detector signals, entry points, reachability, the security
// header and the rule selection to every unit.
func (a *App) route(units []*unit, eps []entrypoints.Candidate, reach entrypoints.Result) {
	opts := rules.SelectOptions{
		Catalog:          a.catalog,
		FamilyMapping:    a.Config.Rules.FamilyMapping,
		Baseline:         a.Config.Rules.Baseline,
		MinRulesPerChunk: a.Config.Rules.MinRulesPerChunk,
	}
	for _, u := range units {
		c := u.chunk
		u.u = understanding.MergeSignals(u.u, u.hits)
		u.u.Signals = signals.Infer(u.u.Signals)
		u.entry = entrypoints.InRange(eps, c.FilePath, c.StartLine, c.EndLine)

		in := header.BuildInput{Understanding: u.u, EntryPoints: u.entry}
		if info, known := reach.ForRange(c.FilePath, c.StartLine, c.EndLine); known {
			in.Reachability = info.Header()
		}
		u.header = header.Render(header.Build(in))
		u.selection = rules.SelectCandidates(u.u, opts)
	}
}

func (a *App) persist(ctx context.Context, files []discovery.File, res ports.ScanResult) {
	if a.store == nil {
		return
	}
	ctx, done := phase(ctx, "persist")
	defer done()

	previous, err := a.store.FileHashes(ctx)
	if err != nil {
		slog.Warn("failed to load cached file hashes", "error", err)
		previous = map[string]string{}
	}
	current := make(map[string]bool, len(files))
	for _, f := range files {
		current[f.Path] = true
		if err := a.store.SetFileHash(ctx, f.Path, f.Hash); err != nil {
			slog.Warn("failed to record file hash", "path", f.Path, "error", err)
		}
	}
	for _, path := range util.SortedStringKeys(previous) {
		if current[path] {
			continue
		}
		if err := a.store.RemoveFile(ctx, path); err != nil {
			slog.Warn("failed to forget removed file", "path", path, "error", err)
		}
	}

	err = a.store.RecordScan(ctx, cache.ScanRecord{
		RunID:        res.RunID,
		Root:         res.Root,
		CommitHash:   res.Commit,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		FileCount:    res.FilesScanned,
		ChunkCount:   len(res.Chunks),
		FindingCount: len(res.Findings),
		WarningCount: len(res.Warnings),
	})
	if err != nil {
		slog.Warn("failed to record scan", "run_id", res.RunID, "error", err)
	}
}

func chunkReports(units []*unit) []ports.ChunkReport {
	out := make([]ports.ChunkReport, 0, len(units))
	for _, u := range units {
		ids := make([]signals.ID, 0, len(u.u.Signals))
		for _, s := range u.u.Signals {
			ids = append(ids, s.ID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ports.ChunkReport{
			ChunkID:     u.chunk.ID,
			FilePath:    u.chunk.FilePath,
			StartLine:   u.chunk.StartLine,
			EndLine:     u.chunk.EndLine,
			Signals:     ids,
			Strategy:    u.selection.Strategy,
			RuleIDs:     u.selection.RuleIDs,
			EntryPoints: u.entry,
			OpenScan:    u.decision.Run,
			OpenReason:  u.decision.Reason,
		})
	}
	return out
}

func canceled(ctx context.Context) error {
	return errors.FromContext(ctx.Err(), "scan canceled")
}
