package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoaudit/internal/core/config"
	"repoaudit/internal/core/errors"
	"repoaudit/internal/core/ports"
	"repoaudit/internal/data/cache"
	"repoaudit/internal/engine/discovery"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/prompts"
	"repoaudit/internal/engine/rules"
)

const routeSource = `export async function GET(req) {
  const id = req.nextUrl.searchParams.get("id")
  return db.query("SELECT * FROM users WHERE id = " + id)
}
`

const (
	mappingReply = `{"chunks":[{"exposure":"public","role":"api_handler","signals":[{"id":"raw_sql_sink","confidence":0.9},{"id":"untrusted_input_present","confidence":0.9}]}]}`
	rulesReply   = "```json\n{\"findings\":[{\"type\":\"sql_injection\",\"severity\":\"high\",\"summary\":\"id is concatenated into SQL\",\"start_line\":3,\"end_line\":3}]}\n```"
	openReply    = `{"findings":[]}`
)

type fakeCompleter struct {
	mu      sync.Mutex
	calls   map[string]int
	mapping func() (string, error)
	rules   func(user string) (string, error)
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		calls:   map[string]int{},
		mapping: func() (string, error) { return mappingReply, nil },
	}
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch system {
	case prompts.SystemUnderstanding:
		f.calls["mapping"]++
		return f.mapping()
	case prompts.SystemRules:
		f.calls["rules"]++
		if f.rules != nil {
			return f.rules(user)
		}
		return rulesReply, nil
	case prompts.SystemOpenScan:
		f.calls["open_scan"]++
		return openReply, nil
	}
	return "", fmt.Errorf("unexpected system prompt")
}

func (f *fakeCompleter) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "app", "api", "users", "route.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(routeSource), 0o644))
	return root
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	off := false
	cfg.Cache.Enabled = &off
	cfg.Secrets.Enabled = &off
	cfg.LLM.Model = "test-model"
	cfg.LLM.MaxConcurrency = 2
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, root string, deps Dependencies) *App {
	t.Helper()
	d, err := discovery.New(discoveryOptions(cfg, root))
	require.NoError(t, err)
	deps.Discoverer = d
	a, err := NewWithDependencies(cfg, config.ResolvedPaths{Root: root}, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func findingTypes(list []findings.Finding) []string {
	out := make([]string, 0, len(list))
	for _, f := range list {
		out = append(out, f.Type)
	}
	return out
}

func TestNewWithDependencies_RequiresDiscoverer(t *testing.T) {
	_, err := NewWithDependencies(testConfig(), config.ResolvedPaths{}, Dependencies{})
	require.Error(t, err)

	_, err = NewWithDependencies(nil, config.ResolvedPaths{}, Dependencies{})
	require.Error(t, err)
}

func TestScan_RoutesSignalsToRuleVerification(t *testing.T) {
	root := writeRepo(t)
	fc := newFakeCompleter()
	a := newTestApp(t, testConfig(), root, Dependencies{Completer: fc})

	res, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.FilesScanned)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Chunks, 1)

	chunk := res.Chunks[0]
	assert.Equal(t, "app/api/users/route.ts", chunk.FilePath)
	assert.Equal(t, rules.StrategySignalsPrimary, chunk.Strategy)
	assert.Contains(t, chunk.RuleIDs, "sql_injection")
	assert.Contains(t, chunk.EntryPoints, "nextjs:app:GET /api/users")

	assert.Contains(t, findingTypes(res.Findings), "sql_injection")
	for _, f := range res.Findings {
		if f.Type == "sql_injection" {
			assert.Equal(t, findings.SourceLLM, f.Source)
			assert.Equal(t, 3, f.Location.StartLine)
		}
	}

	assert.Equal(t, 1, res.Stats.MappingBatches)
	assert.Equal(t, 1, fc.count("mapping"))
	assert.Equal(t, res.Stats.RuleTasks, fc.count("rules"))
	assert.Equal(t, 1, res.Stats.EntryPoints)
}

func TestScan_MappingFailureFallsBackToDetectorSignals(t *testing.T) {
	root := writeRepo(t)
	fc := newFakeCompleter()
	fc.mapping = func() (string, error) {
		return "", errors.New(errors.CodeLLMFailure, "upstream unavailable")
	}
	a := newTestApp(t, testConfig(), root, Dependencies{Completer: fc})

	res, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "chunk understanding failed")
	require.Len(t, res.Chunks, 1)
	assert.NotEmpty(t, res.Chunks[0].RuleIDs)
}

const injectionMappingReply = `{"chunks":[{"signals":[{"id":"raw_sql_sink","confidence":0.9},{"id":"untrusted_input_present","confidence":0.9},{"id":"exec_sink","confidence":0.9},{"id":"deserialization_sink","confidence":0.9}]}]}`

// promptRuleIDs lists the rule ids a rules prompt asks about.
func promptRuleIDs(user string) []string {
	body, _, _ := strings.Cut(strings.TrimPrefix(user, "RULES:\n"), "\n\n")
	var ids []string
	for _, line := range strings.Split(body, "\n") {
		if id, _, ok := strings.Cut(strings.TrimPrefix(line, "- "), " ("); ok && strings.HasPrefix(line, "- ") {
			ids = append(ids, id)
		}
	}
	return ids
}

func singleRuleReply(user string) (string, error) {
	ids := promptRuleIDs(user)
	if len(ids) != 1 {
		return "", errors.New(errors.CodeLLMFailure, "prompt too large")
	}
	return fmt.Sprintf(`{"findings":[{"type":%q,"severity":"high","summary":"confirmed","start_line":3,"end_line":3}]}`, ids[0]), nil
}

func TestScan_RuleBatchFailureIsBisected(t *testing.T) {
	root := writeRepo(t)
	fc := newFakeCompleter()
	fc.mapping = func() (string, error) { return injectionMappingReply, nil }
	fc.rules = singleRuleReply
	a := newTestApp(t, testConfig(), root, Dependencies{Completer: fc})

	res, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)

	types := findingTypes(res.Findings)
	for _, id := range []string{"sql_injection", "command_injection", "insecure_deserialization"} {
		assert.Contains(t, types, id)
	}
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "rule verification failed")
	}
	assert.Greater(t, fc.count("rules"), res.Stats.RuleTasks)
}

func TestScan_UnverifiableRuleKeepsOtherFindings(t *testing.T) {
	root := writeRepo(t)
	fc := newFakeCompleter()
	fc.mapping = func() (string, error) { return injectionMappingReply, nil }
	fc.rules = func(user string) (string, error) {
		if strings.Contains(user, "- command_injection (") {
			return "", errors.New(errors.CodeLLMFailure, "upstream unavailable")
		}
		return singleRuleReply(user)
	}
	a := newTestApp(t, testConfig(), root, Dependencies{Completer: fc})

	res, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)

	types := findingTypes(res.Findings)
	assert.Contains(t, types, "sql_injection")
	assert.Contains(t, types, "insecure_deserialization")
	assert.NotContains(t, types, "command_injection")

	var warned bool
	for _, w := range res.Warnings {
		warned = warned || strings.Contains(w, "rule verification failed")
	}
	assert.True(t, warned)
}

func TestScan_WithoutCompleterStillRoutesChunks(t *testing.T) {
	root := writeRepo(t)
	a := newTestApp(t, testConfig(), root, Dependencies{})

	res, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.NotEmpty(t, res.Chunks[0].RuleIDs)
	assert.Zero(t, res.Stats.MappingBatches)
	assert.Zero(t, res.Stats.OpenScans)
}

func TestScan_ReusesCachedResults(t *testing.T) {
	root := writeRepo(t)
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 0)
	require.NoError(t, err)

	fc := newFakeCompleter()
	a := newTestApp(t, testConfig(), root, Dependencies{Completer: fc, Store: store})

	first, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, fc.count("mapping"))
	rulesCalls := fc.count("rules")

	second, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, fc.count("mapping"))
	assert.Equal(t, rulesCalls, fc.count("rules"))
	assert.Equal(t, 1, second.Stats.CachedChunks)
	assert.Equal(t, second.Stats.RuleTasks, second.Stats.CachedRuleTasks)
	assert.Equal(t, findingTypes(first.Findings), findingTypes(second.Findings))

	last, ok, err := store.LastScan(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.RunID, last.RunID)
}

func TestScan_ChangedContentInvalidatesCache(t *testing.T) {
	root := writeRepo(t)
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 0)
	require.NoError(t, err)

	fc := newFakeCompleter()
	a := newTestApp(t, testConfig(), root, Dependencies{Completer: fc, Store: store})

	_, err = a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)

	path := filepath.Join(root, "app", "api", "users", "route.ts")
	require.NoError(t, os.WriteFile(path, []byte(routeSource+"// touched\n"), 0o644))

	res, err := a.Scan(context.Background(), ports.ScanRequest{Changed: []string{"app/api/users/route.ts"}})
	require.NoError(t, err)
	assert.Equal(t, 2, fc.count("mapping"))
	assert.Zero(t, res.Stats.CachedChunks)
}

func TestAnalysisService_RunScanCanceled(t *testing.T) {
	root := writeRepo(t)
	a := newTestApp(t, testConfig(), root, Dependencies{Completer: newFakeCompleter()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.AnalysisService().RunScan(ctx, ports.ScanRequest{})
	require.Error(t, err)
}

func TestAnalysisService_Catalog(t *testing.T) {
	root := writeRepo(t)
	a := newTestApp(t, testConfig(), root, Dependencies{})

	svc := a.AnalysisService()
	_, ok := svc.Catalog().Get("sql_injection")
	assert.True(t, ok)
	assert.NoError(t, svc.Close())
}

func TestHealth(t *testing.T) {
	root := writeRepo(t)
	cfg := testConfig()
	a := newTestApp(t, cfg, root, Dependencies{})

	status := a.Health().Check(context.Background())
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "disabled", status.Components["llm"])
	assert.Equal(t, "none", status.Components["last_scan"])

	cfg.LLM.Enabled = true
	status = a.Health().Check(context.Background())
	assert.Equal(t, "degraded", status.Status)

	cfg.LLM.Enabled = false
	_, err := a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)
	last, ok := a.LastRun()
	require.True(t, ok)
	assert.NotEmpty(t, last.RunID)
	assert.NotEqual(t, "none", a.Health().Check(context.Background()).Components["last_scan"])
}

func TestRelativePaths(t *testing.T) {
	root := t.TempDir()
	a := &App{Paths: config.ResolvedPaths{Root: root}}
	got := a.relativePaths([]string{filepath.Join(root, "a", "b.go"), filepath.Join(root, "c.ts")})
	assert.Equal(t, []string{"a/b.go", "c.ts"}, got)
}

func TestApplyConfig(t *testing.T) {
	root := writeRepo(t)
	cfg := testConfig()
	a := newTestApp(t, cfg, root, Dependencies{})

	reloaded := testConfig()
	reloaded.Chunking.MaxChars = 1234
	reloaded.OpenScan.LowCoverageRatio = 0.3
	reloaded.LLM.Model = "another-model"
	reloaded.Rules.PackFiles = []string{"extra.yaml"}
	a.ApplyConfig(reloaded)

	got := a.Settings()
	assert.Equal(t, 1234, got.Chunking.MaxChars)
	assert.Equal(t, 0.3, got.OpenScan.LowCoverageRatio)
	assert.Equal(t, "test-model", got.LLM.Model)
	assert.Empty(t, got.Rules.PackFiles)
	assert.Equal(t, 6000, cfg.Chunking.MaxChars, "previous config must not be mutated")
}
