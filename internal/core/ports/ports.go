package ports

import (
	"context"
	"time"

	"repoaudit/internal/data/cache"
	"repoaudit/internal/engine/callgraph"
	"repoaudit/internal/engine/discovery"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/engine/secrets"
	"repoaudit/internal/engine/signals"
)

// Completer sends one system/user prompt pair to a model and returns its text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// StaticScanner runs an external static analyzer over a repository root.
type StaticScanner interface {
	Name() string
	Scan(ctx context.Context, root string) ([]findings.StaticFinding, error)
}

// FileDiscoverer enumerates the files eligible for scanning.
type FileDiscoverer interface {
	Root() string
	Discover(ctx context.Context) (*discovery.Result, error)
}

// CallGraphProvider builds the function-level call graph of a file set.
type CallGraphProvider interface {
	Build(ctx context.Context, files []discovery.File) (*callgraph.Graph, error)
}

// SecretScanner abstracts secret detection during file ingestion.
type SecretScanner interface {
	Detect(filePath string, content []byte) []secrets.Secret
}

// ResultStore persists file hashes and model results between scans.
type ResultStore interface {
	FileHashes(ctx context.Context) (map[string]string, error)
	SetFileHash(ctx context.Context, path, hash string) error
	RemoveFile(ctx context.Context, path string) error
	Get(ctx context.Context, kind cache.Kind, key string) ([]byte, bool, error)
	Put(ctx context.Context, kind cache.Kind, key, filePath string, payload []byte) error
	RecordScan(ctx context.Context, rec cache.ScanRecord) error
	Close() error
}

// ScanRequest defines a scan operation request for driving adapters.
type ScanRequest struct {
	// Changed lists paths reported as modified since the last scan. It is
	// informational; unchanged content is recognised through the result store.
	Changed []string
}

// ChunkReport describes how one chunk was routed through the pipeline.
type ChunkReport struct {
	ChunkID     string         `json:"chunk_id"`
	FilePath    string         `json:"file_path"`
	StartLine   int            `json:"start_line"`
	EndLine     int            `json:"end_line"`
	Signals     []signals.ID   `json:"signals"`
	Strategy    rules.Strategy `json:"strategy"`
	RuleIDs     []string       `json:"rule_ids"`
	EntryPoints []string       `json:"entry_points,omitempty"`
	OpenScan    bool           `json:"open_scan"`
	OpenReason  string         `json:"open_scan_reason,omitempty"`
}

// ScanStats counts work done by the pipeline.
type ScanStats struct {
	MappingBatches    int  `json:"mapping_batches"`
	RuleTasks         int  `json:"rule_tasks"`
	OpenScans         int  `json:"open_scans"`
	CachedChunks      int  `json:"cached_understandings"`
	CachedRuleTasks   int  `json:"cached_rule_tasks"`
	EntryPoints       int  `json:"entry_points"`
	ReachabilityKnown bool `json:"reachability_known"`
}

// ScanResult summarizes a completed scan operation.
type ScanResult struct {
	RunID        string              `json:"run_id"`
	Root         string              `json:"root"`
	Commit       string              `json:"commit,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	FilesScanned int                 `json:"files_scanned"`
	Skipped      []discovery.Skipped `json:"skipped,omitempty"`
	Chunks       []ChunkReport       `json:"chunks"`
	Findings     []findings.Finding  `json:"findings"`
	Stats        ScanStats           `json:"stats"`
	Warnings     []string            `json:"warnings,omitempty"`
}

func (r ScanResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AnalysisService is the driving-port surface over scan use cases.
type AnalysisService interface {
	RunScan(ctx context.Context, req ScanRequest) (ScanResult, error)
	Catalog() *rules.Catalog
	Close() error
}
