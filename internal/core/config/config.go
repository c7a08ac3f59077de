package config

import "time"

type Config struct {
	Version       int           `toml:"version"`
	Scan          Scan          `toml:"scan"`
	Chunking      Chunking      `toml:"chunking"`
	Batching      Batching      `toml:"batching"`
	Rules         Rules         `toml:"rules"`
	OpenScan      OpenScan      `toml:"open_scan"`
	Breaker       Breaker       `toml:"breaker"`
	Reachability  Reachability  `toml:"reachability"`
	LLM           LLM           `toml:"llm"`
	Static        Static        `toml:"static"`
	Secrets       Secrets       `toml:"secrets"`
	Cache         Cache         `toml:"cache"`
	Output        Output        `toml:"output"`
	Observability Observability `toml:"observability"`
	Watch         Watch         `toml:"watch"`
}

type Scan struct {
	Root              string   `toml:"root"`
	MaxFileBytes      int64    `toml:"max_file_bytes"`
	IncludeExtensions []string `toml:"include_extensions"`
	ExcludeDirs       []string `toml:"exclude_dirs"`
	ExcludeFiles      []string `toml:"exclude_files"` // glob patterns, e.g. "**/*.min.js"
	RespectGitignore  *bool    `toml:"respect_gitignore"`
	IncludeTests      bool     `toml:"include_tests"`
}

type Chunking struct {
	MaxChars     int `toml:"max_chars"`
	OverlapChars int `toml:"overlap_chars"`
}

type Batching struct {
	BasePromptTokens int `toml:"base_prompt_tokens"`
	MaxPromptTokens  int `toml:"max_prompt_tokens"`
	MinBatchSize     int `toml:"min_batch_size"`
	MaxBatchChunks   int `toml:"max_batch_chunks"`
	RuleBatchSize    int `toml:"rule_batch_size"`
}

type Rules struct {
	MinRulesPerChunk int                 `toml:"min_rules_per_chunk"`
	PackFiles        []string            `toml:"pack_files"`
	Baseline         []string            `toml:"baseline"`
	FamilyMapping    map[string][]string `toml:"family_mapping"`
}

type OpenScan struct {
	Enabled            *bool   `toml:"enabled"`
	ContradictionRatio float64 `toml:"contradiction_ratio"`
	HighCoverageRatio  float64 `toml:"high_coverage_ratio"`
	LowCoverageRatio   float64 `toml:"low_coverage_ratio"`
	MinSignalsPerRule  float64 `toml:"min_signals_per_rule"`
}

type Breaker struct {
	MaxDepth int `toml:"max_depth"`
}

type Reachability struct {
	MaxDepth              int `toml:"max_depth"`
	MaxEntryPointsPerNode int `toml:"max_entry_points_per_node"`
}

type LLM struct {
	Enabled           bool          `toml:"enabled"`
	BaseURL           string        `toml:"base_url"`
	Model             string        `toml:"model"`
	APIKeyEnv         string        `toml:"api_key_env"`
	Temperature       float64       `toml:"temperature"`
	Timeout           time.Duration `toml:"timeout"`
	MaxConcurrency    int           `toml:"max_concurrency"`
	RequestsPerMinute int           `toml:"requests_per_minute"`
	TokensPerMinute   int           `toml:"tokens_per_minute"`
	MaxRetries        int           `toml:"max_retries"`
}

type Static struct {
	SemgrepEnabled bool          `toml:"semgrep_enabled"`
	Bin            string        `toml:"bin"`
	Config         string        `toml:"config"`
	Timeout        time.Duration `toml:"timeout"`
}

type Secrets struct {
	Enabled          *bool   `toml:"enabled"`
	EntropyThreshold float64 `toml:"entropy_threshold"`
	MinTokenLength   int     `toml:"min_token_length"`
	HistoryDepth     int     `toml:"history_depth"` // 0 disables the git history walk
}

type Cache struct {
	Enabled       *bool  `toml:"enabled"`
	Path          string `toml:"path"`
	MemoryEntries int    `toml:"memory_entries"`
}

type Output struct {
	Format string `toml:"format"` // text, json, sarif
	Path   string `toml:"path"`
}

type Observability struct {
	MetricsAddr  string `toml:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

func enabled(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}

func (s Scan) GitignoreEnabled() bool   { return enabled(s.RespectGitignore) }
func (o OpenScan) IsEnabled() bool       { return enabled(o.Enabled) }
func (s Secrets) IsEnabled() bool        { return enabled(s.Enabled) }
func (c Cache) IsEnabled() bool          { return enabled(c.Enabled) }
