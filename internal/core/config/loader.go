package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultFile = "repoaudit.toml"

var defaultExtensions = []string{
	".go", ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".py", ".java", ".rs",
	".rb", ".php", ".cs", ".kt", ".swift", ".sql", ".yaml", ".yml", ".toml", ".json",
}

var defaultExcludeDirs = []string{
	".git", "node_modules", "vendor", "dist", "build", ".next", "target", "__pycache__", ".repoaudit",
}

// Load decodes a TOML config file, fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}
	return finalize(&cfg)
}

// LoadOrDefault loads path when it exists and falls back to DefaultConfig otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultFile
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return finalize(&Config{})
	}
	return Load(path)
}

func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func finalize(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	ApplyEnvOverrides(cfg)

	if err := validateVersion(cfg); err != nil {
		return nil, err
	}
	if err := validateScan(cfg); err != nil {
		return nil, err
	}
	if err := validateChunking(cfg); err != nil {
		return nil, err
	}
	if err := validateBatching(cfg); err != nil {
		return nil, err
	}
	if err := validateOpenScan(cfg); err != nil {
		return nil, err
	}
	if err := validateLLM(cfg); err != nil {
		return nil, err
	}
	if err := validateOutput(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Scan.Root) == "" {
		cfg.Scan.Root = "."
	}
	if cfg.Scan.MaxFileBytes <= 0 {
		cfg.Scan.MaxFileBytes = 512 * 1024
	}
	if len(cfg.Scan.IncludeExtensions) == 0 {
		cfg.Scan.IncludeExtensions = append([]string(nil), defaultExtensions...)
	}
	if len(cfg.Scan.ExcludeDirs) == 0 {
		cfg.Scan.ExcludeDirs = append([]string(nil), defaultExcludeDirs...)
	}

	if cfg.Chunking.MaxChars <= 0 {
		cfg.Chunking.MaxChars = 6000
	}
	if cfg.Chunking.OverlapChars <= 0 {
		cfg.Chunking.OverlapChars = cfg.Chunking.MaxChars / 10
	}

	if cfg.Batching.BasePromptTokens <= 0 {
		cfg.Batching.BasePromptTokens = 800
	}
	if cfg.Batching.MaxPromptTokens <= 0 {
		cfg.Batching.MaxPromptTokens = 12000
	}
	if cfg.Batching.MinBatchSize <= 0 {
		cfg.Batching.MinBatchSize = 1
	}
	if cfg.Batching.MaxBatchChunks <= 0 {
		cfg.Batching.MaxBatchChunks = 8
	}
	if cfg.Batching.RuleBatchSize <= 0 {
		cfg.Batching.RuleBatchSize = 3
	}

	if cfg.Rules.MinRulesPerChunk <= 0 {
		cfg.Rules.MinRulesPerChunk = 3
	}

	if cfg.OpenScan.ContradictionRatio <= 0 {
		cfg.OpenScan.ContradictionRatio = 0.5
	}
	if cfg.OpenScan.HighCoverageRatio <= 0 {
		cfg.OpenScan.HighCoverageRatio = 0.75
	}
	if cfg.OpenScan.LowCoverageRatio <= 0 {
		cfg.OpenScan.LowCoverageRatio = 0.5
	}
	if cfg.OpenScan.MinSignalsPerRule <= 0 {
		cfg.OpenScan.MinSignalsPerRule = 0.5
	}

	if cfg.Breaker.MaxDepth <= 0 {
		cfg.Breaker.MaxDepth = 8
	}

	if cfg.Reachability.MaxDepth <= 0 {
		cfg.Reachability.MaxDepth = 8
	}
	if cfg.Reachability.MaxEntryPointsPerNode <= 0 {
		cfg.Reachability.MaxEntryPointsPerNode = 3
	}

	if strings.TrimSpace(cfg.LLM.BaseURL) == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.LLM.APIKeyEnv) == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = 90 * time.Second
	}
	if cfg.LLM.MaxConcurrency <= 0 {
		cfg.LLM.MaxConcurrency = 4
	}
	if cfg.LLM.RequestsPerMinute <= 0 {
		cfg.LLM.RequestsPerMinute = 60
	}
	if cfg.LLM.TokensPerMinute <= 0 {
		cfg.LLM.TokensPerMinute = 200000
	}
	if cfg.LLM.MaxRetries < 0 {
		cfg.LLM.MaxRetries = 0
	}

	if strings.TrimSpace(cfg.Static.Bin) == "" {
		cfg.Static.Bin = "semgrep"
	}
	if strings.TrimSpace(cfg.Static.Config) == "" {
		cfg.Static.Config = "auto"
	}
	if cfg.Static.Timeout <= 0 {
		cfg.Static.Timeout = 10 * time.Minute
	}

	if cfg.Secrets.EntropyThreshold <= 0 {
		cfg.Secrets.EntropyThreshold = 4.0
	}
	if cfg.Secrets.MinTokenLength <= 0 {
		cfg.Secrets.MinTokenLength = 20
	}

	if strings.TrimSpace(cfg.Cache.Path) == "" {
		cfg.Cache.Path = ".repoaudit/cache.db"
	}
	if cfg.Cache.MemoryEntries <= 0 {
		cfg.Cache.MemoryEntries = 2048
	}

	if strings.TrimSpace(cfg.Output.Format) == "" {
		cfg.Output.Format = "text"
	}

	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "repoaudit"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
