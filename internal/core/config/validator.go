package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateScan(cfg *Config) error {
	for i, ext := range cfg.Scan.IncludeExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("scan.include_extensions[%d] must start with '.', got %q", i, ext)
		}
	}
	for i, pattern := range cfg.Scan.ExcludeFiles {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("scan.exclude_files[%d] invalid glob %q: %w", i, pattern, err)
		}
	}
	return nil
}

func validateChunking(cfg *Config) error {
	if cfg.Chunking.OverlapChars >= cfg.Chunking.MaxChars {
		return fmt.Errorf("chunking.overlap_chars (%d) must be smaller than chunking.max_chars (%d)",
			cfg.Chunking.OverlapChars, cfg.Chunking.MaxChars)
	}
	return nil
}

func validateBatching(cfg *Config) error {
	b := cfg.Batching
	if b.BasePromptTokens >= b.MaxPromptTokens {
		return fmt.Errorf("batching.base_prompt_tokens (%d) must be smaller than batching.max_prompt_tokens (%d)",
			b.BasePromptTokens, b.MaxPromptTokens)
	}
	if b.MinBatchSize > b.MaxBatchChunks {
		return fmt.Errorf("batching.min_batch_size (%d) must not exceed batching.max_batch_chunks (%d)",
			b.MinBatchSize, b.MaxBatchChunks)
	}
	return nil
}

func validateOpenScan(cfg *Config) error {
	ratios := map[string]float64{
		"open_scan.contradiction_ratio": cfg.OpenScan.ContradictionRatio,
		"open_scan.high_coverage_ratio": cfg.OpenScan.HighCoverageRatio,
		"open_scan.low_coverage_ratio":  cfg.OpenScan.LowCoverageRatio,
	}
	for key, v := range ratios {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", key, v)
		}
	}
	if cfg.OpenScan.LowCoverageRatio > cfg.OpenScan.HighCoverageRatio {
		return fmt.Errorf("open_scan.low_coverage_ratio must not exceed open_scan.high_coverage_ratio")
	}
	return nil
}

func validateLLM(cfg *Config) error {
	if !cfg.LLM.Enabled {
		return nil
	}
	base := strings.TrimSpace(cfg.LLM.BaseURL)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return fmt.Errorf("llm.base_url must be an http(s) URL, got %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	return nil
}

func validateOutput(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Output.Format)) {
	case "text", "json", "sarif", "markdown", "tsv":
		return nil
	default:
		return fmt.Errorf("output.format must be one of: text, json, sarif, markdown, tsv")
	}
}
