package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: REPOAUDIT_[SECTION]_[KEY] (e.g., REPOAUDIT_LLM_MODEL).
func ApplyEnvOverrides(cfg *Config) {
	// Scan
	setEnvString(&cfg.Scan.Root, "REPOAUDIT_SCAN_ROOT")
	setEnvInt64(&cfg.Scan.MaxFileBytes, "REPOAUDIT_SCAN_MAX_FILE_BYTES")
	setEnvBool(&cfg.Scan.IncludeTests, "REPOAUDIT_SCAN_INCLUDE_TESTS")

	// Chunking and batching
	setEnvInt(&cfg.Chunking.MaxChars, "REPOAUDIT_CHUNKING_MAX_CHARS")
	setEnvInt(&cfg.Chunking.OverlapChars, "REPOAUDIT_CHUNKING_OVERLAP_CHARS")
	setEnvInt(&cfg.Batching.MaxPromptTokens, "REPOAUDIT_BATCHING_MAX_PROMPT_TOKENS")
	setEnvInt(&cfg.Batching.MaxBatchChunks, "REPOAUDIT_BATCHING_MAX_BATCH_CHUNKS")
	setEnvInt(&cfg.Batching.RuleBatchSize, "REPOAUDIT_BATCHING_RULE_BATCH_SIZE")

	// LLM
	setEnvBool(&cfg.LLM.Enabled, "REPOAUDIT_LLM_ENABLED")
	setEnvString(&cfg.LLM.BaseURL, "REPOAUDIT_LLM_BASE_URL")
	setEnvString(&cfg.LLM.Model, "REPOAUDIT_LLM_MODEL")
	setEnvString(&cfg.LLM.APIKeyEnv, "REPOAUDIT_LLM_API_KEY_ENV")
	setEnvDuration(&cfg.LLM.Timeout, "REPOAUDIT_LLM_TIMEOUT")
	setEnvInt(&cfg.LLM.MaxConcurrency, "REPOAUDIT_LLM_MAX_CONCURRENCY")
	setEnvInt(&cfg.LLM.RequestsPerMinute, "REPOAUDIT_LLM_REQUESTS_PER_MINUTE")
	setEnvInt(&cfg.LLM.TokensPerMinute, "REPOAUDIT_LLM_TOKENS_PER_MINUTE")

	// Static scanner
	setEnvBool(&cfg.Static.SemgrepEnabled, "REPOAUDIT_STATIC_SEMGREP_ENABLED")
	setEnvString(&cfg.Static.Bin, "REPOAUDIT_STATIC_BIN")

	// Secrets
	setEnvFloat64(&cfg.Secrets.EntropyThreshold, "REPOAUDIT_SECRETS_ENTROPY_THRESHOLD")
	setEnvInt(&cfg.Secrets.MinTokenLength, "REPOAUDIT_SECRETS_MIN_TOKEN_LENGTH")

	// Cache
	setEnvString(&cfg.Cache.Path, "REPOAUDIT_CACHE_PATH")

	// Output
	setEnvString(&cfg.Output.Format, "REPOAUDIT_OUTPUT_FORMAT")
	setEnvString(&cfg.Output.Path, "REPOAUDIT_OUTPUT_PATH")

	// Observability
	setEnvString(&cfg.Observability.MetricsAddr, "REPOAUDIT_OBSERVABILITY_METRICS_ADDR")
	setEnvString(&cfg.Observability.OTLPEndpoint, "REPOAUDIT_OBSERVABILITY_OTLP_ENDPOINT")

	// Watch
	setEnvDuration(&cfg.Watch.Debounce, "REPOAUDIT_WATCH_DEBOUNCE")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		log.Printf("Applying env override: %s=%s", key, val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = i
		}
	}
}

func setEnvInt64(target *int64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = d
		}
	}
}
