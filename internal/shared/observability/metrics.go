package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repoaudit_phase_seconds",
		Help:    "Time spent in each scan phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	FilesScannedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repoaudit_files_scanned_total",
		Help: "Total number of source files accepted for scanning.",
	})

	ChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repoaudit_chunks_total",
		Help: "Total number of chunks produced by the chunker.",
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoaudit_llm_requests_total",
		Help: "Total number of model completions by outcome.",
	}, []string{"outcome"})

	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repoaudit_llm_request_seconds",
		Help:    "Latency of a single model completion, including retries.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoaudit_llm_tokens_total",
		Help: "Total number of model tokens by kind (prompt, completion).",
	}, []string{"kind"})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoaudit_batches_total",
		Help: "Total number of model batches dispatched per phase.",
	}, []string{"phase"})

	BatchSplitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoaudit_batch_splits_total",
		Help: "Total number of failed batches split by the circuit breaker.",
	}, []string{"phase"})

	OpenScanDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoaudit_open_scan_decisions_total",
		Help: "Open-scan gate decisions by result.",
	}, []string{"run"})

	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoaudit_findings_total",
		Help: "Total number of reported findings by severity.",
	}, []string{"severity"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoaudit_cache_lookups_total",
		Help: "Incremental cache lookups by kind and result.",
	}, []string{"kind", "result"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repoaudit_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	HeapAllocMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repoaudit_heap_alloc_mb",
		Help: "Heap allocation sampled at the end of each scan.",
	})
)
