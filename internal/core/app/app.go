package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"repoaudit/internal/adapters/llm"
	"repoaudit/internal/adapters/semgrep"
	"repoaudit/internal/core/config"
	"repoaudit/internal/core/ports"
	"repoaudit/internal/core/watcher"
	"repoaudit/internal/data/cache"
	"repoaudit/internal/engine/callgraph"
	"repoaudit/internal/engine/discovery"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/engine/secrets"
	"repoaudit/internal/engine/signals"
)

// Dependencies lets callers replace the collaborators New would build.
// Nil Completer, Static, Secrets and Store disable the corresponding stage.
type Dependencies struct {
	Discoverer ports.FileDiscoverer
	CallGraph  ports.CallGraphProvider
	Completer  ports.Completer
	Static     ports.StaticScanner
	Secrets    ports.SecretScanner
	Store      ports.ResultStore
	Catalog    *rules.Catalog
}

type App struct {
	Config *config.Config
	Paths  config.ResolvedPaths

	discoverer ports.FileDiscoverer
	graphs     ports.CallGraphProvider
	completer  ports.Completer
	static     ports.StaticScanner
	secrets    ports.SecretScanner
	store      ports.ResultStore
	catalog    *rules.Catalog
	signals    *signals.Detector

	scanMu sync.Mutex
	cfgMu  sync.RWMutex

	watcherMu sync.Mutex
	watcher   *watcher.Watcher

	lastMu sync.RWMutex
	last   *RunSummary
}

// New builds an App with the collaborators described by cfg.
func New(cfg *config.Config, paths config.ResolvedPaths) (*App, error) {
	deps := Dependencies{CallGraph: callgraph.NewBuilder()}

	d, err := discovery.New(discoveryOptions(cfg, paths.Root))
	if err != nil {
		return nil, err
	}
	deps.Discoverer = d

	catalog, err := LoadCatalog(paths.PackFiles)
	if err != nil {
		return nil, err
	}
	deps.Catalog = catalog

	if cfg.LLM.Enabled {
		apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
		if strings.TrimSpace(apiKey) == "" {
			slog.Warn("llm api key is empty", "env", cfg.LLM.APIKeyEnv)
		}
		deps.Completer = llm.New(llm.Options{
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			APIKey:            apiKey,
			Temperature:       cfg.LLM.Temperature,
			Timeout:           cfg.LLM.Timeout,
			MaxRetries:        cfg.LLM.MaxRetries,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
			TokensPerMinute:   cfg.LLM.TokensPerMinute,
		})
	}

	if cfg.Static.SemgrepEnabled {
		sg := semgrep.New(semgrep.Options{Bin: cfg.Static.Bin, Config: cfg.Static.Config, Timeout: cfg.Static.Timeout})
		if sg.Available() {
			deps.Static = sg
		} else {
			slog.Warn("semgrep not found on PATH, static scan disabled", "bin", cfg.Static.Bin)
		}
	}

	if cfg.Secrets.IsEnabled() {
		det, err := secrets.NewDetector(secrets.Config{
			EntropyThreshold: cfg.Secrets.EntropyThreshold,
			MinTokenLength:   cfg.Secrets.MinTokenLength,
		})
		if err != nil {
			return nil, err
		}
		deps.Secrets = det
	}

	if cfg.Cache.IsEnabled() {
		store, err := cache.Open(paths.CachePath, cfg.Cache.MemoryEntries)
		if err != nil {
			slog.Warn("cache unavailable, scanning without it", "path", paths.CachePath, "error", err)
		} else {
			deps.Store = store
		}
	}

	return NewWithDependencies(cfg, paths, deps)
}

// NewWithDependencies builds an App from explicit collaborators.
func NewWithDependencies(cfg *config.Config, paths config.ResolvedPaths, deps Dependencies) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Discoverer == nil {
		return nil, fmt.Errorf("file discoverer dependency is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = rules.DefaultCatalog()
	}
	if paths.Root == "" {
		paths.Root = deps.Discoverer.Root()
	}
	return &App{
		Config:     cfg,
		Paths:      paths,
		discoverer: deps.Discoverer,
		graphs:     deps.CallGraph,
		completer:  deps.Completer,
		static:     deps.Static,
		secrets:    deps.Secrets,
		store:      deps.Store,
		catalog:    deps.Catalog,
		signals:    signals.NewDetector(),
	}, nil
}

// LoadCatalog extends the default catalog with the given YAML rule packs.
func LoadCatalog(packs []string) (*rules.Catalog, error) {
	catalog := rules.DefaultCatalog()
	for _, pack := range packs {
		extra, err := rules.LoadPack(pack)
		if err != nil {
			return nil, fmt.Errorf("load rule pack %q: %w", pack, err)
		}
		if catalog, err = catalog.With(extra); err != nil {
			return nil, fmt.Errorf("extend catalog with %q: %w", pack, err)
		}
	}
	return catalog, nil
}

func (a *App) Catalog() *rules.Catalog {
	return a.catalog
}

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func discoveryOptions(cfg *config.Config, root string) discovery.Options {
	return discovery.Options{
		Root:              root,
		IncludeExtensions: cfg.Scan.IncludeExtensions,
		ExcludeDirs:       cfg.Scan.ExcludeDirs,
		ExcludeFiles:      cfg.Scan.ExcludeFiles,
		MaxFileBytes:      cfg.Scan.MaxFileBytes,
		RespectGitignore:  cfg.Scan.GitignoreEnabled(),
		IncludeTests:      cfg.Scan.IncludeTests,
	}
}
