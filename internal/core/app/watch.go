package app

import (
	"context"
	"log/slog"
	"slices"

	"repoaudit/internal/core/config"
	"repoaudit/internal/core/ports"
	"repoaudit/internal/core/watcher"
	"repoaudit/internal/shared/util"
)

// Watch runs an initial scan and then rescans whenever watched files change,
// until ctx is done. Every completed scan is handed to onResult.
func (a *App) Watch(ctx context.Context, onResult func(ports.ScanResult)) error {
	res, err := a.Scan(ctx, ports.ScanRequest{})
	if err != nil {
		return err
	}
	onResult(res)

	cfg := a.Settings()
	changes := make(chan []string, 1)
	w, err := watcher.New(watcher.Options{
		Debounce:     cfg.Watch.Debounce,
		ExcludeDirs:  cfg.Scan.ExcludeDirs,
		ExcludeFiles: cfg.Scan.ExcludeFiles,
		Extensions:   cfg.Scan.IncludeExtensions,
		IncludeTests: cfg.Scan.IncludeTests,
		Ignore:       a.ownFiles(),
	}, func(paths []string) {
		select {
		case changes <- paths:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Watch([]string{a.Paths.Root}); err != nil {
		return err
	}
	a.setWatcher(w)
	defer a.setWatcher(nil)
	slog.Info("watching for changes", "root", a.Paths.Root, "debounce", cfg.Watch.Debounce)

	for {
		select {
		case <-ctx.Done():
			return nil
		case paths := <-changes:
			changed := a.relativePaths(paths)
			slog.Info("changes detected", "files", len(changed))
			res, err := a.Scan(ctx, ports.ScanRequest{Changed: changed})
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("rescan failed", "error", err)
				continue
			}
			onResult(res)
		}
	}
}

// restartSections are built into collaborators by New and only take effect
// after a restart.
var restartSections = map[string]bool{
	"scan":          true,
	"llm":           true,
	"static":        true,
	"secrets":       true,
	"cache":         true,
	"output":        true,
	"observability": true,
}

// ApplyConfig merges the reloadable sections of cfg into the running config.
// It waits for an in-flight scan so a scan never sees a mix of settings.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	current := a.Settings()
	var applied, pending []string
	for _, section := range config.Diff(current, cfg) {
		if restartSections[section] {
			pending = append(pending, section)
			continue
		}
		applied = append(applied, section)
	}

	next := *current
	next.Chunking = cfg.Chunking
	next.Batching = cfg.Batching
	next.OpenScan = cfg.OpenScan
	next.Breaker = cfg.Breaker
	next.Reachability = cfg.Reachability
	next.Watch = cfg.Watch
	next.Rules = cfg.Rules
	next.Rules.PackFiles = current.Rules.PackFiles
	if !slices.Equal(cfg.Rules.PackFiles, current.Rules.PackFiles) {
		pending = append(pending, "rules.pack_files")
	}

	a.cfgMu.Lock()
	a.Config = &next
	a.cfgMu.Unlock()

	a.watcherMu.Lock()
	if a.watcher != nil {
		a.watcher.SetDebounce(next.Watch.Debounce)
	}
	a.watcherMu.Unlock()

	slog.Info("config reloaded", "applied", applied)
	if len(pending) > 0 {
		slog.Warn("config changes take effect after restart", "sections", pending)
	}
}

// Settings returns the current config. Callers outside a scan use it instead
// of reading Config directly while hot reload is active.
func (a *App) Settings() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.Config
}

func (a *App) setWatcher(w *watcher.Watcher) {
	a.watcherMu.Lock()
	defer a.watcherMu.Unlock()
	a.watcher = w
}

// ownFiles lists files the scanner writes under the root, which must not
// trigger rescans.
func (a *App) ownFiles() []string {
	var out []string
	if a.Paths.OutputPath != "" {
		out = append(out, a.Paths.OutputPath)
	}
	if a.Paths.CachePath != "" {
		out = append(out, a.Paths.CachePath, a.Paths.CachePath+"-wal", a.Paths.CachePath+"-shm", a.Paths.CachePath+"-journal")
	}
	return out
}

func (a *App) relativePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, util.RelSlash(a.Paths.Root, p))
	}
	return out
}
