package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	coreapp "repoaudit/internal/core/app"
	"repoaudit/internal/core/config"
	"repoaudit/internal/core/ports"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/shared/observability"
	"repoaudit/internal/shared/util"
	"repoaudit/internal/ui/report"
)

type runtime struct {
	opts     cliOptions
	stdout   io.Writer
	stderr   io.Writer
	factory  appFactory
	exitCode int
}

func configureLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// prepare loads the config, applies command line overrides and resolves paths.
func (rt *runtime) prepare() (*config.Config, string, config.ResolvedPaths, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", config.ResolvedPaths{}, fmt.Errorf("detect working directory: %w", err)
	}
	cfg, cfgPath, err := loadConfig(rt.opts.configPath, cwd)
	if err != nil {
		return nil, "", config.ResolvedPaths{}, fmt.Errorf("load config: %w", err)
	}
	if err := applyOptions(rt.opts, cfg); err != nil {
		return nil, "", config.ResolvedPaths{}, err
	}
	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		return nil, "", config.ResolvedPaths{}, fmt.Errorf("resolve paths: %w", err)
	}
	return cfg, cfgPath, paths, nil
}

func (rt *runtime) build() (*coreapp.App, string, error) {
	cfg, cfgPath, paths, err := rt.prepare()
	if err != nil {
		return nil, "", err
	}
	a, err := rt.factory.New(cfg, paths)
	if err != nil {
		return nil, "", fmt.Errorf("init app: %w", err)
	}
	return a, cfgPath, nil
}

func (rt *runtime) scan(ctx context.Context) error {
	a, _, err := rt.build()
	if err != nil {
		rt.exitCode = exitError
		return err
	}
	defer a.Close()

	stop := startTelemetry(ctx, a)
	defer stop()

	res, err := a.AnalysisService().RunScan(ctx, ports.ScanRequest{})
	if err != nil {
		rt.exitCode = exitError
		return fmt.Errorf("scan: %w", err)
	}
	if err := rt.writeReport(a, res); err != nil {
		rt.exitCode = exitError
		return err
	}
	rt.exitCode = exitCodeFor(res.Findings, rt.opts.failOn)
	return nil
}

func (rt *runtime) watch(ctx context.Context) error {
	a, cfgPath, err := rt.build()
	if err != nil {
		rt.exitCode = exitError
		return err
	}
	defer a.Close()

	stop := startTelemetry(ctx, a)
	defer stop()

	if cfgPath != "" {
		cw := config.NewWatcher(cfgPath, a.ApplyConfig)
		if err := cw.Start(ctx); err != nil {
			slog.Warn("config hot reload disabled", "path", cfgPath, "error", err)
		} else {
			defer cw.Stop()
		}
	}

	err = a.Watch(ctx, func(res ports.ScanResult) {
		if err := rt.writeReport(a, res); err != nil {
			slog.Error("failed to write report", "error", err)
		}
	})
	if err != nil {
		rt.exitCode = exitError
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

func (rt *runtime) listRules() error {
	_, _, paths, err := rt.prepare()
	if err != nil {
		rt.exitCode = exitError
		return err
	}
	catalog, err := coreapp.LoadCatalog(paths.PackFiles)
	if err != nil {
		rt.exitCode = exitError
		return err
	}

	tw := tabwriter.NewWriter(rt.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLUSTER\tSEVERITY\tTITLE")
	for _, r := range catalog.Rules() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Cluster, r.Severity, r.Title)
	}
	return tw.Flush()
}

func (rt *runtime) writeReport(a *coreapp.App, res ports.ScanResult) error {
	var buf bytes.Buffer
	opts := report.Options{
		ProjectName: filepath.Base(res.Root),
		Verbosity:   rt.opts.verbosity,
		Catalog:     a.Catalog(),
	}
	format := a.Settings().Output.Format
	if err := report.Write(&buf, format, res, opts); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if a.Paths.OutputPath == "" {
		_, err := rt.stdout.Write(buf.Bytes())
		return err
	}
	if err := util.WriteFileWithDirs(a.Paths.OutputPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	slog.Info("report written", "path", a.Paths.OutputPath, "format", format, "findings", len(res.Findings))
	return nil
}

// startTelemetry enables tracing and the metrics server when configured and
// returns a function that shuts both down.
func startTelemetry(ctx context.Context, a *coreapp.App) func() {
	obs := a.Settings().Observability
	shutdownTracing, err := observability.InitTracing(ctx, obs.OTLPEndpoint, obs.ServiceName)
	if err != nil {
		slog.Warn("tracing disabled", "endpoint", obs.OTLPEndpoint, "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	var server *ObservabilityServer
	if obs.MetricsAddr != "" {
		server = NewObservabilityServer(obs.MetricsAddr, a.Health())
		if err := server.Start(ctx); err != nil {
			slog.Warn("observability server disabled", "addr", obs.MetricsAddr, "error", err)
			server = nil
		}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if server != nil {
			_ = server.Stop(shutdownCtx)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Debug("tracing shutdown failed", "error", err)
		}
	}
}

// loadConfig reads an explicit config path, or ./repoaudit.toml when present,
// or falls back to defaults. The returned path is empty for defaults.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	if strings.TrimSpace(path) != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		return cfg, abs, nil
	}

	candidate := filepath.Join(cwd, config.DefaultFile)
	if _, err := os.Stat(candidate); err == nil {
		cfg, err := config.Load(candidate)
		if err != nil {
			return nil, "", err
		}
		return cfg, candidate, nil
	}
	cfg, err := config.LoadOrDefault(candidate)
	return cfg, "", err
}

func applyOptions(opts cliOptions, cfg *config.Config) error {
	if strings.TrimSpace(opts.root) != "" {
		cfg.Scan.Root = opts.root
	}
	if opts.includeTests {
		cfg.Scan.IncludeTests = true
	}
	if opts.noLLM {
		cfg.LLM.Enabled = false
	}
	if opts.noCache {
		off := false
		cfg.Cache.Enabled = &off
	}
	if strings.TrimSpace(opts.format) != "" {
		switch format := strings.ToLower(strings.TrimSpace(opts.format)); format {
		case report.FormatText, report.FormatJSON, report.FormatSARIF, report.FormatMarkdown, report.FormatTSV:
			cfg.Output.Format = format
		default:
			return fmt.Errorf("--format must be one of: text, json, sarif, markdown, tsv")
		}
	}
	if strings.TrimSpace(opts.output) != "" {
		cfg.Output.Path = opts.output
	}
	if strings.TrimSpace(opts.failOn) != "" && findings.ParseSeverity(opts.failOn) != findings.Severity(strings.ToLower(strings.TrimSpace(opts.failOn))) {
		return fmt.Errorf("--fail-on must be one of: critical, high, medium, low, info")
	}
	return nil
}

// exitCodeFor returns exitFindings when any finding reaches failOn.
func exitCodeFor(list []findings.Finding, failOn string) int {
	if strings.TrimSpace(failOn) == "" {
		return exitOK
	}
	threshold := findings.ParseSeverity(failOn)
	for _, f := range list {
		if f.Severity.Rank() >= threshold.Rank() {
			return exitFindings
		}
	}
	return exitOK
}
