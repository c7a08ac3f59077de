package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreapp "repoaudit/internal/core/app"
	"repoaudit/internal/core/config"
	"repoaudit/internal/core/ports"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/shared/version"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr, coreAppFactory{})
	return code, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "repoaudit "+version.Version+"\n", out)
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "explode")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestRulesCommand(t *testing.T) {
	code, out, _ := runCLI(t, "rules", "--root", t.TempDir())
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "sql_injection")
}

func TestScanCommand_WritesJSONReport(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cmd/api/main.go", "package main\n\nconst key = \"AKIA1234567890ABCDEF\"\n\nfunc main() {}\n")
	reportPath := filepath.Join(t.TempDir(), "out", "report.json")

	code, _, errOut := runCLI(t, "scan", root, "--no-llm", "--no-cache", "--format", "json", "--output", reportPath)
	require.Equal(t, exitOK, code, errOut)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var res ports.ScanResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 1, res.FilesScanned)
	require.NotEmpty(t, res.Findings)
	assert.Equal(t, "hardcoded_secret", res.Findings[0].Type)
	assert.NotContains(t, string(data), "AKIA1234567890ABCDEF")
}

func TestScanCommand_FailOn(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nconst key = \"AKIA1234567890ABCDEF\"\n")

	code, out, _ := runCLI(t, "scan", root, "--no-llm", "--no-cache", "--fail-on", "medium")
	assert.Equal(t, exitFindings, code)
	assert.Contains(t, out, "hardcoded_secret")

	code, _, _ = runCLI(t, "scan", root, "--no-llm", "--no-cache", "--fail-on", "critical")
	assert.Equal(t, exitOK, code)
}

func TestScanCommand_BadFlags(t *testing.T) {
	root := t.TempDir()

	code, _, errOut := runCLI(t, "scan", root, "--format", "xml")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "--format")

	code, _, errOut = runCLI(t, "scan", root, "--fail-on", "severe")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "--fail-on")

	code, _, _ = runCLI(t, "scan", filepath.Join(root, "missing"), "--no-llm")
	assert.Equal(t, exitError, code)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, path, err := loadConfig("", dir)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "text", cfg.Output.Format)

	writeFile(t, dir, config.DefaultFile, "[output]\nformat = \"sarif\"\n")
	cfg, path, err = loadConfig("", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, config.DefaultFile), path)
	assert.Equal(t, "sarif", cfg.Output.Format)

	_, _, err = loadConfig(filepath.Join(dir, "nope.toml"), dir)
	require.Error(t, err)
}

func TestApplyOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Enabled = true

	err := applyOptions(cliOptions{root: "./src", includeTests: true, noLLM: true, noCache: true, format: "SARIF", output: "r.sarif"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "./src", cfg.Scan.Root)
	assert.True(t, cfg.Scan.IncludeTests)
	assert.False(t, cfg.LLM.Enabled)
	assert.False(t, cfg.Cache.IsEnabled())
	assert.Equal(t, "sarif", cfg.Output.Format)
	assert.Equal(t, "r.sarif", cfg.Output.Path)
}

func TestExitCodeFor(t *testing.T) {
	list := []findings.Finding{{Severity: findings.SeverityMedium}, {Severity: findings.SeverityLow}}

	tests := []struct {
		failOn string
		want   int
	}{
		{"", exitOK},
		{"info", exitFindings},
		{"medium", exitFindings},
		{"high", exitOK},
		{"critical", exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(list, tt.failOn))
		})
	}
}

func TestObservabilityServerHandler(t *testing.T) {
	cfg := config.DefaultConfig()
	a, err := coreapp.New(cfg, config.ResolvedPaths{Root: t.TempDir(), CachePath: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(NewObservabilityServer(":0", a.Health()).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	var status coreapp.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "none", status.Components["last_scan"])

	_, err = a.Scan(context.Background(), ports.ScanRequest{})
	require.NoError(t, err)

	metrics, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(metrics.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(body.String(), "repoaudit_files_scanned_total"))
}

func TestObservabilityServerStart(t *testing.T) {
	cfg := config.DefaultConfig()
	a, err := coreapp.New(cfg, config.ResolvedPaths{Root: t.TempDir(), CachePath: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer a.Close()

	srv := NewObservabilityServer("127.0.0.1:0", a.Health())
	require.NoError(t, srv.Start(context.Background()))
	require.NotNil(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, srv.Stop(context.Background()))

	busy := NewObservabilityServer(srv.Addr().String(), a.Health())
	ln, err := net.Listen("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer ln.Close()
	assert.Error(t, busy.Start(context.Background()))
}

type failingFactory struct{}

func (failingFactory) New(*config.Config, config.ResolvedPaths) (*coreapp.App, error) {
	return nil, errors.New("store locked")
}

func TestScanCommand_FactoryError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"scan", t.TempDir(), "--no-cache"}, &stdout, &stderr, failingFactory{})
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "init app: store locked")
}
