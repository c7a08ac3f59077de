// Package semgrep runs the semgrep CLI and converts its SARIF output into
// static findings.
package semgrep

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"repoaudit/internal/core/errors"
	"repoaudit/internal/engine/findings"
)

const (
	DefaultBin     = "semgrep"
	DefaultConfig  = "auto"
	DefaultTimeout = 10 * time.Minute
)

type Options struct {
	Bin     string
	Config  string
	Timeout time.Duration
}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

type Scanner struct {
	opts Options
	run  runFunc
}

func New(opts Options) *Scanner {
	if opts.Bin == "" {
		opts.Bin = DefaultBin
	}
	if opts.Config == "" {
		opts.Config = DefaultConfig
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Scanner{opts: opts, run: execRun}
}

func (s *Scanner) Name() string { return "semgrep" }

// Available reports whether the semgrep binary can be found.
func (s *Scanner) Available() bool {
	_, err := exec.LookPath(s.opts.Bin)
	return err == nil
}

// Scan runs semgrep over root and returns its results with paths relative
// to root.
func (s *Scanner) Scan(ctx context.Context, root string) ([]findings.StaticFinding, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := s.run(ctx, s.opts.Bin, "scan", "--config", s.opts.Config, "--sarif", "--quiet", "--metrics=off", root)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.CodeCanceled, "semgrep did not finish")
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "semgrep failed")
	}
	results, err := ParseSARIF(out, root)
	if err != nil {
		return nil, err
	}
	slog.Info("static scan finished", "tool", "semgrep", "findings", len(results), "elapsed", time.Since(start))
	return results, nil
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}

// ParseSARIF converts a SARIF log into static findings. Result locations are
// made relative to root when they point inside it.
func ParseSARIF(data []byte, root string) ([]findings.StaticFinding, error) {
	report, err := sarif.FromBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedResponse, "invalid SARIF")
	}

	var out []findings.StaticFinding
	for _, run := range report.Runs {
		tool := "semgrep"
		if run.Tool.Driver != nil && run.Tool.Driver.Name != "" {
			tool = strings.ToLower(run.Tool.Driver.Name)
		}
		levels := ruleLevels(run)
		for _, res := range run.Results {
			if res == nil || res.RuleID == nil {
				continue
			}
			sf := findings.StaticFinding{
				Tool:     tool,
				RuleID:   *res.RuleID,
				Severity: levels[*res.RuleID],
			}
			if res.Level != nil {
				sf.Severity = *res.Level
			}
			if res.Message.Text != nil {
				sf.Message = *res.Message.Text
			}
			if sf.Message == "" {
				sf.Message = sf.RuleID
			}
			sf.FilePath, sf.StartLine, sf.EndLine = location(res, root)
			if sf.FilePath == "" {
				continue
			}
			out = append(out, sf)
		}
	}
	return out, nil
}

func ruleLevels(run *sarif.Run) map[string]string {
	levels := make(map[string]string)
	if run.Tool.Driver == nil {
		return levels
	}
	for _, rule := range run.Tool.Driver.Rules {
		if rule == nil || rule.DefaultConfiguration == nil {
			continue
		}
		levels[rule.ID] = rule.DefaultConfiguration.Level
	}
	return levels
}

func location(res *sarif.Result, root string) (string, int, int) {
	if len(res.Locations) == 0 || res.Locations[0].PhysicalLocation == nil {
		return "", 0, 0
	}
	phys := res.Locations[0].PhysicalLocation
	path := ""
	if phys.ArtifactLocation != nil && phys.ArtifactLocation.URI != nil {
		path = relativePath(*phys.ArtifactLocation.URI, root)
	}
	start, end := 0, 0
	if phys.Region != nil {
		if phys.Region.StartLine != nil {
			start = *phys.Region.StartLine
		}
		if phys.Region.EndLine != nil {
			end = *phys.Region.EndLine
		}
	}
	if end < start {
		end = start
	}
	return path, start, end
}

func relativePath(uri, root string) string {
	p := strings.TrimPrefix(uri, "file://")
	if filepath.IsAbs(p) && root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			if rel, err := filepath.Rel(abs, p); err == nil && !strings.HasPrefix(rel, "..") {
				return filepath.ToSlash(rel)
			}
		}
	}
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "./")
}
