package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ResolvedPaths struct {
	Root       string
	CachePath  string
	OutputPath string
	PackFiles  []string
}

// ResolvePaths anchors relative scan, cache, output and rule-pack paths.
// The scan root is resolved against cwd; everything else against the scan root.
func ResolvePaths(cfg *Config, cwd string) (ResolvedPaths, error) {
	if strings.TrimSpace(cwd) == "" {
		return ResolvedPaths{}, fmt.Errorf("cwd must not be empty")
	}

	root := ResolveRelative(cwd, cfg.Scan.Root)
	info, err := os.Stat(root)
	if err != nil {
		return ResolvedPaths{}, fmt.Errorf("scan.root %q: %w", root, err)
	}
	if !info.IsDir() {
		return ResolvedPaths{}, fmt.Errorf("scan.root %q is not a directory", root)
	}

	out := ResolvedPaths{
		Root:      root,
		CachePath: ResolveRelative(root, cfg.Cache.Path),
	}
	if strings.TrimSpace(cfg.Output.Path) != "" {
		out.OutputPath = ResolveRelative(cwd, cfg.Output.Path)
	}
	for _, pack := range cfg.Rules.PackFiles {
		out.PackFiles = append(out.PackFiles, ResolveRelative(root, pack))
	}
	return out, nil
}

func ResolveRelative(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(base, path))
}
