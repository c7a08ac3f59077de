// Package discovery walks a repository and yields the source files to audit.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"repoaudit/internal/engine/chunker"
	"repoaudit/internal/shared/util"
)

// sniffBytes is how much of a file is inspected for NUL bytes.
const sniffBytes = 8000

type File struct {
	// Path is slash-separated and relative to the scan root.
	Path    string
	AbsPath string
	Content []byte
	Hash    string
}

type Options struct {
	Root              string
	IncludeExtensions []string
	ExcludeDirs       []string
	ExcludeFiles      []string
	MaxFileBytes      int64
	RespectGitignore  bool
	IncludeTests      bool
}

type SkipReason string

const (
	SkipExcluded  SkipReason = "excluded"
	SkipGitignore SkipReason = "gitignored"
	SkipTooLarge  SkipReason = "too_large"
	SkipBinary    SkipReason = "binary"
	SkipTest      SkipReason = "test_file"
	SkipExtension SkipReason = "extension"
)

type Skipped struct {
	Path   string     `json:"path"`
	Reason SkipReason `json:"reason"`
}

type Result struct {
	Files   []File
	Skipped []Skipped
}

type Discoverer struct {
	opts      Options
	root      string
	exts      map[string]bool
	dirGlobs  []glob.Glob
	fileGlobs []glob.Glob
	ignore    *ignoreCache
}

func New(opts Options) (*Discoverer, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	d := &Discoverer{
		opts: opts,
		root: root,
		exts: make(map[string]bool, len(opts.IncludeExtensions)),
	}
	for _, ext := range opts.IncludeExtensions {
		d.exts[strings.ToLower(ext)] = true
	}
	for _, p := range opts.ExcludeDirs {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude dir pattern %q: %w", p, err)
		}
		d.dirGlobs = append(d.dirGlobs, g)
	}
	for _, p := range opts.ExcludeFiles {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude file pattern %q: %w", p, err)
		}
		d.fileGlobs = append(d.fileGlobs, g)
	}
	if opts.RespectGitignore {
		d.ignore = newIgnoreCache(root)
	}
	return d, nil
}

func (d *Discoverer) Root() string { return d.root }

// Discover walks the root and returns accepted files sorted by path.
func (d *Discoverer) Discover(ctx context.Context) (*Result, error) {
	res := &Result{}
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel := d.rel(path)
		if entry.IsDir() {
			if rel == "." {
				return nil
			}
			if d.excludedDir(entry.Name()) || d.ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		file, reason, err := d.load(path, rel)
		if err != nil {
			slog.Warn("failed to read file", "path", rel, "error", err)
			return nil
		}
		if reason != "" {
			if reason != SkipExtension {
				res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: reason})
			}
			return nil
		}
		res.Files = append(res.Files, file)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	return res, nil
}

// LoadPath applies the discovery filters to a single file, as used by
// incremental rescans. ok is false when the file is filtered out.
func (d *Discoverer) LoadPath(path string) (File, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return File{}, false, err
	}
	rel := d.rel(abs)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return File{}, false, nil
	}
	dirs := strings.Split(rel, "/")
	for i, name := range dirs[:len(dirs)-1] {
		if d.excludedDir(name) || d.ignored(strings.Join(dirs[:i+1], "/"), true) {
			return File{}, false, nil
		}
	}
	file, reason, err := d.load(abs, rel)
	if err != nil || reason != "" {
		return File{}, false, err
	}
	return file, true, nil
}

func (d *Discoverer) load(path, rel string) (File, SkipReason, error) {
	if !d.exts[strings.ToLower(filepath.Ext(rel))] {
		return File{}, SkipExtension, nil
	}
	if d.excludedFile(rel) {
		return File{}, SkipExcluded, nil
	}
	if !d.opts.IncludeTests && IsTestFile(rel) {
		return File{}, SkipTest, nil
	}
	if d.ignored(rel, false) {
		return File{}, SkipGitignore, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return File{}, "", err
	}
	if d.opts.MaxFileBytes > 0 && info.Size() > d.opts.MaxFileBytes {
		return File{}, SkipTooLarge, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, "", err
	}
	if IsBinary(content) {
		return File{}, SkipBinary, nil
	}
	return File{Path: rel, AbsPath: path, Content: content, Hash: chunker.FileHash(content)}, "", nil
}

func (d *Discoverer) rel(path string) string {
	return util.RelSlash(d.root, path)
}

func (d *Discoverer) excludedDir(name string) bool {
	for _, g := range d.dirGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (d *Discoverer) excludedFile(rel string) bool {
	base := filepath.Base(rel)
	for _, g := range d.fileGlobs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func (d *Discoverer) ignored(rel string, isDir bool) bool {
	if d.ignore == nil {
		return false
	}
	return d.ignore.match(rel, isDir)
}

// IsBinary reports whether content looks binary, using the same NUL-byte
// heuristic as git.
func IsBinary(content []byte) bool {
	head := content
	if len(head) > sniffBytes {
		head = head[:sniffBytes]
	}
	return bytes.IndexByte(head, 0) >= 0
}

var testSuffixes = []string{
	"_test.go", ".test.ts", ".test.tsx", ".test.js", ".test.jsx",
	".spec.ts", ".spec.tsx", ".spec.js", ".spec.jsx", "_test.py",
}

func IsTestFile(rel string) bool {
	lower := strings.ToLower(rel)
	base := filepath.Base(lower)
	for _, suffix := range testSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	if strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") {
		return true
	}
	if strings.HasSuffix(filepath.Base(rel), "Test.java") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(lower), "/") {
		if part == "__tests__" || part == "__mocks__" {
			return true
		}
	}
	return false
}
