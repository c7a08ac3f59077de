// Package watcher turns filesystem events under a repository root into
// debounced batches of source files whose content actually changed.
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"repoaudit/internal/engine/discovery"
	"repoaudit/internal/shared/observability"
	"repoaudit/internal/shared/util"
)

// Options selects which paths produce change notifications.
type Options struct {
	Debounce time.Duration
	// ExcludeDirs match directory base names; ExcludeFiles match base names
	// or slash-separated paths.
	ExcludeDirs  []string
	ExcludeFiles []string
	// Extensions limits notifications to these extensions. Empty accepts all.
	Extensions   []string
	IncludeTests bool
	// Ignore lists exact paths the scanner itself writes, such as the
	// report file and the cache database.
	Ignore []string
}

type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func([]string)

	excludeDirs  []glob.Glob
	excludeFiles []glob.Glob
	exts         map[string]bool
	includeTests bool
	ignore       map[string]bool

	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]struct{}
	timer    *time.Timer

	seen    *contentIndex
	flushMu sync.Mutex
}

func New(opts Options, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}
	dirs, err := compileAll(opts.ExcludeDirs)
	if err != nil {
		return nil, err
	}
	files, err := compileAll(opts.ExcludeFiles)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:           fsw,
		onChange:     onChange,
		excludeDirs:  dirs,
		excludeFiles: files,
		exts:         make(map[string]bool, len(opts.Extensions)),
		includeTests: opts.IncludeTests,
		ignore:       make(map[string]bool, len(opts.Ignore)),
		debounce:     opts.Debounce,
		pending:      make(map[string]struct{}),
		seen:         &contentIndex{hashes: make(map[string]string)},
	}
	for _, ext := range opts.Extensions {
		if ext = strings.ToLower(strings.TrimSpace(ext)); ext != "" {
			w.exts[ext] = true
		}
	}
	for _, p := range opts.Ignore {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		w.ignore[filepath.Clean(p)] = true
	}
	return w, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// SetDebounce applies to batches scheduled after the call.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Watch registers every non-excluded directory under roots, records the
// current content of their files and starts delivering events.
func (w *Watcher) Watch(roots []string) error {
	for _, root := range roots {
		if err := w.addTree(root, false); err != nil {
			return err
		}
	}
	go w.loop()
	return nil
}

// addTree watches root recursively. When schedule is set the files found are
// queued as changes, which covers files created together with a new directory.
func (w *Watcher) addTree(root string, schedule bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && w.excludedDir(path) {
				return filepath.SkipDir
			}
			return w.fs.Add(path)
		}
		if w.excludedFile(path) {
			return nil
		}
		if schedule {
			w.schedule(path)
		} else {
			w.seen.record(path)
		}
		return nil
	})
}

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.excludedDir(event.Name) {
				return
			}
			if err := w.addTree(event.Name, true); err != nil {
				slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}
	if event.Op&relevantOps == 0 || w.excludedFile(event.Name) {
		return
	}
	w.schedule(event.Name)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	paths := make([]string, 0, len(batch))
	for path := range batch {
		if w.seen.changed(path) {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)

	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	w.onChange(paths)
}

func (w *Watcher) excludedDir(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) excludedFile(path string) bool {
	if w.ignore[filepath.Clean(path)] {
		return true
	}
	slashed := filepath.ToSlash(path)
	if !w.includeTests && discovery.IsTestFile(slashed) {
		return true
	}
	base := filepath.Base(path)
	if len(w.exts) > 0 && !w.exts[strings.ToLower(filepath.Ext(base))] {
		return true
	}
	for _, g := range w.excludeFiles {
		if g.Match(base) || g.Match(slashed) {
			return true
		}
	}
	return false
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

// contentIndex remembers the last content hash per path so rewrites with
// identical bytes are not reported.
type contentIndex struct {
	mu     sync.Mutex
	hashes map[string]string
}

func (c *contentIndex) record(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.hashes[path] = util.SHA256Hex(content)
	c.mu.Unlock()
}

// changed reports whether path differs from the last content seen. A known
// path that can no longer be read counts as changed once.
func (c *contentIndex) changed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		if _, known := c.hashes[path]; known {
			delete(c.hashes, path)
			return true
		}
		return !os.IsNotExist(err)
	}
	hash := util.SHA256Hex(content)
	if c.hashes[path] == hash {
		return false
	}
	c.hashes[path] = hash
	return true
}
