package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string, opts Options) <-chan []string {
	t.Helper()
	changes := make(chan []string, 16)
	w, err := New(opts, func(paths []string) { changes <- paths })
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Close() })
	if err := w.Watch([]string{root}); err != nil {
		t.Fatal(err)
	}
	return changes
}

// waitFor drains batches until one contains want.
func waitFor(t *testing.T, changes <-chan []string, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case paths := <-changes:
			if slices.Contains(paths, want) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for change to %s", want)
		}
	}
}

func expectQuiet(t *testing.T, changes <-chan []string, d time.Duration) {
	t.Helper()
	select {
	case paths := <-changes:
		t.Fatalf("unexpected change batch %v", paths)
	case <-time.After(d):
	}
}

func TestNew_RejectsNilCallback(t *testing.T) {
	w, err := New(Options{Debounce: time.Millisecond}, nil)
	if !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("expected os.ErrInvalid, got %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher")
	}
}

func TestWatcher_ReportsCreatedAndNestedFiles(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root, Options{Debounce: 50 * time.Millisecond, ExcludeFiles: []string{"*.lock"}})

	handler := filepath.Join(root, "handler.go")
	if err := os.WriteFile(handler, []byte("package api"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, handler)

	if err := os.WriteFile(filepath.Join(root, "deps.lock"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, changes, 300*time.Millisecond)

	nested := filepath.Join(root, "routes", "users.go")
	if err := os.MkdirAll(filepath.Dir(nested), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(nested, []byte("package routes"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, nested)
}

func TestWatcher_IdenticalRewriteIsQuiet(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "db.go")
	content := []byte("package db\n\nfunc Query() {}\n")
	if err := os.WriteFile(target, content, 0o644); err != nil {
		t.Fatal(err)
	}
	changes := startWatcher(t, root, Options{Debounce: 50 * time.Millisecond})

	if err := os.WriteFile(target, content, 0o644); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, changes, 300*time.Millisecond)

	if err := os.WriteFile(target, []byte("package db\n\nfunc Query(id string) {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, target)
}

func TestWatcher_IgnoresOwnOutput(t *testing.T) {
	root := t.TempDir()
	report := filepath.Join(root, "report.json")
	changes := startWatcher(t, root, Options{Debounce: 50 * time.Millisecond, Ignore: []string{report}})

	if err := os.WriteFile(report, []byte(`{"findings":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, changes, 300*time.Millisecond)
}

func TestWatcher_RenameTriggersChange(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.go")
	if err := os.WriteFile(oldPath, []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}
	changes := startWatcher(t, root, Options{Debounce: 50 * time.Millisecond})

	newPath := filepath.Join(root, "new.go")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, oldPath)
}

func TestWatcher_ExcludedFile(t *testing.T) {
	w, err := New(Options{
		ExcludeFiles: []string{"*.min.js", "generated/**"},
		Extensions:   []string{".go", ".JS"},
		Ignore:       []string{"/repo/report.go"},
	}, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	cases := []struct {
		path    string
		exclude bool
	}{
		{"main.go", false},
		{"web/app.js", false},
		{"main.py", true},
		{"main_test.go", true},
		{"web/__tests__/app.js", true},
		{"web/vendor.min.js", true},
		{"generated/api.go", true},
		{"/repo/report.go", true},
	}
	for _, tc := range cases {
		if got := w.excludedFile(tc.path); got != tc.exclude {
			t.Errorf("excludedFile(%q) = %v, want %v", tc.path, got, tc.exclude)
		}
	}

	all, err := New(Options{IncludeTests: true}, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer all.Close()
	if all.excludedFile("main_test.go") || all.excludedFile("notes.txt") {
		t.Fatal("expected tests and every extension to pass without filters")
	}
}

func TestContentIndex_RemovedFileReportedOnce(t *testing.T) {
	target := filepath.Join(t.TempDir(), "gone.go")
	if err := os.WriteFile(target, []byte("package gone"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := &contentIndex{hashes: make(map[string]string)}
	idx.record(target)
	if idx.changed(target) {
		t.Fatal("expected unchanged content to be ignored")
	}
	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	if !idx.changed(target) {
		t.Fatal("expected removal to be reported")
	}
	if idx.changed(target) {
		t.Fatal("expected removal to be reported only once")
	}
	if idx.changed(filepath.Join(t.TempDir(), "never.go")) {
		t.Fatal("expected unknown missing paths to be ignored")
	}
}
