package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256Hex(t *testing.T) {
	t.Parallel()

	got := SHA256Hex([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if SHA256Hex(nil) == got {
		t.Fatal("expected distinct digests for distinct inputs")
	}
}

func TestRelSlash(t *testing.T) {
	t.Parallel()

	root := filepath.Join(string(filepath.Separator), "repo")
	cases := []struct {
		name     string
		root     string
		path     string
		expected string
	}{
		{name: "Nested", root: root, path: filepath.Join(root, "app", "api", "route.ts"), expected: "app/api/route.ts"},
		{name: "RootItself", root: root, path: root, expected: "."},
		{name: "Outside", root: root, path: filepath.Join(string(filepath.Separator), "other", "x.go"), expected: "../other/x.go"},
		{name: "AlreadyRelative", root: root, path: filepath.Join("src", "a.go"), expected: "src/a.go"},
		{name: "NoRoot", root: "", path: filepath.Join("src", "a.go"), expected: "src/a.go"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := RelSlash(tc.root, tc.path); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestSortedStringKeys(t *testing.T) {
	t.Parallel()

	m := map[string]int{"b": 2, "a": 1, "c": 3}
	keys := SortedStringKeys(m)
	expected := []string{"a", "b", "c"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(keys))
	}
	for i, key := range expected {
		if keys[i] != key {
			t.Fatalf("expected %q at %d, got %q", key, i, keys[i])
		}
	}
}

func TestWriteFileWithDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "scan.json")
	content := []byte(`{"findings":[]}`)

	if err := WriteFileWithDirs(path, content, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("expected %q, got %q", string(content), string(got))
	}
}
