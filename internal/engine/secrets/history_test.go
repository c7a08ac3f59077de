package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func TestScanHistory_FindsRemovedSecret(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	commit := func(content, msg string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, "config.go"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add("config.go"); err != nil {
			t.Fatal(err)
		}
		sig := &object.Signature{Name: "dev", Email: "dev@localhost", When: time.Now()}
		if _, err := wt.Commit(msg, &git.CommitOptions{Author: sig}); err != nil {
			t.Fatal(err)
		}
	}
	commit("package config\nconst key = \"AKIA1234567890ABCDEF\"\n", "add key")
	commit("package config\nconst key = \"\"\n", "remove key")

	d, err := NewDetector(Config{})
	if err != nil {
		t.Fatal(err)
	}
	found, err := ScanHistory(dir, DefaultHistoryDepth, d)
	if err != nil {
		t.Fatalf("scan history: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one historical secret, got %#v", found)
	}
	if !strings.HasPrefix(found[0].File, "git:history:") || !strings.HasSuffix(found[0].File, ":config.go") {
		t.Fatalf("unexpected synthetic path %q", found[0].File)
	}
}

func TestScanHistory_ZeroDepth(t *testing.T) {
	found, err := ScanHistory(t.TempDir(), 0, nil)
	if err != nil || found != nil {
		t.Fatalf("expected no-op for zero depth, got %v %v", found, err)
	}
}
