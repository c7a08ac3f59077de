package discovery

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// ignoreCache holds the gitignore patterns in effect for each directory,
// built from the root's .git/info/exclude and every .gitignore on the way down.
type ignoreCache struct {
	root string

	mu    sync.Mutex
	byDir map[string][]gitignore.Pattern
}

func newIgnoreCache(root string) *ignoreCache {
	return &ignoreCache{root: root, byDir: make(map[string][]gitignore.Pattern)}
}

func (c *ignoreCache) match(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	patterns := c.patterns(path.Dir(rel))
	if len(patterns) == 0 {
		return false
	}
	return gitignore.NewMatcher(patterns).Match(parts, isDir)
}

// patterns returns the patterns for dir ("." for the root), which include
// those of every ancestor.
func (c *ignoreCache) patterns(dir string) []gitignore.Pattern {
	c.mu.Lock()
	cached, ok := c.byDir[dir]
	c.mu.Unlock()
	if ok {
		return cached
	}

	var inherited []gitignore.Pattern
	var domain []string
	if dir == "." {
		inherited = readPatterns(filepath.Join(c.root, ".git", "info", "exclude"), nil)
	} else {
		inherited = c.patterns(path.Dir(dir))
		domain = strings.Split(dir, "/")
	}
	own := readPatterns(filepath.Join(c.root, filepath.FromSlash(dir), ".gitignore"), domain)

	out := make([]gitignore.Pattern, 0, len(inherited)+len(own))
	out = append(out, inherited...)
	out = append(out, own...)

	c.mu.Lock()
	c.byDir[dir] = out
	c.mu.Unlock()
	return out
}

func readPatterns(file string, domain []string) []gitignore.Pattern {
	f, err := os.Open(file)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, gitignore.ParsePattern(line, domain))
	}
	return out
}
