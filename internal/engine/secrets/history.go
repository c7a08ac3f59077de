package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

const (
	// DefaultHistoryDepth is how many commits to scan when depth is not specified.
	DefaultHistoryDepth = 50
	// MaxHistoryDepth caps the walk on very large repositories.
	MaxHistoryDepth = 1000
)

// ScanHistory walks up to depth commits from HEAD and runs detector over the
// lines each commit added. Findings carry the synthetic path
//
//	git:history:<short-commit>:<file>
//
// because the secret may no longer exist in the working tree.
func ScanHistory(repoPath string, depth int, detector *Detector) ([]Secret, error) {
	if depth <= 0 {
		return nil, nil
	}
	if depth > MaxHistoryDepth {
		depth = MaxHistoryDepth
	}
	if detector == nil {
		return nil, fmt.Errorf("secrets: detector must not be nil")
	}

	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	defer iter.Close()

	var all []Secret
	seen := make(map[string]bool)
	count := 0
	err = iter.ForEach(func(commit *object.Commit) error {
		if count >= depth {
			return storer.ErrStop
		}
		count++

		patch, err := commitPatch(commit)
		if err != nil {
			return err
		}
		for _, fp := range patch.FilePatches() {
			if fp.IsBinary() {
				continue
			}
			_, to := fp.Files()
			if to == nil {
				continue
			}
			added := addedText(fp.Chunks())
			if added == "" {
				continue
			}
			syntheticPath := fmt.Sprintf("git:history:%s:%s", shortHash(commit.Hash.String()), to.Path())
			for _, secret := range detector.Detect(syntheticPath, []byte(added)) {
				key := syntheticPath + ":" + secret.Value
				if seen[key] {
					continue
				}
				seen[key] = true
				all = append(all, secret)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, err
	}
	return all, nil
}

func commitPatch(commit *object.Commit) (*object.Patch, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	if commit.NumParents() == 0 {
		empty := &object.Tree{}
		return empty.Patch(tree)
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return nil, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	return parentTree.Patch(tree)
}

func addedText(chunks []diff.Chunk) string {
	var b strings.Builder
	for _, chunk := range chunks {
		if chunk.Type() == diff.Add {
			b.WriteString(chunk.Content())
		}
	}
	return b.String()
}

func shortHash(hash string) string {
	if len(hash) >= 7 {
		return hash[:7]
	}
	return hash
}
