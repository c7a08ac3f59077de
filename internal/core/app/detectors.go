package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"

	"repoaudit/internal/engine/discovery"
	"repoaudit/internal/engine/findings"
	"repoaudit/internal/engine/secrets"
)

const secretFindingType = "hardcoded_secret"

// scanSecrets runs the secret detector over every file and, when configured,
// over lines added in recent git history.
func (a *App) scanSecrets(ctx context.Context, files []discovery.File, st *scanState) []findings.Finding {
	if a.secrets == nil {
		return nil
	}
	_, done := phase(ctx, "secrets")
	defer done()

	var out []findings.Finding
	for _, f := range files {
		for _, s := range a.secrets.Detect(f.Path, f.Content) {
			out = append(out, secretFinding(s))
		}
	}

	depth := a.Config.Secrets.HistoryDepth
	det, ok := a.secrets.(*secrets.Detector)
	if depth > 0 && ok {
		found, err := secrets.ScanHistory(a.Paths.Root, depth, det)
		if err != nil {
			st.warn("git history secret scan failed", err, "depth", depth)
		}
		for _, s := range found {
			out = append(out, secretFinding(s))
		}
	}
	return out
}

func secretFinding(s secrets.Secret) findings.Finding {
	return findings.Finding{
		Type:       secretFindingType,
		Severity:   findings.ParseSeverity(s.Severity),
		Summary:    fmt.Sprintf("Possible %s committed to source", s.Kind),
		Location:   findings.Location{FilePath: s.File, StartLine: s.Line, EndLine: s.Line},
		Evidence:   secrets.MaskValue(s.Value),
		Source:     findings.SourceDetector,
		Confidence: s.Confidence,
	}
}

func (a *App) runStatic(ctx context.Context, st *scanState) []findings.StaticFinding {
	if a.static == nil {
		return nil
	}
	ctx, done := phase(ctx, "static")
	defer done()

	out, err := a.static.Scan(ctx, a.Paths.Root)
	if err != nil {
		st.warn("static scan failed", err, "tool", a.static.Name())
		return nil
	}
	slog.Debug("static scan finished", "tool", a.static.Name(), "findings", len(out))
	return out
}

// headCommit returns the HEAD commit of the repository containing root, or
// "" when root is not inside a git work tree.
func headCommit(root string) string {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
