// Package entrypoints finds framework entry points in source files and
// computes which functions they reach through the call graph.
package entrypoints

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"repoaudit/internal/engine/discovery"
)

type Kind string

const (
	KindNextApp        Kind = "nextjs_app"
	KindNextPages      Kind = "nextjs_pages"
	KindNextMiddleware Kind = "nextjs_middleware"
	KindSupabaseEdge   Kind = "supabase_edge"
	KindExpress        Kind = "express"
	KindGoHTTP         Kind = "go_http"
)

type Candidate struct {
	Label     string `json:"label"`
	Kind      Kind   `json:"kind"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

var (
	appRouteFile   = regexp.MustCompile(`(?:^|/)app/(?:(.*)/)?route\.(?:ts|js|tsx|jsx|mjs)$`)
	pagesAPIFile   = regexp.MustCompile(`(?:^|/)pages/(api(?:/.*)?)\.(?:ts|js|tsx|jsx|mjs)$`)
	middlewareFile = regexp.MustCompile(`(?:^|/)middleware\.(?:ts|js)$`)
	edgeFile       = regexp.MustCompile(`(?:^|/)supabase/functions/([^/]+)/index\.(?:ts|js)$`)

	methodExport  = regexp.MustCompile(`^\s*export\s+(?:async\s+)?(?:function\s*\*?\s*|const\s+|let\s+|var\s+)(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\b`)
	defaultExport = regexp.MustCompile(`^\s*(?:export\s+default\b|module\.exports\s*=)`)
	middlewareDef = regexp.MustCompile(`^\s*export\s+(?:default\b|(?:async\s+)?function\s+middleware\b|const\s+middleware\b)`)
	serveCall     = regexp.MustCompile(`\b(?:Deno\.)?serve\s*\(`)
	expressRoute  = regexp.MustCompile("\\b(?:app|router|server)\\.(get|post|put|patch|delete|head|options|all)\\(\\s*['\"`]([^'\"`]+)['\"`]")
	goRoute       = regexp.MustCompile(`\b\w+\.(?:HandleFunc|Handle|HandlerFunc)\(\s*"([^"]+)"`)
)

var scriptExts = map[string]bool{".js": true, ".jsx": true, ".mjs": true, ".cjs": true, ".ts": true, ".tsx": true}

// Discover returns the entry points declared in files, ordered by file, line
// and label.
func Discover(files []discovery.File) []Candidate {
	var out []Candidate
	for _, f := range files {
		out = append(out, discoverFile(f.Path, string(f.Content))...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.Label < b.Label
	})
	return out
}

func discoverFile(filePath, content string) []Candidate {
	lines := strings.Split(content, "\n")
	candidate := func(kind Kind, label string, line int) Candidate {
		return Candidate{Label: label, Kind: kind, FilePath: filePath, StartLine: line, EndLine: line}
	}

	if m := appRouteFile.FindStringSubmatch(filePath); m != nil {
		route := RouteLabel(m[1])
		var out []Candidate
		seen := map[string]bool{}
		for i, line := range lines {
			mm := methodExport.FindStringSubmatch(line)
			if mm == nil || seen[mm[1]] {
				continue
			}
			seen[mm[1]] = true
			out = append(out, candidate(KindNextApp, "nextjs:app:"+mm[1]+" "+route, i+1))
		}
		return out
	}
	if m := pagesAPIFile.FindStringSubmatch(filePath); m != nil {
		if line := firstMatch(lines, defaultExport); line > 0 {
			return []Candidate{candidate(KindNextPages, "nextjs:pages:"+RouteLabel(m[1]), line)}
		}
		return nil
	}
	if middlewareFile.MatchString(filePath) && isProjectLevel(filePath) {
		line := firstMatch(lines, middlewareDef)
		if line == 0 {
			line = 1
		}
		return []Candidate{candidate(KindNextMiddleware, "nextjs:middleware", line)}
	}
	if m := edgeFile.FindStringSubmatch(filePath); m != nil {
		if line := firstMatch(lines, serveCall); line > 0 {
			return []Candidate{candidate(KindSupabaseEdge, "supabase:edge:"+m[1], line)}
		}
		return nil
	}

	var out []Candidate
	switch {
	case scriptExts[path.Ext(filePath)]:
		for i, line := range lines {
			for _, mm := range expressRoute.FindAllStringSubmatch(line, -1) {
				out = append(out, candidate(KindExpress, "express:"+strings.ToUpper(mm[1])+" "+mm[2], i+1))
			}
		}
	case path.Ext(filePath) == ".go":
		for i, line := range lines {
			for _, mm := range goRoute.FindAllStringSubmatch(line, -1) {
				out = append(out, candidate(KindGoHTTP, "go:http "+mm[1], i+1))
			}
		}
	}
	return out
}

// isProjectLevel reports whether a middleware file sits at the project root
// or directly under src/.
func isProjectLevel(filePath string) bool {
	dir := path.Dir(filePath)
	return dir == "." || (path.Base(dir) == "src" && path.Dir(dir) == ".")
}

func firstMatch(lines []string, re *regexp.Regexp) int {
	for i, line := range lines {
		if re.MatchString(line) {
			return i + 1
		}
	}
	return 0
}

// RouteLabel turns a slash-separated route directory into a URL path,
// dropping route groups like "(marketing)" and "index" segments.
func RouteLabel(dir string) string {
	var parts []string
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" || seg == "index" {
			continue
		}
		if strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")") {
			continue
		}
		parts = append(parts, seg)
	}
	return "/" + strings.Join(parts, "/")
}

// InRange returns the labels of candidates declared in path within
// [start, end].
func InRange(candidates []Candidate, filePath string, start, end int) []string {
	var out []string
	for _, c := range candidates {
		if c.FilePath == filePath && c.StartLine <= end && c.EndLine >= start {
			out = append(out, c.Label)
		}
	}
	return out
}
