// Package callgraph builds a name-resolved call graph from source files with
// tree-sitter.
package callgraph

import (
	"fmt"
	"sort"

	"repoaudit/internal/engine/chunker"
)

type Function struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FilePath  string `json:"file_path"`
	Language  string `json:"language"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	// Parent is the enclosing function's id, empty at top level.
	Parent    string `json:"parent,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// Graph is a call graph keyed by function id. An anchor id names the source
// location where a function starts (see AnchorID).
type Graph struct {
	Functions            map[string]Function
	FunctionIDByAnchorID map[string]string
	AnchorIDByFunctionID map[string]string
	EdgesByCaller        map[string][]string

	byFile map[string][]string
}

func AnchorID(path string, line int) string {
	return fmt.Sprintf("%s:%d", path, line)
}

func functionID(path, name string, line int) string {
	return fmt.Sprintf("%s#%s:%d", path, name, line)
}

// NewGraph indexes functions and edges. Functions sharing an anchor keep the
// first one registered, which is the outermost.
func NewGraph(functions []Function, edges map[string][]string) *Graph {
	g := &Graph{
		Functions:            make(map[string]Function, len(functions)),
		FunctionIDByAnchorID: make(map[string]string, len(functions)),
		AnchorIDByFunctionID: make(map[string]string, len(functions)),
		EdgesByCaller:        make(map[string][]string, len(edges)),
		byFile:               make(map[string][]string),
	}
	for _, fn := range functions {
		if _, dup := g.Functions[fn.ID]; dup {
			continue
		}
		g.Functions[fn.ID] = fn
		anchor := AnchorID(fn.FilePath, fn.StartLine)
		g.AnchorIDByFunctionID[fn.ID] = anchor
		if _, taken := g.FunctionIDByAnchorID[anchor]; !taken {
			g.FunctionIDByAnchorID[anchor] = fn.ID
		}
		g.byFile[fn.FilePath] = append(g.byFile[fn.FilePath], fn.ID)
	}
	for path, ids := range g.byFile {
		sort.Slice(ids, func(i, j int) bool {
			a, b := g.Functions[ids[i]], g.Functions[ids[j]]
			if a.StartLine != b.StartLine {
				return a.StartLine < b.StartLine
			}
			return a.EndLine > b.EndLine
		})
		g.byFile[path] = ids
	}
	for caller, callees := range edges {
		if _, ok := g.Functions[caller]; !ok {
			continue
		}
		g.EdgesByCaller[caller] = dedupeSorted(callees)
	}
	return g
}

func (g *Graph) Callees(id string) []string {
	return g.EdgesByCaller[id]
}

// FunctionAt returns the innermost function whose span contains line.
func (g *Graph) FunctionAt(path string, line int) (Function, bool) {
	var best Function
	found := false
	for _, id := range g.byFile[path] {
		fn := g.Functions[id]
		if fn.StartLine > line {
			break
		}
		if fn.EndLine < line {
			continue
		}
		if !found || fn.EndLine-fn.StartLine <= best.EndLine-best.StartLine {
			best, found = fn, true
		}
	}
	return best, found
}

// FunctionsInRange returns functions in path overlapping [start, end], in
// source order.
func (g *Graph) FunctionsInRange(path string, start, end int) []Function {
	var out []Function
	for _, id := range g.byFile[path] {
		fn := g.Functions[id]
		if fn.StartLine > end {
			break
		}
		if fn.EndLine >= start {
			out = append(out, fn)
		}
	}
	return out
}

// TopLevel returns the functions of path that have no enclosing function.
func (g *Graph) TopLevel(path string) []Function {
	var out []Function
	for _, id := range g.byFile[path] {
		if fn := g.Functions[id]; fn.Parent == "" {
			out = append(out, fn)
		}
	}
	return out
}

// Spans returns every named function's line span, for overlap grouping.
func (g *Graph) Spans() []chunker.Span {
	paths := make([]string, 0, len(g.byFile))
	for p := range g.byFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []chunker.Span
	for _, p := range paths {
		for _, id := range g.byFile[p] {
			fn := g.Functions[id]
			if fn.Anonymous {
				continue
			}
			out = append(out, chunker.Span{FilePath: fn.FilePath, StartLine: fn.StartLine, EndLine: fn.EndLine})
		}
	}
	return out
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
