package entrypoints

import (
	"sort"

	"repoaudit/internal/engine/callgraph"
	"repoaudit/internal/engine/header"
)

const (
	DefaultMaxDepth              = 8
	DefaultMaxEntryPointsPerNode = 3
)

type Options struct {
	MaxDepth              int
	MaxEntryPointsPerNode int
}

// Info is what is known about one function's exposure.
type Info struct {
	EntryPoints []string `json:"entry_points"`
	MinDepth    *int     `json:"min_depth,omitempty"`
}

// Header converts the info for rendering in a security header.
func (i Info) Header() *header.Reachability {
	return &header.Reachability{EntryPoints: append([]string(nil), i.EntryPoints...), MinDepth: i.MinDepth}
}

// Result holds per-function reachability. When Available is false every
// lookup reports unknown.
type Result struct {
	Available bool
	// Roots maps entry point labels to the function ids they resolved to.
	Roots map[string][]string
	Nodes map[string]Info

	graph *callgraph.Graph
	cap   int
}

// ComputeReachability walks the call graph breadth-first from every entry
// point that resolves to a function, up to MaxDepth calls away.
func ComputeReachability(g *callgraph.Graph, eps []Candidate, opts Options) Result {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxEntryPointsPerNode <= 0 {
		opts.MaxEntryPointsPerNode = DefaultMaxEntryPointsPerNode
	}
	if g == nil {
		return Result{}
	}

	roots := make(map[string][]string)
	var labels []string
	for _, ep := range eps {
		ids := resolve(g, ep)
		if len(ids) == 0 {
			continue
		}
		if _, seen := roots[ep.Label]; !seen {
			labels = append(labels, ep.Label)
		}
		roots[ep.Label] = append(roots[ep.Label], ids...)
	}
	if len(labels) == 0 {
		return Result{}
	}
	sort.Strings(labels)

	res := Result{
		Available: true,
		Roots:     roots,
		Nodes:     make(map[string]Info),
		graph:     g,
		cap:       opts.MaxEntryPointsPerNode,
	}
	for _, label := range labels {
		res.walk(label, roots[label], opts.MaxDepth)
	}
	return res
}

func (r *Result) walk(label string, start []string, maxDepth int) {
	type item struct {
		id    string
		depth int
	}
	visited := make(map[string]bool)
	var queue []item
	for _, id := range start {
		if !visited[id] {
			visited[id] = true
			queue = append(queue, item{id: id})
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		r.record(cur.id, label, cur.depth)
		if cur.depth >= maxDepth {
			continue
		}
		for _, next := range r.graph.Callees(cur.id) {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, item{id: next, depth: cur.depth + 1})
		}
	}
}

func (r *Result) record(id, label string, depth int) {
	info := r.Nodes[id]
	if len(info.EntryPoints) < r.cap && !contains(info.EntryPoints, label) {
		info.EntryPoints = append(info.EntryPoints, label)
	}
	if info.MinDepth == nil || depth < *info.MinDepth {
		d := depth
		info.MinDepth = &d
	}
	r.Nodes[id] = info
}

// resolve maps an entry point to functions: the function anchored at its
// line, else the innermost enclosing function, else every top-level
// function of the file.
func resolve(g *callgraph.Graph, ep Candidate) []string {
	if id, ok := g.FunctionIDByAnchorID[callgraph.AnchorID(ep.FilePath, ep.StartLine)]; ok {
		return []string{id}
	}
	if fn, ok := g.FunctionAt(ep.FilePath, ep.StartLine); ok {
		return []string{fn.ID}
	}
	var ids []string
	for _, fn := range g.TopLevel(ep.FilePath) {
		ids = append(ids, fn.ID)
	}
	return ids
}

// Lookup reports a function's reachability. known is false only when
// reachability is unavailable; a known function with no entry points was
// not reached within the depth bound.
func (r Result) Lookup(functionID string) (info Info, known bool) {
	if !r.Available {
		return Info{}, false
	}
	return r.Nodes[functionID], true
}

// ForRange merges the reachability of every function overlapping the lines
// [start, end] of path.
func (r Result) ForRange(filePath string, start, end int) (Info, bool) {
	if !r.Available {
		return Info{}, false
	}
	var merged Info
	for _, fn := range r.graph.FunctionsInRange(filePath, start, end) {
		info, ok := r.Nodes[fn.ID]
		if !ok {
			continue
		}
		for _, ep := range info.EntryPoints {
			if len(merged.EntryPoints) < r.cap && !contains(merged.EntryPoints, ep) {
				merged.EntryPoints = append(merged.EntryPoints, ep)
			}
		}
		if info.MinDepth != nil && (merged.MinDepth == nil || *info.MinDepth < *merged.MinDepth) {
			d := *info.MinDepth
			merged.MinDepth = &d
		}
	}
	return merged, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
