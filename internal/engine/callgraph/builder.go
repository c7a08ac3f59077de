package callgraph

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"repoaudit/internal/core/errors"
	"repoaudit/internal/engine/discovery"
)

// maxAmbiguousTargets caps how many same-named functions in other files a
// call may resolve to.
const maxAmbiguousTargets = 8

type call struct {
	caller string
	callee string
	file   string
	lang   string
}

type parsedFile struct {
	functions []Function
	calls     []call
}

type Builder struct {
	reg         *registry
	concurrency int
}

func NewBuilder() *Builder {
	return &Builder{reg: newRegistry(), concurrency: runtime.NumCPU()}
}

// Build parses every supported file and links calls to definitions by name,
// preferring definitions in the calling file. Files in unsupported languages
// are skipped; files that fail to parse are logged and skipped.
func (b *Builder) Build(ctx context.Context, files []discovery.File) (*Graph, error) {
	parsed := make([]*parsedFile, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.concurrency))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pf, err := b.parse(f.Path, f.Content)
			if err != nil {
				if !errors.IsCode(err, errors.CodeNotSupported) {
					slog.Warn("call graph parse failed", "path", f.Path, "error", err)
				}
				return nil
			}
			parsed[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var functions []Function
	var calls []call
	for _, pf := range parsed {
		if pf == nil {
			continue
		}
		functions = append(functions, pf.functions...)
		calls = append(calls, pf.calls...)
	}
	return NewGraph(functions, link(functions, calls)), nil
}

func (b *Builder) parse(path string, content []byte) (*parsedFile, error) {
	spec, pool, ok := b.reg.lookup(path)
	if !ok {
		return nil, errors.New(errors.CodeNotSupported, "unsupported language")
	}
	sp := pool.get()
	defer pool.put(sp)

	tree := sp.Parse(content, nil)
	if tree == nil {
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("parse failed: %s", path))
	}
	defer tree.Close()

	w := &walker{spec: spec, src: content, path: path}
	w.walk(tree.RootNode(), "")
	return &parsedFile{functions: w.functions, calls: w.calls}, nil
}

// link resolves call names to function ids within the caller's language
// family.
func link(functions []Function, calls []call) map[string][]string {
	byName := make(map[string][]Function)
	edges := make(map[string][]string)
	for _, fn := range functions {
		if fn.Parent != "" {
			edges[fn.Parent] = append(edges[fn.Parent], fn.ID)
		}
		if !fn.Anonymous {
			byName[fn.Name] = append(byName[fn.Name], fn)
		}
	}

	for _, c := range calls {
		candidates := byName[c.callee]
		var local, remote []string
		for _, fn := range candidates {
			if family(fn.Language) != family(c.lang) {
				continue
			}
			if fn.FilePath == c.file {
				local = append(local, fn.ID)
			} else {
				remote = append(remote, fn.ID)
			}
		}
		switch {
		case len(local) > 0:
			edges[c.caller] = append(edges[c.caller], local...)
		case len(remote) > 0 && len(remote) <= maxAmbiguousTargets:
			edges[c.caller] = append(edges[c.caller], remote...)
		}
	}
	for caller := range edges {
		sort.Strings(edges[caller])
	}
	return edges
}

type walker struct {
	spec      *languageSpec
	src       []byte
	path      string
	functions []Function
	calls     []call
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(w.src[n.StartByte():n.EndByte()])
}

func (w *walker) register(n *sitter.Node, name, parent string, anonymous bool) string {
	start := int(n.StartPosition().Row) + 1
	end := int(n.EndPosition().Row) + 1
	if anonymous {
		name = fmt.Sprintf("<anonymous@%d>", start)
	}
	fn := Function{
		ID:        functionID(w.path, name, start),
		Name:      name,
		FilePath:  w.path,
		Language:  w.spec.id,
		StartLine: start,
		EndLine:   end,
		Parent:    parent,
		Anonymous: anonymous,
	}
	w.functions = append(w.functions, fn)
	return fn.ID
}

func (w *walker) walk(n *sitter.Node, current string) {
	if n == nil {
		return
	}
	kind := n.Kind()

	switch {
	case w.spec.functions[kind]:
		name := w.text(n.ChildByFieldName("name"))
		current = w.register(n, name, current, name == "")
	case w.spec.bindings[kind]:
		value := n.ChildByFieldName("value")
		name := w.text(n.ChildByFieldName("name"))
		if value != nil && name != "" && w.spec.anonymous[value.Kind()] {
			id := w.register(n, name, current, false)
			w.walkChildren(value, id)
			return
		}
	case w.spec.anonymous[kind]:
		current = w.register(n, "", current, true)
	}

	if field, ok := w.spec.calls[kind]; ok && current != "" {
		if callee := calleeName(w, n.ChildByFieldName(field)); callee != "" {
			w.calls = append(w.calls, call{caller: current, callee: callee, file: w.path, lang: w.spec.id})
		}
	}
	w.walkChildren(n, current)
}

func (w *walker) walkChildren(n *sitter.Node, current string) {
	for i := uint(0); i < n.ChildCount(); i++ {
		w.walk(n.Child(i), current)
	}
}

// calleeName reduces a callee expression to the called function's simple
// name: `pkg.Fn`, `obj.method`, `mod::f` all yield the last segment.
func calleeName(w *walker, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier", "field_identifier", "property_identifier", "type_identifier":
		return w.text(n)
	}
	for _, field := range []string{"field", "property", "attribute", "name"} {
		if child := n.ChildByFieldName(field); child != nil {
			return calleeName(w, child)
		}
	}
	return ""
}
