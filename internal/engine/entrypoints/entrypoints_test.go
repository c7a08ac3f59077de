package entrypoints

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoaudit/internal/engine/callgraph"
	"repoaudit/internal/engine/discovery"
)

func file(path, content string) discovery.File {
	return discovery.File{Path: path, Content: []byte(content)}
}

func labels(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Label)
	}
	return out
}

func TestDiscover(t *testing.T) {
	files := []discovery.File{
		file("app/(admin)/api/users/route.ts", "import x from 'y'\n\nexport async function GET(req) {}\nexport const POST = async () => {}\nexport async function GET2() {}\n"),
		file("app/route.ts", "export function GET() {}\n"),
		file("pages/api/orders/index.ts", "const h = () => {}\nexport default h\n"),
		file("pages/api/noexport.ts", "function h() {}\n"),
		file("src/middleware.ts", "import { NextResponse } from 'next/server'\nexport function middleware(req) {}\n"),
		file("lib/middleware.ts", "export function middleware() {}\n"),
		file("supabase/functions/send-email/index.ts", "import { serve } from 'std'\n\nserve(async (req) => new Response('ok'))\n"),
		file("supabase/functions/noop/index.ts", "export const x = 1\n"),
		file("server/routes.js", "router.get('/health', h)\napp.post(\"/login\", login)\n"),
		file("cmd/api/main.go", "package main\n\nfunc main() {\n\thttp.HandleFunc(\"/users\", users)\n\tmux.Handle(\"GET /items\", items)\n}\n"),
	}
	got := Discover(files)
	assert.Equal(t, []string{
		"nextjs:app:GET /api/users",
		"nextjs:app:POST /api/users",
		"nextjs:app:GET /",
		"go:http /users",
		"go:http GET /items",
		"nextjs:pages:/api/orders",
		"express:GET /health",
		"express:POST /login",
		"nextjs:middleware",
		"supabase:edge:send-email",
	}, labels(got))

	byLabel := map[string]Candidate{}
	for _, c := range got {
		byLabel[c.Label] = c
	}
	assert.Equal(t, 3, byLabel["nextjs:app:GET /api/users"].StartLine)
	assert.Equal(t, 4, byLabel["nextjs:app:POST /api/users"].StartLine)
	assert.Equal(t, 2, byLabel["nextjs:pages:/api/orders"].StartLine)
	assert.Equal(t, 2, byLabel["nextjs:middleware"].StartLine)
	assert.Equal(t, 3, byLabel["supabase:edge:send-email"].StartLine)
	assert.Equal(t, KindGoHTTP, byLabel["go:http /users"].Kind)
}

func TestRouteLabel(t *testing.T) {
	for in, want := range map[string]string{
		"":                         "/",
		"api/users":                "/api/users",
		"(marketing)/about":        "/about",
		"api/users/index":          "/api/users",
		"api/[id]/(group)/details": "/api/[id]/details",
	} {
		assert.Equal(t, want, RouteLabel(in), in)
	}
}

func TestInRange(t *testing.T) {
	cs := []Candidate{
		{Label: "a", FilePath: "x.ts", StartLine: 3, EndLine: 3},
		{Label: "b", FilePath: "x.ts", StartLine: 30, EndLine: 30},
		{Label: "c", FilePath: "y.ts", StartLine: 3, EndLine: 3},
	}
	assert.Equal(t, []string{"a"}, InRange(cs, "x.ts", 1, 10))
	assert.Empty(t, InRange(cs, "x.ts", 4, 29))
}

// chain builds route.ts#GET -> f1 -> f2 -> ... -> fn in lib.ts.
func chain(n int) *callgraph.Graph {
	fns := []callgraph.Function{{ID: "GET", Name: "GET", FilePath: "route.ts", StartLine: 3, EndLine: 8}}
	edges := map[string][]string{}
	prev := "GET"
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("f%d", i)
		fns = append(fns, callgraph.Function{ID: id, Name: id, FilePath: "lib.ts", StartLine: i * 10, EndLine: i*10 + 5})
		edges[prev] = []string{id}
		prev = id
	}
	return callgraph.NewGraph(fns, edges)
}

func TestComputeReachability_DepthBound(t *testing.T) {
	g := chain(5)
	eps := []Candidate{{Label: "nextjs:app:GET /", FilePath: "route.ts", StartLine: 3, EndLine: 3}}
	res := ComputeReachability(g, eps, Options{MaxDepth: 3})
	require.True(t, res.Available)

	info, known := res.Lookup("f3")
	require.True(t, known)
	require.NotNil(t, info.MinDepth)
	assert.Equal(t, 3, *info.MinDepth)
	assert.Equal(t, []string{"nextjs:app:GET /"}, info.EntryPoints)

	info, known = res.Lookup("f4")
	assert.True(t, known)
	assert.Empty(t, info.EntryPoints)
	assert.Nil(t, info.MinDepth)
}

func TestComputeReachability_MinDepthAndCap(t *testing.T) {
	fns := []callgraph.Function{
		{ID: "a", Name: "a", FilePath: "a.go", StartLine: 1, EndLine: 5},
		{ID: "b", Name: "b", FilePath: "b.go", StartLine: 1, EndLine: 5},
		{ID: "c", Name: "c", FilePath: "c.go", StartLine: 1, EndLine: 5},
		{ID: "d", Name: "d", FilePath: "d.go", StartLine: 1, EndLine: 5},
		{ID: "mid", Name: "mid", FilePath: "lib.go", StartLine: 1, EndLine: 5},
		{ID: "sink", Name: "sink", FilePath: "lib.go", StartLine: 10, EndLine: 20},
	}
	g := callgraph.NewGraph(fns, map[string][]string{
		"a":   {"mid"},
		"b":   {"mid"},
		"c":   {"mid"},
		"d":   {"sink"},
		"mid": {"sink"},
	})
	var eps []Candidate
	for _, f := range []string{"a", "b", "c", "d"} {
		eps = append(eps, Candidate{Label: "ep:" + f, FilePath: f + ".go", StartLine: 1, EndLine: 1})
	}
	res := ComputeReachability(g, eps, Options{MaxEntryPointsPerNode: 2})

	info, _ := res.Lookup("sink")
	assert.Equal(t, []string{"ep:a", "ep:b"}, info.EntryPoints)
	require.NotNil(t, info.MinDepth)
	assert.Equal(t, 1, *info.MinDepth)

	merged, known := res.ForRange("lib.go", 1, 12)
	require.True(t, known)
	assert.Equal(t, []string{"ep:a", "ep:b"}, merged.EntryPoints)
	assert.Equal(t, 1, *merged.MinDepth)
}

func TestComputeReachability_Unavailable(t *testing.T) {
	eps := []Candidate{{Label: "x", FilePath: "nowhere.ts", StartLine: 1, EndLine: 1}}

	res := ComputeReachability(nil, eps, Options{})
	assert.False(t, res.Available)
	_, known := res.ForRange("route.ts", 1, 10)
	assert.False(t, known)

	res = ComputeReachability(chain(2), eps, Options{})
	assert.False(t, res.Available)
	_, known = res.Lookup("GET")
	assert.False(t, known)
}

func TestComputeReachability_ResolvesEnclosingFunction(t *testing.T) {
	g := callgraph.NewGraph([]callgraph.Function{
		{ID: "main", Name: "main", FilePath: "main.go", StartLine: 3, EndLine: 10},
		{ID: "closure", Name: "<anonymous@4>", FilePath: "main.go", StartLine: 4, EndLine: 6, Parent: "main", Anonymous: true},
	}, nil)
	res := ComputeReachability(g, []Candidate{{Label: "go:http /", FilePath: "main.go", StartLine: 5, EndLine: 5}}, Options{})
	require.True(t, res.Available)
	assert.Equal(t, []string{"closure"}, res.Roots["go:http /"])

	h := res.Nodes["closure"].Header()
	assert.Equal(t, []string{"go:http /"}, h.EntryPoints)
	assert.Equal(t, 0, *h.MinDepth)
}
