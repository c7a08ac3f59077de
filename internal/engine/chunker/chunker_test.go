package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(n, width int) []byte {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		line := fmt.Sprintf("line %d ", i)
		b.WriteString(line + strings.Repeat("x", width-len(line)) + "\n")
	}
	return []byte(b.String())
}

func TestSplit_Empty(t *testing.T) {
	assert.Nil(t, Split("a.go", nil, Options{}))
	assert.Nil(t, Split("a.go", []byte(""), Options{}))
}

func TestSplit_SingleWindow(t *testing.T) {
	chunks := Split("a.go", []byte("package a\n\nfunc A() {}\n"), Options{})
	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 3, c.EndLine)
	assert.Equal(t, "package a\n\nfunc A() {}", c.Content)
	assert.Equal(t, Hash(c.Content), c.ContentHash)
	assert.Equal(t, ChunkID("a.go", 1, 3, c.ContentHash), c.ID)
}

func TestSplit_WindowsAreExhaustiveAndOverlap(t *testing.T) {
	// 100 lines of 20 chars, 21 with newline.
	content := numberedLines(100, 20)
	chunks := Split("big.go", content, Options{MaxChars: 210, OverlapChars: 42})
	require.NotEmpty(t, chunks)

	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 100, chunks[len(chunks)-1].EndLine)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, len(c.Content)+1, 210)
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		assert.Greater(t, c.StartLine, prev.StartLine, "windows must advance")
		assert.LessOrEqual(t, c.StartLine, prev.EndLine+1, "windows must not leave gaps")
		assert.Equal(t, prev.EndLine-1, c.StartLine, "two lines of overlap expected")
	}
}

func TestSplit_OverlongLineProgresses(t *testing.T) {
	content := []byte("short\n" + strings.Repeat("y", 500) + "\nshort again\n")
	chunks := Split("long.txt", content, Options{MaxChars: 100, OverlapChars: 50})
	require.Len(t, chunks, 3)
	assert.Equal(t, 2, chunks[1].StartLine)
	assert.Equal(t, 2, chunks[1].EndLine)
	assert.Equal(t, 3, chunks[2].StartLine)
}

func TestSplit_IdentityIsStable(t *testing.T) {
	content := numberedLines(40, 30)
	a := Split("x.py", content, Options{MaxChars: 300, OverlapChars: 60})
	b := Split("x.py", content, Options{MaxChars: 300, OverlapChars: 60})
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}

	other := Split("y.py", content, Options{MaxChars: 300, OverlapChars: 60})
	assert.NotEqual(t, a[0].ID, other[0].ID, "path is part of identity")
}

func TestFileHash(t *testing.T) {
	assert.Equal(t, FileHash([]byte("abc")), FileHash([]byte("abc")))
	assert.NotEqual(t, FileHash([]byte("abc")), FileHash([]byte("abd")))
}

func TestAssignOverlapGroups(t *testing.T) {
	chunks := []Chunk{
		{FilePath: "a.go", StartLine: 1, EndLine: 50},
		{FilePath: "a.go", StartLine: 45, EndLine: 100},
		{FilePath: "a.go", StartLine: 95, EndLine: 150},
		{FilePath: "b.go", StartLine: 1, EndLine: 50},
	}
	spans := []Span{
		{FilePath: "a.go", StartLine: 40, EndLine: 60},  // crosses 0 and 1
		{FilePath: "a.go", StartLine: 96, EndLine: 99},  // fully inside 1 and 2, no group needed
		{FilePath: "b.go", StartLine: 10, EndLine: 20},  // single chunk
		{FilePath: "a.go", StartLine: 90, EndLine: 120}, // crosses 1 and 2, merges with first
	}
	AssignOverlapGroups(chunks, spans)

	require.NotEmpty(t, chunks[0].OverlapGroupID)
	assert.Equal(t, chunks[0].OverlapGroupID, chunks[1].OverlapGroupID)
	assert.Equal(t, chunks[1].OverlapGroupID, chunks[2].OverlapGroupID)
	assert.Empty(t, chunks[3].OverlapGroupID)
}
