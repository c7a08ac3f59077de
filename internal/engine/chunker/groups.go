package chunker

import "fmt"

// Span is a logical unit, usually a function, by 1-based inclusive lines.
type Span struct {
	FilePath  string
	StartLine int
	EndLine   int
}

// AssignOverlapGroups tags every chunk touched by a span that crosses a chunk
// boundary with a shared OverlapGroupID. Spans sharing a chunk are merged
// transitively. Chunks are updated in place and also returned.
func AssignOverlapGroups(chunks []Chunk, spans []Span) []Chunk {
	if len(chunks) == 0 || len(spans) == 0 {
		return chunks
	}

	parent := make([]int, len(chunks))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	byFile := make(map[string][]int)
	for i, c := range chunks {
		byFile[c.FilePath] = append(byFile[c.FilePath], i)
	}

	grouped := make(map[int]bool)
	for _, span := range spans {
		var hit []int
		for _, i := range byFile[span.FilePath] {
			c := chunks[i]
			if c.StartLine <= span.EndLine && span.StartLine <= c.EndLine {
				hit = append(hit, i)
			}
		}
		if len(hit) < 2 || containedInOne(chunks, hit, span) {
			continue
		}
		for _, i := range hit[1:] {
			union(hit[0], i)
		}
		for _, i := range hit {
			grouped[i] = true
		}
	}

	for i := range chunks {
		if !grouped[i] {
			continue
		}
		root := chunks[find(i)]
		chunks[i].OverlapGroupID = Hash(fmt.Sprintf("%s:%d:%d", root.FilePath, root.StartLine, root.EndLine))
	}
	return chunks
}

// containedInOne reports whether one of the hit chunks holds the whole span,
// in which case overlapping neighbours do not need to travel with it.
func containedInOne(chunks []Chunk, hit []int, span Span) bool {
	for _, i := range hit {
		if chunks[i].StartLine <= span.StartLine && chunks[i].EndLine >= span.EndLine {
			return true
		}
	}
	return false
}
