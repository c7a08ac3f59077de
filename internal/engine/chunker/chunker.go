// Package chunker splits source files into overlapping, content-addressed
// line windows.
package chunker

import (
	"fmt"
	"strings"

	"repoaudit/internal/shared/util"
)

const (
	DefaultMaxChars     = 6000
	DefaultOverlapChars = 600
)

type Chunk struct {
	ID             string `json:"id"`
	FilePath       string `json:"filepath"`
	ChunkIndex     int    `json:"chunk_index"`
	StartLine      int    `json:"start_line"`
	EndLine        int    `json:"end_line"`
	Content        string `json:"content"`
	ContentHash    string `json:"content_hash"`
	OverlapGroupID string `json:"overlap_group_id,omitempty"`
}

type Options struct {
	MaxChars     int
	OverlapChars int
}

func (o Options) withDefaults() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.OverlapChars < 0 {
		o.OverlapChars = 0
	}
	return o
}

// Split cuts content into windows of at most MaxChars characters, counting
// one newline per line. Each window after the first starts far enough back
// to repeat OverlapChars of the previous window, while still advancing by at
// least one line. A line longer than MaxChars forms a window on its own.
func Split(idPath string, content []byte, opts Options) []Chunk {
	opts = opts.withDefaults()
	lines := splitLines(string(content))
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for {
		end, size := start, 0
		for end < len(lines) {
			cost := len(lines[end]) + 1
			if end > start && size+cost > opts.MaxChars {
				break
			}
			size += cost
			end++
		}

		text := strings.Join(lines[start:end], "\n")
		contentHash := Hash(text)
		chunks = append(chunks, Chunk{
			ID:          ChunkID(idPath, start+1, end, contentHash),
			FilePath:    idPath,
			ChunkIndex:  len(chunks),
			StartLine:   start + 1,
			EndLine:     end,
			Content:     text,
			ContentHash: contentHash,
		})

		if end >= len(lines) {
			return chunks
		}
		start = nextStart(lines, start, end, opts.OverlapChars)
	}
}

// nextStart walks back from end until overlap characters are covered,
// never returning a start at or before prev.
func nextStart(lines []string, prev, end, overlap int) int {
	next, acc := end, 0
	for next > prev+1 && acc < overlap {
		next--
		acc += len(lines[next]) + 1
	}
	return next
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func Hash(text string) string {
	return util.SHA256Hex([]byte(text))
}

// FileHash identifies a whole file for change detection.
func FileHash(content []byte) string {
	return util.SHA256Hex(content)
}

func ChunkID(idPath string, startLine, endLine int, contentHash string) string {
	return Hash(fmt.Sprintf("%s:%d:%d:%s", idPath, startLine, endLine, contentHash))
}
