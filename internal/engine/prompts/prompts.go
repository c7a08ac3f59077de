// Package prompts builds the model prompts for each scan phase and extracts
// JSON from model replies.
package prompts

import (
	"fmt"
	"strings"

	"repoaudit/internal/engine/chunker"
	"repoaudit/internal/engine/rules"
	"repoaudit/internal/engine/signals"
)

const SystemUnderstanding = `You are a security engineer mapping source code.
For every chunk, describe its security-relevant behaviour as JSON.
Reply with one JSON object: {"chunks": [{"chunk_id", "file_path", "confidence",
"exposure", "role", "data_sinks": [{"type", "name"}], "signals": [{"id",
"evidence", "confidence"}], "identifiers": [{"name", "kind"}]}]}.
Use only signal ids from the vocabulary. Do not add prose.`

const SystemRules = `You are a security engineer verifying specific vulnerability
rules against one chunk of code. Report only issues the code demonstrates.
Reply with one JSON object: {"findings": [{"type", "severity", "summary",
"start_line", "end_line", "evidence", "details", "confidence"}]}.
"type" must be one of the rule ids you were given. Reply {"findings": []} when
nothing applies.`

const SystemOpenScan = `You are a security engineer reviewing one chunk of code
for any vulnerability not already reported. Reply with one JSON object:
{"findings": [{"type", "severity", "summary", "start_line", "end_line",
"evidence", "details", "confidence"}]}. Reply {"findings": []} when the code
is safe.`

// ChunkContext is a chunk with its rendered security header.
type ChunkContext struct {
	Chunk  chunker.Chunk
	Header string
}

// Understanding builds the user prompt for one mapping batch.
func Understanding(batch []ChunkContext) string {
	var b strings.Builder
	b.WriteString("SIGNAL VOCABULARY:\n")
	for _, id := range signals.All() {
		fmt.Fprintf(&b, "- %s: %s\n", id, id.Description())
	}
	b.WriteString("\nCHUNKS:\n")
	for _, cc := range batch {
		writeChunk(&b, cc)
	}
	return b.String()
}

// Rules builds the user prompt verifying rules against one chunk.
func Rules(cc ChunkContext, list []rules.Rule) string {
	var b strings.Builder
	b.WriteString("RULES:\n")
	for _, r := range list {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.ID, r.Severity, r.Title)
		for _, g := range r.Guidance {
			fmt.Fprintf(&b, "    * %s\n", g)
		}
	}
	b.WriteString("\n")
	writeChunk(&b, cc)
	return b.String()
}

// OpenScan builds the user prompt for an unconstrained review of one chunk,
// listing what rule checks already reported.
func OpenScan(cc ChunkContext, reported []string) string {
	var b strings.Builder
	if len(reported) > 0 {
		b.WriteString("ALREADY REPORTED:\n")
		for _, r := range reported {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	writeChunk(&b, cc)
	return b.String()
}

func writeChunk(b *strings.Builder, cc ChunkContext) {
	c := cc.Chunk
	fmt.Fprintf(b, "=== chunk_id=%s file=%s lines=%d-%d ===\n", c.ID, c.FilePath, c.StartLine, c.EndLine)
	if cc.Header != "" {
		b.WriteString(cc.Header)
		b.WriteString("\n")
	}
	for i, line := range strings.Split(c.Content, "\n") {
		fmt.Fprintf(b, "%d| %s\n", c.StartLine+i, line)
	}
	b.WriteString("=== end ===\n\n")
}
