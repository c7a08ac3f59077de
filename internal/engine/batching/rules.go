package batching

import (
	"strings"

	"repoaudit/internal/engine/chunker"
	"repoaudit/internal/engine/rules"
)

// Assignment is a chunk with the rule ids selected for it.
type Assignment struct {
	Chunk    chunker.Chunk
	RuleIDs  []string
	Strategy rules.Strategy
}

// RuleTask is one verification prompt: a chunk checked against a
// single-cluster set of rules.
type RuleTask struct {
	Chunk   chunker.Chunk
	Cluster rules.Cluster
	RuleIDs []string
}

// Key identifies the task for caching. It changes whenever the chunk content
// or the rule set changes.
func (t RuleTask) Key() string {
	return t.Chunk.ID + ":" + string(t.Cluster) + ":" + strings.Join(t.RuleIDs, ",")
}

// BuildRuleTasks expands assignments into per-cluster rule tasks in
// assignment order, using the default catalog for cluster resolution.
func BuildRuleTasks(assignments []Assignment, batchSize int) []RuleTask {
	return BuildRuleTasksWith(rules.DefaultCatalog(), assignments, batchSize)
}

func BuildRuleTasksWith(catalog *rules.Catalog, assignments []Assignment, batchSize int) []RuleTask {
	var tasks []RuleTask
	for _, a := range assignments {
		for _, b := range catalog.ChunkRuleIDs(a.RuleIDs, batchSize) {
			tasks = append(tasks, RuleTask{Chunk: a.Chunk, Cluster: b.Cluster, RuleIDs: b.RuleIDs})
		}
	}
	return tasks
}
