package rules

// RuleBatch is a set of rule ids from one cluster, verified in one prompt.
type RuleBatch struct {
	Cluster Cluster
	RuleIDs []string
}

// ChunkRuleIDs partitions ids for prompting with the default catalog.
func ChunkRuleIDs(ids []string, batchSize int) []RuleBatch {
	return DefaultCatalog().ChunkRuleIDs(ids, batchSize)
}

// ChunkRuleIDs groups ids by cluster in first-appearance order, then splits
// each cluster into batches of at most batchSize. Clusters never share a
// batch. A non-positive batchSize keeps each cluster whole. Duplicate ids are
// dropped.
func (c *Catalog) ChunkRuleIDs(ids []string, batchSize int) []RuleBatch {
	var order []Cluster
	grouped := make(map[Cluster][]string)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		cl := c.ResolveCluster(id)
		if _, ok := grouped[cl]; !ok {
			order = append(order, cl)
		}
		grouped[cl] = append(grouped[cl], id)
	}

	var out []RuleBatch
	for _, cl := range order {
		members := grouped[cl]
		size := batchSize
		if size <= 0 {
			size = len(members)
		}
		for start := 0; start < len(members); start += size {
			end := min(start+size, len(members))
			out = append(out, RuleBatch{Cluster: cl, RuleIDs: append([]string(nil), members[start:end]...)})
		}
	}
	return out
}
