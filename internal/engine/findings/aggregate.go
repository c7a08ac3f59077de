package findings

import "sort"

// Aggregate merges the three finding sources, de-duplicates findings of the
// same type at overlapping locations and ranks the result. Between duplicates
// the higher severity wins, then static over detector over model output.
func Aggregate(static []StaticFinding, detector, llm []Finding) []Finding {
	all := make([]Finding, 0, len(static)+len(detector)+len(llm))
	for _, sf := range static {
		all = append(all, FromStatic(sf))
	}
	all = append(all, detector...)
	all = append(all, llm...)

	var kept []Finding
	for _, f := range all {
		merged := false
		for i := range kept {
			if kept[i].Type != f.Type || !kept[i].Location.Overlaps(f.Location) {
				continue
			}
			if better(f, kept[i]) {
				kept[i] = f
			}
			merged = true
			break
		}
		if !merged {
			kept = append(kept, f)
		}
	}

	Rank(kept)
	return kept
}

func better(a, b Finding) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return sourceRank[a.Source] > sourceRank[b.Source]
}

// Rank orders findings by severity, then file, then line, then type.
func Rank(list []Finding) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Location.FilePath != b.Location.FilePath {
			return a.Location.FilePath < b.Location.FilePath
		}
		if a.Location.StartLine != b.Location.StartLine {
			return a.Location.StartLine < b.Location.StartLine
		}
		return a.Type < b.Type
	})
}

// Counts tallies findings per severity.
func Counts(list []Finding) map[Severity]int {
	out := make(map[Severity]int, len(severityRank))
	for _, f := range list {
		out[f.Severity]++
	}
	return out
}
