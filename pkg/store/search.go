package store

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// scoreEntity implements the §4.2.1 scoring table against a single latest
// entity version. query is assumed already lower-cased by the caller.
func scoreEntity(query string, e graph.Entity) (float64, bool) {
	if query == "*" {
		return 0, true
	}

	name := strings.ToLower(e.Name)
	var score float64
	matched := false

	if name == query {
		score = 2.0
		matched = true
	} else if strings.Contains(name, query) {
		score = 1.5
		matched = true
	}

	if !matched {
		body, _ := json.Marshal(e.Content)
		if strings.Contains(strings.ToLower(string(body)), query) {
			score = 1.0
			matched = true
		}
	}

	if ratio := ratcliffObershelp(name, query); ratio >= 0.8 {
		score += ratio
		matched = true
	}

	return score, matched
}

// SearchEntities runs the §4.2.1 algorithm over a pre-fetched list of the
// latest version of every entity, used by both backends so the scoring
// logic lives in exactly one place.
func SearchEntities(candidates []graph.Entity, query string, types []graph.EntityType, limit int) []SearchResult {
	typeFilter := make(map[graph.EntityType]bool, len(types))
	for _, t := range types {
		typeFilter[t] = true
	}

	q := strings.ToLower(strings.TrimSpace(query))
	results := make([]SearchResult, 0, len(candidates))

	for _, e := range candidates {
		if len(typeFilter) > 0 && !typeFilter[e.EntityType] {
			continue
		}
		score, ok := scoreEntity(q, e)
		if !ok {
			continue
		}
		results = append(results, SearchResult{Entity: e, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ratcliffObershelp computes the similarity ratio used by Python's
// difflib.SequenceMatcher: 2*M / T where M is the total length of matching
// blocks found by recursively locating the longest common substring, and T
// is the combined length of both strings.
func ratcliffObershelp(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	m := matchingBlockLength(a, b)
	total := len(a) + len(b)
	if total == 0 {
		return 0
	}
	return 2.0 * float64(m) / float64(total)
}

func matchingBlockLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size + matchingBlockLength(a[:ai], b[:bi]) + matchingBlockLength(a[ai+size:], b[bi+size:])
}

// longestCommonSubstring returns the start indices in a and b, and the
// length, of their longest common contiguous substring.
func longestCommonSubstring(a, b string) (int, int, int) {
	lenA, lenB := len(a), len(b)
	prev := make([]int, lenB+1)
	curr := make([]int, lenB+1)

	bestLen, bestAI, bestBI := 0, 0, 0
	for i := 1; i <= lenA; i++ {
		for j := 1; j <= lenB; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestAI = i - bestLen
					bestBI = j - bestLen
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return bestAI, bestBI, bestLen
}
