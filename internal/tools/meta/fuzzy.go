package meta

import (
	"sort"
	"strings"
)

// SuggestNames ranks candidates against the unknown name q and returns the
// top five. Scoring: substring hit in the name +3, shared prefix of at
// least three characters +2, Levenshtein distance of at most two +1. Ties
// break lexicographically so suggestions are stable.
func SuggestNames(q string, candidates []string) []string {
	q = strings.ToLower(q)
	type scored struct {
		name  string
		score int
	}
	var ranked []scored
	seen := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true
		lower := strings.ToLower(name)
		score := 0
		if strings.Contains(lower, q) || strings.Contains(q, lower) {
			score += 3
		}
		if sharedPrefix(lower, q) >= 3 {
			score += 2
		}
		if levenshtein(lower, q) <= 2 {
			score++
		}
		if score > 0 {
			ranked = append(ranked, scored{name: name, score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.name
	}
	return out
}

func sharedPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
