package ui

import (
	"sort"
	"strings"
)

const (
	maxDistance    = 3
	maxSuggestions = 3
)

// FuzzyOptions bounds FindSimilar. Zero values select the defaults.
type FuzzyOptions struct {
	MaxDistance    int
	MaxSuggestions int
}

// FindSimilar returns the candidates closest to target by case-insensitive
// edit distance, nearest first and ties in candidate order.
func FindSimilar(target string, candidates []string, opts *FuzzyOptions) []string {
	limit, want := maxDistance, maxSuggestions
	if opts != nil {
		if opts.MaxDistance > 0 {
			limit = opts.MaxDistance
		}
		if opts.MaxSuggestions > 0 {
			want = opts.MaxSuggestions
		}
	}

	type match struct {
		value    string
		distance int
	}
	var matches []match
	t := strings.ToLower(target)
	for _, c := range candidates {
		if d := Distance(t, strings.ToLower(c)); d <= limit {
			matches = append(matches, match{c, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, want)
	for i := 0; i < len(matches) && i < want; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// Distance is the Levenshtein distance between a and b, counted in runes.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
