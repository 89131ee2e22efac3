// Package citation extracts in-text citation markers from generated prose.
package citation

import (
	"regexp"
	"strings"
)

// Patterns compiled once at package init.
var (
	// [1], [2, 3], [4-6], [7–9]
	reNumeric = regexp.MustCompile(`\[\d+(?:\s*[,–-]\s*\d+)*\]`)
	// (Smith, 2020), (Smith et al., 2019a), (Smith and Jones, 2018), (Smith & Jones, 2018)
	reAuthorYear = regexp.MustCompile(`\([A-Z][A-Za-z'’\-]+(?:\s+(?:et al\.|and|&)(?:\s+[A-Z][A-Za-z'’\-]+)?)?,\s*\d{4}[a-z]?\)`)
)

// Extract returns every citation marker in text, in order of appearance.
// Duplicates are kept.
func Extract(text string) []string {
	type hit struct {
		pos    int
		marker string
	}
	var hits []hit
	for _, loc := range reNumeric.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{loc[0], text[loc[0]:loc[1]]})
	}
	for _, loc := range reAuthorYear.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{loc[0], text[loc[0]:loc[1]]})
	}
	// Two small sorted runs; insertion sort keeps it stable and simple.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.marker
	}
	return out
}

// Unique returns the distinct markers in text, in order of first appearance.
func Unique(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range Extract(text) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of citation markers in text.
func Count(text string) int {
	return len(Extract(text))
}

// Preservation returns the fraction of the distinct markers in original that
// appear verbatim in rewritten. Text without markers preserves fully.
func Preservation(original, rewritten string) float64 {
	markers := Unique(original)
	if len(markers) == 0 {
		return 1
	}
	kept := 0
	for _, m := range markers {
		if strings.Contains(rewritten, m) {
			kept++
		}
	}
	return float64(kept) / float64(len(markers))
}
