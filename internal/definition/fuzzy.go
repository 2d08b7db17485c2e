package definition

import (
	"github.com/agext/levenshtein"
)

// Distances above this are considered unrelated and produce no suggestion.
const maxSuggestionDistance = 3

// Picks the candidate closest to name by Levenshtein distance.
//
// Returns an empty string when no candidate is close enough to plausibly be
// a typo.
func closestMatch(name string, candidates []string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1

	for _, c := range candidates {
		d := levenshtein.Distance(name, c, nil)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}

	return best
}
