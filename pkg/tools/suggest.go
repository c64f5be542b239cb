// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

// maxSuggestDistance is the edit-distance cutoff for "did you mean"
// suggestions. Anything further away is noise rather than a typo.
const maxSuggestDistance = 3

// suggest returns the candidate closest to name by Levenshtein distance,
// or "" if no candidate is within maxSuggestDistance. Ties go to the first
// candidate in iteration order; candidates are expected pre-sorted.
func suggest(name string, candidates []string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, candidate := range candidates {
		if d := levenshtein(name, candidate); d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	return best
}

// levenshtein computes edit distance with a two-row dynamic programming
// table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
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
