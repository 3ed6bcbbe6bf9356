// Package diff detects customer-identifier changes between two free-text
// recommendation snapshots. It is heuristic text matching for display, not
// a guaranteed-correct diff: two customers sharing a code suffix or name
// fragment can collide, and that is accepted.
package diff

import (
	"regexp"
	"sort"
)

var (
	// codePattern matches dataset-style customer codes such as C001 or
	// ACC-1042.
	codePattern = regexp.MustCompile(`\b[A-Z]{1,4}-?\d{2,6}\b`)

	// phrasePattern matches "Customer Alpha", "Client Beta Retail"-style
	// references. The name part is one or two capitalized words.
	phrasePattern = regexp.MustCompile(`\b(?:Customer|Client|Account)\s+[A-Z][A-Za-z0-9&\-]*(?:\s+[A-Z][A-Za-z0-9&\-]*)?`)
)

// Result classifies identifiers between the earlier and later snapshot.
type Result struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Reordered []string `json:"reordered"`
}

// Changes compares two snapshots. Identifiers present only in the later
// text are added, only in the earlier are removed; identifiers present
// in both but at a different relative position among the shared ones are
// reordered.
func Changes(before, after string) Result {
	beforeIDs := Identifiers(before)
	afterIDs := Identifiers(after)

	beforeSet := toSet(beforeIDs)
	afterSet := toSet(afterIDs)

	result := Result{
		Added:     []string{},
		Removed:   []string{},
		Reordered: []string{},
	}

	for _, id := range afterIDs {
		if _, ok := beforeSet[id]; !ok {
			result.Added = append(result.Added, id)
		}
	}
	for _, id := range beforeIDs {
		if _, ok := afterSet[id]; !ok {
			result.Removed = append(result.Removed, id)
		}
	}

	// Relative position is judged among the shared identifiers only, so
	// insertions and removals around them do not count as reorders.
	sharedBefore := filterShared(beforeIDs, afterSet)
	sharedAfterPos := make(map[string]int)
	for i, id := range filterShared(afterIDs, beforeSet) {
		sharedAfterPos[id] = i
	}
	for i, id := range sharedBefore {
		if sharedAfterPos[id] != i {
			result.Reordered = append(result.Reordered, id)
		}
	}

	return result
}

// Identifiers extracts customer identifiers from text in order of first
// appearance, without duplicates. Both the code pattern and the
// customer-phrase pattern contribute.
func Identifiers(text string) []string {
	type match struct {
		pos  int
		text string
	}
	var matches []match
	for _, loc := range codePattern.FindAllStringIndex(text, -1) {
		matches = append(matches, match{pos: loc[0], text: text[loc[0]:loc[1]]})
	}
	for _, loc := range phrasePattern.FindAllStringIndex(text, -1) {
		matches = append(matches, match{pos: loc[0], text: text[loc[0]:loc[1]]})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.text]; ok {
			continue
		}
		seen[m.text] = struct{}{}
		out = append(out, m.text)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func filterShared(ids []string, other map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := other[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
