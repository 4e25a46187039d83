package alignment

import (
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// Pair couples the i-th call with the i-th response. ID is the index i.
type Pair struct {
	ID       int             `json:"pair_id"`
	Call     section.Section `json:"call"`
	Response section.Section `json:"response"`
}

// Pairs derives the call/response pairs from a section list. The input does
// not need to be sorted; the result is deterministic for a given list.
func Pairs(sections []section.Section) []Pair {
	calls, responses := split(sections)
	n := min(len(calls), len(responses))
	pairs := make([]Pair, n)
	for i := 0; i < n; i++ {
		pairs[i] = Pair{ID: i, Call: calls[i], Response: responses[i]}
	}
	return pairs
}

// Unpaired returns the sections left over after pairing, in start order.
func Unpaired(sections []section.Section) []section.Section {
	calls, responses := split(sections)
	n := min(len(calls), len(responses))
	var out []section.Section
	out = append(out, calls[n:]...)
	out = append(out, responses[n:]...)
	section.Sort(out)
	return out
}

// FindPair returns the pair with the given id.
func FindPair(sections []section.Section, id int) (Pair, bool) {
	pairs := Pairs(sections)
	if id < 0 || id >= len(pairs) {
		return Pair{}, false
	}
	return pairs[id], true
}

func split(sections []section.Section) (calls, responses []section.Section) {
	sorted := section.CloneAll(sections)
	section.Sort(sorted)
	return section.ByLabel(sorted, section.Call), section.ByLabel(sorted, section.Response)
}
