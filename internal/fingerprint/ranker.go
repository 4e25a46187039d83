package fingerprint

import (
	"sort"

	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// suppress keeps the best of every group of overlapping candidates.
// Candidates are visited best-first; one survives if it overlaps no survivor.
func suppress(cands []candidate) []candidate {
	ranked := make([]candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		return isCandidateBetter(ranked[i], ranked[j])
	})

	var kept []candidate
	for _, c := range ranked {
		clash := false
		for _, k := range kept {
			if c.start < k.end && k.start < c.end {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, c)
		}
	}
	return kept
}

// isCandidateBetter determines if candidate a should win over b.
func isCandidateBetter(a, b candidate) bool {
	// 1. References always win
	if a.isReference != b.isReference {
		return a.isReference
	}

	// 2. Higher similarity
	if a.score != b.score {
		return a.score > b.score
	}

	// 3. Earlier start breaks ties
	return a.start < b.start
}

// Proposals holds the strongest sections per label.
type Proposals struct {
	Calls     []section.Section `json:"call_candidates"`
	Responses []section.Section `json:"response_candidates"`
}

// ProposeReferences returns up to topN sections per label ordered by
// descending confidence. Sections without a confidence rank last.
func ProposeReferences(sections []section.Section, topN int) Proposals {
	pick := func(label section.Label) []section.Section {
		list := section.CloneAll(section.ByLabel(sections, label))
		sort.SliceStable(list, func(i, j int) bool {
			return confidenceOf(list[i]) > confidenceOf(list[j])
		})
		if len(list) > topN {
			list = list[:topN]
		}
		return list
	}
	return Proposals{Calls: pick(section.Call), Responses: pick(section.Response)}
}

func confidenceOf(s section.Section) float64 {
	if s.Confidence == nil {
		return -1
	}
	return *s.Confidence
}
