package searcher

import "sort"

// DefaultRRFConstant is the k in 1/(k + rank)
const DefaultRRFConstant = 60.0

// Source names a ranked candidate list
type Source string

const (
	SourceDense   Source = "dense"
	SourceLexical Source = "lexical"
)

// sourcePriority fixes the merge order of lists so fusion does not depend
// on argument order
func sourcePriority(s Source) int {
	switch s {
	case SourceDense:
		return 0
	case SourceLexical:
		return 1
	default:
		return 2
	}
}

// RankedList is one source's window ids, best first
type RankedList struct {
	Source Source
	IDs    []int64
}

// Fused is one window after Reciprocal Rank Fusion
type Fused struct {
	WindowID int64
	Score    float64
	Ranks    map[Source]int // 1-based rank per contributing source
}

// FuseRRF merges ranked lists with score(d) = sum of 1/(k + rank(d)).
// Lists are merged in canonical source order and ties keep first-encounter
// order, so the result is the same for any argument order. A window
// repeated within one list counts once, at its best rank. The result holds
// at most topK entries; topK <= 0 keeps all of them.
func FuseRRF(k float64, topK int, lists ...RankedList) []Fused {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	ordered := make([]RankedList, len(lists))
	copy(ordered, lists)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := sourcePriority(ordered[i].Source), sourcePriority(ordered[j].Source)
		if pi != pj {
			return pi < pj
		}
		return ordered[i].Source < ordered[j].Source
	})

	index := make(map[int64]int)
	var fused []Fused
	for _, list := range ordered {
		for rank, id := range list.IDs {
			pos, ok := index[id]
			if !ok {
				pos = len(fused)
				index[id] = pos
				fused = append(fused, Fused{WindowID: id, Ranks: make(map[Source]int, len(ordered))})
			}
			if _, seen := fused[pos].Ranks[list.Source]; seen {
				continue
			}
			fused[pos].Ranks[list.Source] = rank + 1
			fused[pos].Score += 1.0 / (k + float64(rank+1))
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
