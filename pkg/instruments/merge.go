package instruments

import (
	"math"

	"github.com/james-see/groove2groove/pkg/sequence"
)

// MergeMap records how the instrument keys of a merged performance map back
// to the performances it was built from.
type MergeMap struct {
	Offset int `json:"offset"`
}

// Origin returns which source a merged key came from (0 for the first
// performance, 1 for the second) and its key in that source. Drums are
// shared by both sources and report source 0.
func (m MergeMap) Origin(k Key) (source int, original Key) {
	if k == Drums || int(k) < m.Offset {
		return 0, k
	}
	return 1, Key(int(k) - m.Offset)
}

// Merged returns the key that original from source has in the merged
// performance
func (m MergeMap) Merged(source int, original Key) Key {
	if source == 0 || original == Drums {
		return original
	}
	return Key(int(original) + m.Offset)
}

// Merge combines two performances into one. Instruments of second are
// renumbered past the largest melodic key of first so both key spaces stay
// distinct; drum notes of both keep the shared Drums key.
func Merge(first, second *sequence.Sequence) (*sequence.Sequence, MergeMap) {
	m := MergeMap{}
	if maxKey, ok := Scan(first).MaxKey(); ok {
		m.Offset = int(maxKey) + 1
	}

	merged := &sequence.Sequence{
		Name:      sequence.Stem(first.Name) + "__remix.mid",
		Notes:     make([]sequence.Note, 0, len(first.Notes)+len(second.Notes)),
		TotalTime: math.Max(first.TotalTime, second.TotalTime),
	}

	tempos := first.Tempos
	if len(tempos) == 0 {
		tempos = second.Tempos
	}
	merged.Tempos = make([]sequence.Tempo, len(tempos))
	copy(merged.Tempos, tempos)

	merged.Notes = append(merged.Notes, first.Notes...)
	for _, n := range second.Notes {
		n.Instrument += m.Offset
		merged.Notes = append(merged.Notes, n)
	}
	return merged, m
}
