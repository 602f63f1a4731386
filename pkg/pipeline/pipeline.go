// Package pipeline turns a loaded performance into the effective
// performance used for playback, export and generation.
package pipeline

import (
	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/sequence"
)

// Window is a time range in steps (quarter notes) at the sequence tempo
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FullWindow returns the window covering all of seq
func FullWindow(seq *sequence.Sequence) Window {
	if seq == nil {
		return Window{}
	}
	return Window{Start: 0, End: sequence.SecondsToSteps(seq.TotalTime, seq.QPM())}
}

// Seconds converts the window to seconds at qpm
func (w Window) Seconds(qpm float64) (start, end float64) {
	return sequence.StepsToSeconds(w.Start, qpm), sequence.StepsToSeconds(w.End, qpm)
}

// Result holds the intermediate and final stages of a pipeline run
type Result struct {
	Trimmed   *sequence.Sequence
	Effective *sequence.Sequence
}

// FilterByInstruments keeps the notes whose key is in keys. The input is
// never modified and a fresh sequence is always returned.
func FilterByInstruments(seq *sequence.Sequence, keys instruments.KeySet) *sequence.Sequence {
	out := sequence.Clone(seq)
	out.Notes = make([]sequence.Note, 0, len(seq.Notes))
	for _, n := range seq.Notes {
		if keys.Has(instruments.KeyOf(n)) {
			out.Notes = append(out.Notes, n)
		}
	}
	return out
}

// Run recomputes the effective sequence from scratch:
// filter(trim(full, window), keys).
func Run(full *sequence.Sequence, window Window, keys instruments.KeySet) Result {
	start, end := window.Seconds(full.QPM())
	trimmed := sequence.Trim(full, start, end)
	return Result{
		Trimmed:   trimmed,
		Effective: FilterByInstruments(trimmed, keys),
	}
}
