// Package sequence provides the in-memory performance model shared by every
// slot, along with its MIDI file and NoteSequence wire codecs.
package sequence

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
)

// DefaultQPM is the tempo assumed when a sequence carries no usable tempo
const DefaultQPM = 120.0

// ErrDecode is returned when a performance file or wire payload is malformed
var ErrDecode = errors.New("decode failure")

// Note represents a single sounding note
type Note struct {
	Pitch      int     `json:"pitch"`
	Velocity   int     `json:"velocity"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Instrument int     `json:"instrument"` // Track-local instrument index
	Program    int     `json:"program"`    // MIDI program (0-127), ignored for drums
	IsDrum     bool    `json:"is_drum"`
}

// Tempo represents a tempo change
type Tempo struct {
	Time float64 `json:"time"`
	QPM  float64 `json:"qpm"`
}

// Sequence represents a performance
type Sequence struct {
	Name      string  `json:"name"`
	Notes     []Note  `json:"notes"`
	Tempos    []Tempo `json:"tempos"`
	TotalTime float64 `json:"total_time"`
}

// QPM returns the initial tempo, or DefaultQPM when none is usable
func (s *Sequence) QPM() float64 {
	if s == nil || len(s.Tempos) == 0 || s.Tempos[0].QPM <= 0 {
		return DefaultQPM
	}
	return s.Tempos[0].QPM
}

// MaxEndTime returns the latest note end, or 0 for an empty sequence
func (s *Sequence) MaxEndTime() float64 {
	end := 0.0
	for _, n := range s.Notes {
		if n.EndTime > end {
			end = n.EndTime
		}
	}
	return end
}

// StepsToSeconds converts UI steps (quarter notes) to seconds
func StepsToSeconds(steps int, qpm float64) float64 {
	if qpm <= 0 {
		qpm = DefaultQPM
	}
	return float64(steps) * 60 / qpm
}

// SecondsToSteps converts seconds to whole steps, rounding up
func SecondsToSteps(seconds, qpm float64) int {
	if qpm <= 0 {
		qpm = DefaultQPM
	}
	return int(math.Ceil(seconds/60*qpm - 1e-9))
}

// Stem returns name with its final extension removed
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Clone returns a deep copy of seq
func Clone(seq *Sequence) *Sequence {
	if seq == nil {
		return nil
	}
	out := &Sequence{
		Name:      seq.Name,
		TotalTime: seq.TotalTime,
	}
	if seq.Notes != nil {
		out.Notes = make([]Note, len(seq.Notes))
		copy(out.Notes, seq.Notes)
	}
	if seq.Tempos != nil {
		out.Tempos = make([]Tempo, len(seq.Tempos))
		copy(out.Tempos, seq.Tempos)
	}
	return out
}

// Trim keeps the notes overlapping [start, end), clipping their timestamps
// into the window. Times are not shifted, so trimming twice with the same
// window is a no-op. An empty or inverted window yields zero notes.
func Trim(seq *Sequence, start, end float64) *Sequence {
	out := &Sequence{
		Name:  seq.Name,
		Notes: []Note{},
	}
	if seq.Tempos != nil {
		out.Tempos = make([]Tempo, len(seq.Tempos))
		copy(out.Tempos, seq.Tempos)
	}

	if end > start {
		for _, n := range seq.Notes {
			if n.EndTime <= start || n.StartTime >= end {
				continue
			}
			n.StartTime = math.Max(n.StartTime, start)
			n.EndTime = math.Min(n.EndTime, end)
			out.Notes = append(out.Notes, n)
		}
	}

	out.TotalTime = math.Max(0, math.Min(seq.TotalTime, end))
	if last := out.MaxEndTime(); last > out.TotalTime {
		out.TotalTime = last
	}
	return out
}

// Sanitize repairs structurally inconsistent input in place: note end times
// are raised to their start times, total time covers every note and a
// default tempo is added when none is present.
func Sanitize(seq *Sequence) {
	if len(seq.Tempos) == 0 {
		seq.Tempos = []Tempo{{Time: 0, QPM: DefaultQPM}}
	}
	for i := range seq.Notes {
		n := &seq.Notes[i]
		if n.StartTime < 0 {
			n.StartTime = 0
		}
		if n.EndTime < n.StartTime {
			n.EndTime = n.StartTime
		}
		if n.EndTime > seq.TotalTime {
			seq.TotalTime = n.EndTime
		}
	}
	if seq.Notes == nil {
		seq.Notes = []Note{}
	}
}
