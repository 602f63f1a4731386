// Package slots owns the named performance slots of a session and keeps
// derived slots consistent with the slots they are built from.
package slots

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/pipeline"
	"github.com/james-see/groove2groove/pkg/sequence"
)

// ID names a slot
type ID string

const (
	Content ID = "content"
	Style   ID = "style"
	Output  ID = "output"
	Remix   ID = "remix"
)

// Order is the fixed slot order. Sources always precede the slots derived
// from them.
var Order = []ID{Content, Style, Output, Remix}

var (
	// ErrNotReady is returned when a slot or one of its inputs has no
	// effective sequence yet
	ErrNotReady = errors.New("slot not ready")
	// ErrBusy is returned when a slot already has work in flight
	ErrBusy = errors.New("slot busy")
	// ErrStale is returned when a result arrives after its slot was reloaded
	ErrStale = errors.New("result superseded by a newer load")
	// ErrUnknownSlot is returned for ids outside Order
	ErrUnknownSlot = errors.New("unknown slot")
)

// ParseID validates a slot name
func ParseID(s string) (ID, error) {
	for _, id := range Order {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSlot, s)
}

// Graph maps a derived slot to the ordered slots it is built from
type Graph map[ID][]ID

// DefaultGraph derives remix from output and content. Content instruments
// are renumbered past the output instruments.
var DefaultGraph = Graph{Remix: {Output, Content}}

// View is a read-only copy of a slot's state. The sequences it points to
// are owned by the store and must not be modified.
type View struct {
	ID            ID                    `json:"id"`
	Full          *sequence.Sequence    `json:"-"`
	Trimmed       *sequence.Sequence    `json:"-"`
	Effective     *sequence.Sequence    `json:"-"`
	Instruments   []instruments.Entry   `json:"instruments"`
	Merge         *instruments.MergeMap `json:"merge,omitempty"`
	Window        pipeline.Window       `json:"window"`
	Selected      instruments.KeySet    `json:"selected"`
	TempoOverride *float64              `json:"tempo_override,omitempty"`
	Busy          bool                  `json:"busy"`
	Epoch         uint64                `json:"epoch"`
}

// Ready reports whether the slot has an effective sequence
func (v View) Ready() bool {
	return v.Effective != nil
}

// Name returns the display name of the loaded sequence
func (v View) Name() string {
	if v.Full == nil {
		return ""
	}
	return v.Full.Name
}

// Tempo returns the playback tempo: the override when set, otherwise the
// sequence tempo rounded to one decimal
func (v View) Tempo() float64 {
	if v.TempoOverride != nil {
		return *v.TempoOverride
	}
	return math.Round(v.Full.QPM()*10) / 10
}

// Ticket represents work in flight on behalf of a slot
type Ticket struct {
	Slot  ID
	Epoch uint64
	token uint64
}

// SlotState is the serializable part of a slot used by session snapshots
type SlotState struct {
	ID            ID                    `json:"id"`
	Full          *sequence.Sequence    `json:"full_sequence,omitempty"`
	Merge         *instruments.MergeMap `json:"merge,omitempty"`
	Window        pipeline.Window       `json:"window"`
	Selected      instruments.KeySet    `json:"selected_instruments"`
	TempoOverride *float64              `json:"tempo_override,omitempty"`
}
