// Package instruments derives the selectable instruments of a performance
// and merges instrument key spaces when performances are combined.
package instruments

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/james-see/groove2groove/pkg/sequence"
)

// Key identifies a group of notes that can be toggled together. Melodic
// notes are keyed by their instrument index; every drum note shares Drums.
type Key int

// Drums is the synthetic key shared by all drum notes
const Drums Key = -1

const drumsLabel = "DRUMS"

// KeyOf returns the selection key of a note
func KeyOf(n sequence.Note) Key {
	if n.IsDrum {
		return Drums
	}
	return Key(n.Instrument)
}

func (k Key) String() string {
	if k == Drums {
		return drumsLabel
	}
	return strconv.Itoa(int(k))
}

// MarshalJSON encodes Drums as "DRUMS" and other keys as numbers
func (k Key) MarshalJSON() ([]byte, error) {
	if k == Drums {
		return json.Marshal(drumsLabel)
	}
	return json.Marshal(int(k))
}

// UnmarshalJSON accepts a number or "DRUMS"
func (k *Key) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return k.parse(s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid instrument key %s", data)
	}
	*k = Key(n)
	return nil
}

// ParseKey parses the textual form of a key
func ParseKey(s string) (Key, error) {
	var k Key
	err := k.parse(s)
	return k, err
}

func (k *Key) parse(s string) error {
	if s == drumsLabel {
		*k = Drums
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid instrument key %q", s)
	}
	*k = Key(n)
	return nil
}

// Entry is one selectable instrument
type Entry struct {
	Key     Key  `json:"key"`
	Program int  `json:"program"` // -1 for drums
	IsDrum  bool `json:"is_drum"`
}

// Label returns a human-readable name for the entry
func (e Entry) Label() string {
	if e.IsDrum {
		return "Drums"
	}
	return ProgramName(e.Program)
}

// Registry is the ordered set of instruments present in a performance
type Registry struct {
	entries []Entry
}

// Scan derives the instruments of seq in a single pass. When a melodic key
// is seen with conflicting programs, the last observed program wins.
func Scan(seq *sequence.Sequence) *Registry {
	programs := make(map[Key]Entry)
	if seq != nil {
		for _, n := range seq.Notes {
			k := KeyOf(n)
			if k == Drums {
				programs[k] = Entry{Key: Drums, Program: -1, IsDrum: true}
				continue
			}
			programs[k] = Entry{Key: k, Program: n.Program}
		}
	}

	r := &Registry{entries: make([]Entry, 0, len(programs))}
	for _, e := range programs {
		r.entries = append(r.entries, e)
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Key < r.entries[j].Key })
	return r
}

// Entries returns the instruments in ascending key order
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Keys returns the keys in ascending order
func (r *Registry) Keys() []Key {
	keys := make([]Key, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.Key
	}
	return keys
}

// All returns a set selecting every instrument
func (r *Registry) All() KeySet {
	return NewKeySet(r.Keys()...)
}

// Program returns the representative program of key
func (r *Registry) Program(k Key) (int, bool) {
	for _, e := range r.entries {
		if e.Key == k {
			return e.Program, true
		}
	}
	return 0, false
}

// MaxKey returns the largest melodic key, ignoring Drums
func (r *Registry) MaxKey() (Key, bool) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Key != Drums {
			return r.entries[i].Key, true
		}
	}
	return 0, false
}

// Len returns the number of instruments
func (r *Registry) Len() int {
	return len(r.entries)
}
