package instruments

import (
	"encoding/json"
	"sort"
)

// KeySet is a set of instrument keys
type KeySet map[Key]struct{}

// NewKeySet creates a set holding keys
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the keys in ascending order
func (s KeySet) Sorted() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a copy of the set
func (s KeySet) Clone() KeySet {
	return NewKeySet(s.Sorted()...)
}

// Equal reports whether both sets hold the same keys
func (s KeySet) Equal(other KeySet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted list
func (s KeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a list of keys
func (s *KeySet) UnmarshalJSON(data []byte) error {
	var keys []Key
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewKeySet(keys...)
	return nil
}
