package slots

import (
	"errors"
	"fmt"
	"sync"

	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/pipeline"
	"github.com/james-see/groove2groove/pkg/sequence"
)

type slot struct {
	id        ID
	full      *sequence.Sequence
	trimmed   *sequence.Sequence
	effective *sequence.Sequence
	registry  *instruments.Registry
	merge     *instruments.MergeMap
	window    pipeline.Window
	selected  instruments.KeySet
	tempo     *float64
	busy      bool
	busyToken uint64
	epoch     uint64
}

func (sl *slot) view() View {
	v := View{
		ID:        sl.id,
		Full:      sl.full,
		Trimmed:   sl.trimmed,
		Effective: sl.effective,
		Window:    sl.window,
		Selected:  sl.selected.Clone(),
		Busy:      sl.busy,
		Epoch:     sl.epoch,
	}
	if sl.registry != nil {
		v.Instruments = sl.registry.Entries()
	}
	if sl.merge != nil {
		m := *sl.merge
		v.Merge = &m
	}
	if sl.tempo != nil {
		t := *sl.tempo
		v.TempoOverride = &t
	}
	return v
}

// Store owns every slot of a session. All methods are safe for concurrent
// use; recomputation and propagation run synchronously under the store lock.
type Store struct {
	mu         sync.Mutex
	graph      Graph
	dependents map[ID][]ID
	slots      map[ID]*slot
	epochs     uint64
	tokens     uint64
}

// NewStore creates a store whose derived slots follow graph. Unknown slot
// ids and dependency cycles are configuration errors.
func NewStore(graph Graph) (*Store, error) {
	if err := validate(graph); err != nil {
		return nil, err
	}

	s := &Store{
		graph:      graph,
		dependents: make(map[ID][]ID),
	}
	for _, id := range Order {
		for _, src := range graph[id] {
			s.dependents[src] = append(s.dependents[src], id)
		}
	}
	s.reset()
	return s, nil
}

func validate(graph Graph) error {
	for derived, sources := range graph {
		if _, err := ParseID(string(derived)); err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("derived slot %s has no sources", derived)
		}
		for _, src := range sources {
			if _, err := ParseID(string(src)); err != nil {
				return err
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[ID]int)
	var visit func(id ID) error
	visit = func(id ID) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("dependency cycle through slot %s", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, src := range graph[id] {
			if err := visit(src); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, id := range Order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Graph returns the dependency graph of the store
func (s *Store) Graph() Graph {
	return s.graph
}

// Derived reports whether id is built from other slots
func (s *Store) Derived(id ID) bool {
	return len(s.graph[id]) > 0
}

// Reset destroys every slot. Epochs keep increasing so results issued
// before the reset are discarded.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Store) reset() {
	s.slots = make(map[ID]*slot, len(Order))
	for _, id := range Order {
		s.epochs++
		s.slots[id] = &slot{id: id, epoch: s.epochs}
	}
}

func (s *Store) get(id ID) (*slot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, id)
	}
	return sl, nil
}

// Slot returns a view of one slot
func (s *Store) Slot(id ID) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	return sl.view(), nil
}

// Views returns a view of every slot
func (s *Store) Views() map[ID]View {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make(map[ID]View, len(s.slots))
	for id, sl := range s.slots {
		views[id] = sl.view()
	}
	return views
}

// Ready reports whether id has an effective sequence
func (s *Store) Ready(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(id)
	return err == nil && sl.effective != nil
}

// Load installs seq as the full sequence of id, resetting its time window
// and instrument selection, and propagates to dependent slots.
func (s *Store) Load(id ID, seq *sequence.Sequence) (View, error) {
	if seq == nil {
		return View{}, errors.New("nil sequence")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	if sl.busy {
		return View{}, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	s.install(sl, sequence.Clone(seq), nil)
	return sl.view(), nil
}

// SetWindow changes the time window of id and re-runs its pipeline
func (s *Store) SetWindow(id ID, w pipeline.Window) (View, error) {
	return s.edit(id, func(sl *slot) { sl.window = w })
}

// SetInstruments changes the instrument selection of id and re-runs its
// pipeline
func (s *Store) SetInstruments(id ID, keys instruments.KeySet) (View, error) {
	return s.edit(id, func(sl *slot) { sl.selected = keys.Clone() })
}

func (s *Store) edit(id ID, apply func(sl *slot)) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	if sl.full == nil {
		return View{}, fmt.Errorf("%w: %s", ErrNotReady, id)
	}
	if sl.busy {
		return View{}, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	apply(sl)
	s.recompute(sl)
	return sl.view(), nil
}

// SetTempo overrides the playback tempo of id. It does not affect the
// pipeline.
func (s *Store) SetTempo(id ID, qpm float64) (View, error) {
	if qpm <= 0 {
		return View{}, fmt.Errorf("invalid tempo %v", qpm)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	if sl.full == nil {
		return View{}, fmt.Errorf("%w: %s", ErrNotReady, id)
	}
	sl.tempo = &qpm
	return sl.view(), nil
}

// install replaces the full sequence of sl and everything derived from it
func (s *Store) install(sl *slot, full *sequence.Sequence, merge *instruments.MergeMap) {
	s.epochs++
	sl.epoch = s.epochs
	sl.full = full
	sl.merge = merge
	sl.registry = instruments.Scan(full)
	sl.window = pipeline.FullWindow(full)
	sl.selected = sl.registry.All()
	sl.tempo = nil
	s.recompute(sl)
}

// recompute re-runs the whole pipeline from the full sequence, then
// propagates to dependents
func (s *Store) recompute(sl *slot) {
	res := pipeline.Run(sl.full, sl.window, sl.selected)
	sl.trimmed = res.Trimmed
	sl.effective = res.Effective
	s.propagate(sl.id)
}

// propagate re-derives every slot built from id, depth first
func (s *Store) propagate(id ID) {
	for _, dep := range s.dependents[id] {
		s.derive(s.slots[dep])
	}
}

func (s *Store) derive(sl *slot) {
	sources := s.graph[sl.id]
	inputs := make([]*sequence.Sequence, 0, len(sources))
	for _, src := range sources {
		eff := s.slots[src].effective
		if eff == nil {
			s.clear(sl)
			return
		}
		inputs = append(inputs, eff)
	}

	full := sequence.Clone(inputs[0])
	var merge *instruments.MergeMap
	for _, next := range inputs[1:] {
		merged, m := instruments.Merge(full, next)
		full, merge = merged, &m
	}
	s.install(sl, full, merge)
}

// clear returns sl to the unready state
func (s *Store) clear(sl *slot) {
	if sl.full == nil {
		return
	}
	s.epochs++
	sl.epoch = s.epochs
	sl.full, sl.trimmed, sl.effective = nil, nil, nil
	sl.registry, sl.merge = nil, nil
	sl.window = pipeline.Window{}
	sl.selected = nil
	sl.tempo = nil
	s.propagate(sl.id)
}

// Begin marks target busy for work that consumes the effective sequences
// of inputs. It fails with ErrBusy when target already has work in flight
// and with ErrNotReady when an input is missing; in both cases nothing
// changes.
func (s *Store) Begin(target ID, inputs ...ID) (Ticket, []*sequence.Sequence, error) {
	return s.begin(target, inputs, func(_ *slot, in *slot) *sequence.Sequence {
		return in.effective
	})
}

// BeginSources is Begin for work on a derived target that consumes its
// sources again. Each input is the trimmed sequence of that source filtered
// to the instruments it contributes to the selection of target. Inputs
// that are not sources of a merged target give their effective sequence.
func (s *Store) BeginSources(target ID, inputs ...ID) (Ticket, []*sequence.Sequence, error) {
	return s.begin(target, inputs, func(sl *slot, in *slot) *sequence.Sequence {
		keys, ok := s.sourceKeys(sl, in.id)
		if !ok {
			return in.effective
		}
		return pipeline.FilterByInstruments(in.trimmed, keys)
	})
}

func (s *Store) begin(target ID, inputs []ID, pick func(sl, in *slot) *sequence.Sequence) (Ticket, []*sequence.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(target)
	if err != nil {
		return Ticket{}, nil, err
	}
	if sl.busy {
		return Ticket{}, nil, fmt.Errorf("%w: %s", ErrBusy, target)
	}

	seqs := make([]*sequence.Sequence, 0, len(inputs))
	for _, id := range inputs {
		in, err := s.get(id)
		if err != nil {
			return Ticket{}, nil, err
		}
		if in.effective == nil {
			return Ticket{}, nil, fmt.Errorf("%w: %s", ErrNotReady, id)
		}
		seqs = append(seqs, pick(sl, in))
	}

	s.tokens++
	sl.busy = true
	sl.busyToken = s.tokens
	return Ticket{Slot: target, Epoch: sl.epoch, token: s.tokens}, seqs, nil
}

// sourceKeys splits the selection of the merged slot sl into the keys src
// contributed, in the key space of src. Drums are shared by every source.
func (s *Store) sourceKeys(sl *slot, src ID) (instruments.KeySet, bool) {
	sources := s.graph[sl.id]
	if sl.merge == nil || sl.selected == nil || len(sources) != 2 {
		return nil, false
	}
	index := -1
	for i, id := range sources {
		if id == src {
			index = i
		}
	}
	if index < 0 {
		return nil, false
	}

	keys := instruments.NewKeySet()
	for k := range sl.selected {
		if k == instruments.Drums {
			keys[k] = struct{}{}
			continue
		}
		if from, original := sl.merge.Origin(k); from == index {
			keys[original] = struct{}{}
		}
	}
	return keys, true
}

// Acquire marks id busy for work that does not consume other slots
func (s *Store) Acquire(id ID) (Ticket, error) {
	t, _, err := s.Begin(id)
	return t, err
}

// Install applies the result of t as a fresh load of its slot. When the
// slot was reloaded after t was issued the result is discarded and ErrStale
// is returned.
func (s *Store) Install(t Ticket, seq *sequence.Sequence) (View, error) {
	if seq == nil {
		return View{}, errors.New("nil sequence")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(t.Slot)
	if err != nil {
		return View{}, err
	}
	if sl.epoch != t.Epoch {
		return sl.view(), fmt.Errorf("%w: %s", ErrStale, t.Slot)
	}
	s.install(sl, sequence.Clone(seq), nil)
	return sl.view(), nil
}

// Release ends the work represented by t
func (s *Store) Release(t Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(t.Slot)
	if err != nil {
		return
	}
	if sl.busy && sl.busyToken == t.token {
		sl.busy = false
		sl.busyToken = 0
	}
}

// Export returns the serializable state of every slot in Order
func (s *Store) Export() []SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]SlotState, 0, len(Order))
	for _, id := range Order {
		v := s.slots[id].view()
		states = append(states, SlotState{
			ID:            id,
			Full:          sequence.Clone(v.Full),
			Merge:         v.Merge,
			Window:        v.Window,
			Selected:      v.Selected,
			TempoOverride: v.TempoOverride,
		})
	}
	return states
}

// Restore loads a saved slot and replays its window, instrument selection
// and tempo. Slots must be restored in Order; a derived slot whose sources
// are not ready fails with ErrNotReady.
func (s *Store) Restore(st SlotState) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.get(st.ID)
	if err != nil {
		return View{}, err
	}
	if st.Full == nil {
		return sl.view(), nil
	}
	if sl.busy {
		return View{}, fmt.Errorf("%w: %s", ErrBusy, st.ID)
	}
	for _, src := range s.graph[st.ID] {
		if s.slots[src].effective == nil {
			return View{}, fmt.Errorf("%w: %s needs %s", ErrNotReady, st.ID, src)
		}
	}

	full := sequence.Clone(st.Full)
	sequence.Sanitize(full)
	s.install(sl, full, st.Merge)

	sl.window = st.Window
	if st.Selected != nil {
		sl.selected = st.Selected.Clone()
	}
	if st.TempoOverride != nil && *st.TempoOverride > 0 {
		t := *st.TempoOverride
		sl.tempo = &t
	}
	s.recompute(sl)
	return sl.view(), nil
}
