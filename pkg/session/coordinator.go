// Package session coordinates user edits, generation requests, playback and
// snapshots over a slot store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/james-see/groove2groove/pkg/generation"
	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/logger"
	"github.com/james-see/groove2groove/pkg/pipeline"
	"github.com/james-see/groove2groove/pkg/sequence"
	"github.com/james-see/groove2groove/pkg/slots"
)

var (
	// ErrNoPlayer is returned by playback operations when no Player is set
	ErrNoPlayer = errors.New("no player configured")
	// ErrNotGeneratable is returned when a slot has no generation job
	ErrNotGeneratable = errors.New("slot cannot be generated")
	// ErrDerived is returned when loading a file into a derived slot
	ErrDerived = errors.New("slot is derived from other slots")
)

// Player renders sequences audibly. Prepare loads whatever the sequence
// needs (samples, ports) and may block.
type Player interface {
	Prepare(ctx context.Context, seq *sequence.Sequence, qpm float64) error
	Start(id slots.ID) error
	Stop(id slots.ID) error
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithPlayer enables playback
func WithPlayer(p Player) Option {
	return func(c *Coordinator) {
		c.player = p
	}
}

// WithSettings sets the initial generation settings
func WithSettings(opts generation.Options) Option {
	return func(c *Coordinator) {
		c.settings = opts
	}
}

// Coordinator is the single entry point for edits on a session
type Coordinator struct {
	store  *slots.Store
	gen    generation.Generator
	player Player

	mu       sync.Mutex
	id       string
	settings generation.Options
	playback slots.Playback
}

// New creates a coordinator over store. gen may be nil when generation is
// not available.
func New(store *slots.Store, gen generation.Generator, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		gen:      gen,
		id:       newSessionID(),
		settings: generation.Options{Temperature: generation.DefaultTemperature},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying slot store
func (c *Coordinator) Store() *slots.Store {
	return c.store
}

// ID returns the session id
func (c *Coordinator) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Settings returns the current generation settings
func (c *Coordinator) Settings() generation.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetSettings replaces the generation settings
func (c *Coordinator) SetSettings(opts generation.Options) error {
	if opts.Temperature < 0 {
		return fmt.Errorf("invalid softmax temperature %v", opts.Temperature)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = opts
	return nil
}

// OnSequenceLoaded installs an already decoded sequence into id
func (c *Coordinator) OnSequenceLoaded(id slots.ID, seq *sequence.Sequence) (slots.View, error) {
	if c.store.Derived(id) {
		return slots.View{}, fmt.Errorf("%w: %s", ErrDerived, id)
	}
	v, err := c.store.Load(id, seq)
	if err != nil {
		return v, err
	}
	logger.Info("Sequence loaded", viewFields(v))
	return v, nil
}

// OnTimeWindowChanged re-trims id to w
func (c *Coordinator) OnTimeWindowChanged(id slots.ID, w pipeline.Window) (slots.View, error) {
	if w.Start < 0 || w.End < w.Start {
		return slots.View{}, fmt.Errorf("invalid window [%d, %d)", w.Start, w.End)
	}
	return c.store.SetWindow(id, w)
}

// OnInstrumentsChanged re-filters id to keys
func (c *Coordinator) OnInstrumentsChanged(id slots.ID, keys instruments.KeySet) (slots.View, error) {
	return c.store.SetInstruments(id, keys)
}

// ToggleInstrument flips one instrument in the selection of id
func (c *Coordinator) ToggleInstrument(id slots.ID, key instruments.Key) (slots.View, error) {
	v, err := c.store.Slot(id)
	if err != nil {
		return v, err
	}
	keys := v.Selected.Clone()
	if keys == nil {
		keys = instruments.NewKeySet()
	}
	if keys.Has(key) {
		delete(keys, key)
	} else {
		keys[key] = struct{}{}
	}
	return c.store.SetInstruments(id, keys)
}

// OnTempoChanged sets the playback tempo of id
func (c *Coordinator) OnTempoChanged(id slots.ID, qpm float64) (slots.View, error) {
	return c.store.SetTempo(id, qpm)
}

// LoadFile decodes data and installs it into id. The slot is busy while the
// file is decoded; a decode failure leaves the previous sequence in place.
func (c *Coordinator) LoadFile(ctx context.Context, id slots.ID, name string, data []byte) (slots.View, error) {
	if c.store.Derived(id) {
		return slots.View{}, fmt.Errorf("%w: %s", ErrDerived, id)
	}
	ticket, err := c.store.Acquire(id)
	if err != nil {
		return slots.View{}, err
	}
	defer c.store.Release(ticket)

	seq, err := sequence.Decode(name, data)
	if err != nil {
		logger.Warn("Failed to decode file", logger.Fields{"slot": id, "file": name, "error": err.Error()})
		return slots.View{}, err
	}
	if err := ctx.Err(); err != nil {
		return slots.View{}, err
	}

	v, err := c.store.Install(ticket, seq)
	if err != nil {
		return v, err
	}
	logger.Info("Sequence loaded", viewFields(v))
	return v, nil
}

// Generate runs the generation job that targets id with the current
// settings
func (c *Coordinator) Generate(ctx context.Context, id slots.ID) (slots.View, error) {
	job, ok := generation.JobFor(id)
	if !ok {
		return slots.View{}, fmt.Errorf("%w: %s", ErrNotGeneratable, id)
	}
	if c.gen == nil {
		return slots.View{}, fmt.Errorf("%w: no inference service configured", generation.ErrNetwork)
	}

	opts := c.Settings()
	start := time.Now()
	v, err := generation.Execute(ctx, c.store, c.gen, job, opts)
	fields := logger.Fields{
		"slot":        id,
		"kind":        job.Kind,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	switch {
	case errors.Is(err, slots.ErrStale):
		logger.Warn("Discarded stale generation result", fields)
	case errors.Is(err, slots.ErrBusy), errors.Is(err, slots.ErrNotReady):
		// Rejected before anything was sent
	case err != nil:
		logger.Error("Generation failed", err, fields)
	default:
		fields["name"] = v.Name()
		fields["notes"] = len(v.Full.Notes)
		logger.Info("Generation completed", fields)
	}
	return v, err
}

// Save encodes the effective sequence of id as a MIDI file and returns it
// with a file name
func (c *Coordinator) Save(id slots.ID) ([]byte, string, error) {
	v, err := c.store.Slot(id)
	if err != nil {
		return nil, "", err
	}
	if !v.Ready() {
		return nil, "", fmt.Errorf("%w: %s", slots.ErrNotReady, id)
	}
	data, err := sequence.EncodeMIDI(v.Effective)
	if err != nil {
		return nil, "", err
	}
	return data, sequence.Stem(v.Name()) + ".mid", nil
}

// Controls projects slot state and playback onto control availability
func (c *Coordinator) Controls() map[slots.ID]slots.Controls {
	pb := c.Playback()
	return slots.Project(c.store.Views(), c.store.Graph(), generation.Inputs(), pb)
}

// viewFields returns the log fields describing v
func viewFields(v slots.View) logger.Fields {
	f := logger.Fields{"slot": v.ID, "epoch": v.Epoch}
	if v.Full != nil {
		f["name"] = v.Name()
		f["notes"] = len(v.Full.Notes)
		f["instruments"] = len(v.Instruments)
	}
	return f
}
