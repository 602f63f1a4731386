package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/groove2groove/pkg/generation"
	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/pipeline"
	"github.com/james-see/groove2groove/pkg/sequence"
	"github.com/james-see/groove2groove/pkg/slots"
)

func performance(name string, pitch int) *sequence.Sequence {
	return &sequence.Sequence{
		Name: name,
		Notes: []sequence.Note{
			{Pitch: pitch, Velocity: 90, StartTime: 0, EndTime: 0.5, Instrument: 0, Program: 0},
			{Pitch: pitch + 4, Velocity: 90, StartTime: 0.5, EndTime: 1, Instrument: 1, Program: 33},
			{Pitch: 36, Velocity: 100, StartTime: 1.5, EndTime: 2, Instrument: 2, IsDrum: true},
		},
		Tempos:    []sequence.Tempo{{QPM: 120}},
		TotalTime: 2,
	}
}

type stubGenerator struct {
	mu    sync.Mutex
	calls []generation.Options
}

func (g *stubGenerator) StyleTransfer(_ context.Context, _, _ *sequence.Sequence, opts generation.Options) (*sequence.Sequence, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, opts)
	return performance("", 72), nil
}

func (g *stubGenerator) Remix(_ context.Context, _, _ *sequence.Sequence) (*sequence.Sequence, error) {
	return performance("", 40), nil
}

func newCoordinator(t *testing.T, opts ...Option) (*Coordinator, *stubGenerator) {
	t.Helper()
	store, err := slots.NewStore(slots.DefaultGraph)
	require.NoError(t, err)
	gen := &stubGenerator{}
	return New(store, gen, opts...), gen
}

func midiFile(t *testing.T, pitch int) []byte {
	t.Helper()
	data, err := sequence.EncodeMIDI(performance("", pitch))
	require.NoError(t, err)
	return data
}

func TestLoadFile(t *testing.T) {
	c, _ := newCoordinator(t)

	v, err := c.LoadFile(context.Background(), slots.Content, "songs/prelude.mid", midiFile(t, 60))
	require.NoError(t, err)

	assert.Equal(t, "prelude.mid", v.Name())
	assert.False(t, v.Busy)
	assert.Len(t, v.Effective.Notes, 3)
	assert.True(t, v.Selected.Equal(instruments.NewKeySet(instruments.Drums, 0, 1)))
}

func TestLoadFileDecodeFailureKeepsState(t *testing.T) {
	c, _ := newCoordinator(t)
	_, err := c.LoadFile(context.Background(), slots.Content, "good.mid", midiFile(t, 60))
	require.NoError(t, err)

	_, err = c.LoadFile(context.Background(), slots.Content, "bad.mid", []byte("not a midi file"))
	assert.ErrorIs(t, err, sequence.ErrDecode)

	v, err := c.Store().Slot(slots.Content)
	require.NoError(t, err)
	assert.Equal(t, "good.mid", v.Name())
	assert.False(t, v.Busy)
	assert.True(t, c.Controls()[slots.Content].Load)
}

func TestLoadIntoDerivedSlot(t *testing.T) {
	c, _ := newCoordinator(t)

	_, err := c.LoadFile(context.Background(), slots.Remix, "x.mid", midiFile(t, 60))
	assert.ErrorIs(t, err, ErrDerived)

	_, err = c.OnSequenceLoaded(slots.Remix, performance("x.mid", 60))
	assert.ErrorIs(t, err, ErrDerived)
}

func TestSynchronousEdits(t *testing.T) {
	c, _ := newCoordinator(t)
	_, err := c.OnSequenceLoaded(slots.Content, performance("a.mid", 60))
	require.NoError(t, err)

	v, err := c.ToggleInstrument(slots.Content, 1)
	require.NoError(t, err)
	assert.Len(t, v.Effective.Notes, 2)
	for _, n := range v.Effective.Notes {
		assert.NotEqual(t, 1, n.Instrument)
	}

	v, err = c.ToggleInstrument(slots.Content, 1)
	require.NoError(t, err)
	assert.Len(t, v.Effective.Notes, 3)

	// Steps 3..4 at 120 QPM is [1.5s, 2s)
	v, err = c.OnTimeWindowChanged(slots.Content, pipeline.Window{Start: 3, End: 4})
	require.NoError(t, err)
	require.Len(t, v.Effective.Notes, 1)
	assert.True(t, v.Effective.Notes[0].IsDrum)

	_, err = c.OnTimeWindowChanged(slots.Content, pipeline.Window{Start: 4, End: 3})
	assert.Error(t, err)

	v, err = c.OnInstrumentsChanged(slots.Content, instruments.NewKeySet())
	require.NoError(t, err)
	assert.Empty(t, v.Effective.Notes)

	v, err = c.OnTempoChanged(slots.Content, 96)
	require.NoError(t, err)
	assert.Equal(t, 96.0, v.Tempo())
}

func TestGenerate(t *testing.T) {
	c, gen := newCoordinator(t, WithSettings(generation.Options{Model: "v01_drums", Temperature: 0.4}))

	_, err := c.Generate(context.Background(), slots.Output)
	assert.ErrorIs(t, err, slots.ErrNotReady)
	assert.Empty(t, gen.calls)
	assert.False(t, c.Controls()[slots.Output].Generate)

	_, err = c.OnSequenceLoaded(slots.Content, performance("bach.mid", 60))
	require.NoError(t, err)
	_, err = c.OnSequenceLoaded(slots.Style, performance("funk.mid", 45))
	require.NoError(t, err)
	assert.True(t, c.Controls()[slots.Output].Generate)

	v, err := c.Generate(context.Background(), slots.Output)
	require.NoError(t, err)
	assert.Equal(t, "bach__funk.mid", v.Name())
	require.Len(t, gen.calls, 1)
	assert.Equal(t, "v01_drums", gen.calls[0].Model)

	remix, err := c.Generate(context.Background(), slots.Remix)
	require.NoError(t, err)
	assert.Equal(t, "bach__funk__remix.mid", remix.Name())

	_, err = c.Generate(context.Background(), slots.Content)
	assert.ErrorIs(t, err, ErrNotGeneratable)
}

func TestGenerateWithoutService(t *testing.T) {
	store, err := slots.NewStore(slots.DefaultGraph)
	require.NoError(t, err)
	c := New(store, nil)

	_, err = c.Generate(context.Background(), slots.Output)
	assert.ErrorIs(t, err, generation.ErrNetwork)
}

func TestSave(t *testing.T) {
	c, _ := newCoordinator(t)

	_, _, err := c.Save(slots.Content)
	assert.ErrorIs(t, err, slots.ErrNotReady)

	_, err = c.OnSequenceLoaded(slots.Content, performance("take.one.pb", 60))
	require.NoError(t, err)
	_, err = c.ToggleInstrument(slots.Content, instruments.Drums)
	require.NoError(t, err)

	data, name, err := c.Save(slots.Content)
	require.NoError(t, err)
	assert.Equal(t, "take.one.mid", name)

	seq, err := sequence.DecodeMIDI(name, data)
	require.NoError(t, err)
	assert.Len(t, seq.Notes, 2)
}

func TestSettings(t *testing.T) {
	c, _ := newCoordinator(t)
	assert.Equal(t, generation.DefaultTemperature, c.Settings().Temperature)

	require.NoError(t, c.SetSettings(generation.Options{Model: "v01", Sample: true, Temperature: 1.2}))
	assert.Equal(t, generation.Options{Model: "v01", Sample: true, Temperature: 1.2}, c.Settings())

	assert.Error(t, c.SetSettings(generation.Options{Temperature: -1}))
}
