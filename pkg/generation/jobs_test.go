package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/sequence"
	"github.com/james-see/groove2groove/pkg/slots"
)

// fakeGenerator returns canned results. When gate is set each call blocks
// until the gate is closed.
type fakeGenerator struct {
	result  *sequence.Sequence
	err     error
	calls   int
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeGenerator) respond() (*sequence.Sequence, error) {
	f.calls++
	if f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return sequence.Clone(f.result), nil
}

func (f *fakeGenerator) StyleTransfer(_ context.Context, _, _ *sequence.Sequence, _ Options) (*sequence.Sequence, error) {
	return f.respond()
}

func (f *fakeGenerator) Remix(_ context.Context, _, _ *sequence.Sequence) (*sequence.Sequence, error) {
	return f.respond()
}

// recordingGenerator keeps the sequences each remix request carried
type recordingGenerator struct {
	fakeGenerator
	sent []*sequence.Sequence
}

func (r *recordingGenerator) Remix(ctx context.Context, content, output *sequence.Sequence) (*sequence.Sequence, error) {
	r.sent = append(r.sent, content, output)
	return r.fakeGenerator.Remix(ctx, content, output)
}

// nilGenerator answers without a sequence or an error
type nilGenerator struct{}

func (nilGenerator) StyleTransfer(_ context.Context, _, _ *sequence.Sequence, _ Options) (*sequence.Sequence, error) {
	return nil, nil
}

func (nilGenerator) Remix(_ context.Context, _, _ *sequence.Sequence) (*sequence.Sequence, error) {
	return nil, nil
}

func loadedStore(t *testing.T, ids ...slots.ID) *slots.Store {
	t.Helper()
	store, err := slots.NewStore(slots.DefaultGraph)
	require.NoError(t, err)
	for i, id := range ids {
		_, err := store.Load(id, melody(string(id)+".mid", 50+i))
		require.NoError(t, err)
	}
	return store
}

func TestJobFor(t *testing.T) {
	j, ok := JobFor(slots.Output)
	require.True(t, ok)
	assert.Equal(t, KindStyleTransfer, j.Kind)

	j, ok = JobFor(slots.Remix)
	require.True(t, ok)
	assert.Equal(t, []slots.ID{slots.Content, slots.Output}, j.Inputs)

	_, ok = JobFor(slots.Content)
	assert.False(t, ok)

	assert.Equal(t, map[slots.ID][]slots.ID{
		slots.Output: {slots.Content, slots.Style},
		slots.Remix:  {slots.Content, slots.Output},
	}, Inputs())
}

func TestResultName(t *testing.T) {
	content := &sequence.Sequence{Name: "bach.prelude.mid"}
	style := &sequence.Sequence{Name: "funk.mid"}
	output := &sequence.Sequence{Name: "bach.prelude__funk.mid"}

	assert.Equal(t, "bach.prelude__funk.mid", StyleTransferJob.ResultName([]*sequence.Sequence{content, style}))
	assert.Equal(t, "bach.prelude__funk__remix.mid", RemixJob.ResultName([]*sequence.Sequence{content, output}))
}

func TestExecuteNotReadyDoesNotSend(t *testing.T) {
	store := loadedStore(t, slots.Content)
	gen := &fakeGenerator{result: melody("", 70)}

	_, err := Execute(context.Background(), store, gen, StyleTransferJob, Options{Model: "m"})
	assert.ErrorIs(t, err, slots.ErrNotReady)
	assert.Equal(t, 0, gen.calls)

	v, err := store.Slot(slots.Output)
	require.NoError(t, err)
	assert.False(t, v.Busy)
}

func TestExecuteInstallsResult(t *testing.T) {
	store := loadedStore(t, slots.Content, slots.Style)
	gen := &fakeGenerator{result: melody("", 70)}

	v, err := Execute(context.Background(), store, gen, StyleTransferJob, Options{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, "content__style.mid", v.Name())
	assert.False(t, v.Busy)
	assert.Len(t, v.Effective.Notes, 2)

	// The new output feeds the remix
	assert.True(t, store.Ready(slots.Remix))
}

func TestExecuteRejectsSecondRequestForSlot(t *testing.T) {
	store := loadedStore(t, slots.Content, slots.Style)
	gen := &fakeGenerator{result: melody("", 70), started: make(chan struct{}), gate: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := Execute(context.Background(), store, gen, StyleTransferJob, Options{Model: "m"})
		done <- err
	}()
	<-gen.started

	second := &fakeGenerator{result: melody("", 80)}
	_, err := Execute(context.Background(), store, second, StyleTransferJob, Options{Model: "m"})
	assert.ErrorIs(t, err, slots.ErrBusy)
	assert.Equal(t, 0, second.calls)

	v, err := store.Slot(slots.Output)
	require.NoError(t, err)
	assert.True(t, v.Busy, "in-flight request still owns the slot")

	close(gen.gate)
	require.NoError(t, <-done)

	v, err = store.Slot(slots.Output)
	require.NoError(t, err)
	assert.False(t, v.Busy)
	assert.Equal(t, 70, v.Full.Notes[0].Pitch)
}

func TestExecuteNetworkFailureKeepsPriorState(t *testing.T) {
	store := loadedStore(t, slots.Content, slots.Style, slots.Output)
	before, err := store.Slot(slots.Output)
	require.NoError(t, err)

	gen := &fakeGenerator{err: fmt.Errorf("%w: connection refused", ErrNetwork)}
	_, err = Execute(context.Background(), store, gen, StyleTransferJob, Options{Model: "m"})
	assert.ErrorIs(t, err, ErrNetwork)

	after, err := store.Slot(slots.Output)
	require.NoError(t, err)
	assert.Equal(t, before.Full, after.Full)
	assert.Equal(t, before.Epoch, after.Epoch)
	assert.False(t, after.Busy)
}

func TestExecuteDiscardsStaleRemix(t *testing.T) {
	store := loadedStore(t, slots.Content, slots.Output)
	gen := &fakeGenerator{result: melody("", 20), started: make(chan struct{}), gate: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := Execute(context.Background(), store, gen, RemixJob, Options{})
		done <- err
	}()
	<-gen.started

	_, err := store.Load(slots.Content, melody("newer.mid", 90))
	require.NoError(t, err)
	close(gen.gate)

	err = <-done
	assert.True(t, errors.Is(err, slots.ErrStale), "got %v", err)

	v, err := store.Slot(slots.Remix)
	require.NoError(t, err)
	assert.False(t, v.Busy)
	assert.NotEqual(t, 20, v.Full.Notes[0].Pitch)
}

func TestExecuteRemixSendsSelectedInstruments(t *testing.T) {
	store := loadedStore(t, slots.Content, slots.Output)
	remix, err := store.Slot(slots.Remix)
	require.NoError(t, err)
	require.NotNil(t, remix.Merge)

	// keep output instrument 1 and content instrument 0
	keep := instruments.NewKeySet(remix.Merge.Merged(0, 1), remix.Merge.Merged(1, 0))
	_, err = store.SetInstruments(slots.Remix, keep)
	require.NoError(t, err)

	gen := &recordingGenerator{fakeGenerator: fakeGenerator{result: melody("", 30)}}
	_, err = Execute(context.Background(), store, gen, RemixJob, Options{})
	require.NoError(t, err)

	require.Len(t, gen.sent, 2)
	content, output := gen.sent[0], gen.sent[1]
	require.Len(t, content.Notes, 1)
	assert.Equal(t, 0, content.Notes[0].Instrument)
	require.Len(t, output.Notes, 1)
	assert.Equal(t, 1, output.Notes[0].Instrument)
	assert.Equal(t, "content.mid", content.Name)
	assert.Equal(t, "output.mid", output.Name)

	v, err := store.Slot(slots.Remix)
	require.NoError(t, err)
	assert.Equal(t, "output__remix.mid", v.Name())
}

func TestExecuteRemixEmptySelectionSendsNoNotes(t *testing.T) {
	store := loadedStore(t, slots.Content, slots.Output)
	_, err := store.SetInstruments(slots.Remix, instruments.NewKeySet())
	require.NoError(t, err)

	gen := &recordingGenerator{fakeGenerator: fakeGenerator{result: melody("", 30)}}
	_, err = Execute(context.Background(), store, gen, RemixJob, Options{})
	require.NoError(t, err)

	require.Len(t, gen.sent, 2)
	assert.Empty(t, gen.sent[0].Notes)
	assert.Empty(t, gen.sent[1].Notes)
}

func TestExecuteRejectsEmptyResult(t *testing.T) {
	store := loadedStore(t, slots.Content, slots.Style)

	_, err := Execute(context.Background(), store, nilGenerator{}, StyleTransferJob, Options{Model: "m"})
	assert.ErrorIs(t, err, sequence.ErrDecode)

	v, err := store.Slot(slots.Output)
	require.NoError(t, err)
	assert.False(t, v.Busy)
	assert.False(t, v.Ready())
}
