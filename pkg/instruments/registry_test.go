package instruments

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/groove2groove/pkg/sequence"
)

func band() *sequence.Sequence {
	return &sequence.Sequence{
		Name: "band.mid",
		Notes: []sequence.Note{
			{Pitch: 60, StartTime: 0, EndTime: 1, Instrument: 1, Program: 33},
			{Pitch: 36, StartTime: 0, EndTime: 0.5, Instrument: 2, Program: 0, IsDrum: true},
			{Pitch: 64, StartTime: 1, EndTime: 2, Instrument: 0, Program: 0},
			{Pitch: 38, StartTime: 1, EndTime: 1.5, Instrument: 3, Program: 25, IsDrum: true},
		},
		Tempos:    []sequence.Tempo{{QPM: 100}},
		TotalTime: 2,
	}
}

func TestScanOrdersKeysAndGroupsDrums(t *testing.T) {
	r := Scan(band())

	assert.Equal(t, []Key{Drums, 0, 1}, r.Keys())
	assert.Equal(t, []Entry{
		{Key: Drums, Program: -1, IsDrum: true},
		{Key: 0, Program: 0},
		{Key: 1, Program: 33},
	}, r.Entries())
	assert.True(t, r.All().Equal(NewKeySet(0, 1, Drums)))
}

func TestScanLastProgramWins(t *testing.T) {
	seq := &sequence.Sequence{Notes: []sequence.Note{
		{Instrument: 4, Program: 10},
		{Instrument: 4, Program: 40},
		{Instrument: 4, Program: 20},
	}}

	program, ok := Scan(seq).Program(4)
	require.True(t, ok)
	assert.Equal(t, 20, program)
}

func TestScanEmpty(t *testing.T) {
	r := Scan(&sequence.Sequence{})
	assert.Equal(t, 0, r.Len())
	_, ok := r.MaxKey()
	assert.False(t, ok)

	assert.Equal(t, 0, Scan(nil).Len())
}

func TestMaxKeyIgnoresDrums(t *testing.T) {
	seq := &sequence.Sequence{Notes: []sequence.Note{
		{Instrument: 2},
		{Instrument: 9, IsDrum: true},
	}}
	k, ok := Scan(seq).MaxKey()
	require.True(t, ok)
	assert.Equal(t, Key(2), k)
}

func TestEntryLabel(t *testing.T) {
	assert.Equal(t, "Drums", Entry{Key: Drums, Program: -1, IsDrum: true}.Label())
	assert.Equal(t, "Electric Bass (finger)", Entry{Key: 1, Program: 33}.Label())
	assert.Equal(t, "Gunshot", Entry{Program: 127}.Label())
	assert.Equal(t, "Unknown", Entry{Program: 128}.Label())
}

func TestKeyJSON(t *testing.T) {
	data, err := json.Marshal(NewKeySet(3, Drums, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `["DRUMS", 0, 3]`, string(data))

	var set KeySet
	require.NoError(t, json.Unmarshal([]byte(`[1, "DRUMS", "2"]`), &set))
	assert.True(t, set.Equal(NewKeySet(1, 2, Drums)))

	var k Key
	assert.Error(t, json.Unmarshal([]byte(`"piano"`), &k))
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("DRUMS")
	require.NoError(t, err)
	assert.Equal(t, Drums, k)

	k, err = ParseKey("7")
	require.NoError(t, err)
	assert.Equal(t, Key(7), k)

	_, err = ParseKey("seven")
	assert.Error(t, err)
}

func TestMergeOffsetsSecondSequence(t *testing.T) {
	output := &sequence.Sequence{
		Name: "output.mid",
		Notes: []sequence.Note{
			{Pitch: 50, Instrument: 0, EndTime: 1},
			{Pitch: 51, Instrument: 2, EndTime: 1},
			{Pitch: 36, Instrument: 5, IsDrum: true, EndTime: 1},
		},
		Tempos:    []sequence.Tempo{{QPM: 90}},
		TotalTime: 3,
	}
	content := &sequence.Sequence{
		Name: "content.mid",
		Notes: []sequence.Note{
			{Pitch: 70, Instrument: 0, EndTime: 1},
			{Pitch: 71, Instrument: 1, EndTime: 4},
			{Pitch: 42, Instrument: 2, IsDrum: true, EndTime: 1},
		},
		Tempos:    []sequence.Tempo{{QPM: 140}},
		TotalTime: 4,
	}

	merged, m := Merge(output, content)

	assert.Equal(t, 3, m.Offset)
	assert.Equal(t, "output__remix.mid", merged.Name)
	assert.Equal(t, 4.0, merged.TotalTime)
	assert.Equal(t, 90.0, merged.QPM())
	require.Len(t, merged.Notes, 6)
	assert.Equal(t, []Key{Drums, 0, 2, 3, 4}, Scan(merged).Keys())

	source, original := m.Origin(4)
	assert.Equal(t, 1, source)
	assert.Equal(t, Key(1), original)
	source, original = m.Origin(2)
	assert.Equal(t, 0, source)
	assert.Equal(t, Key(2), original)
	assert.Equal(t, Key(4), m.Merged(1, 1))
	assert.Equal(t, Drums, m.Merged(1, Drums))

	// Inputs are untouched
	assert.Equal(t, 1, content.Notes[1].Instrument)
}

func TestMergeFirstWithoutMelodicInstruments(t *testing.T) {
	drums := &sequence.Sequence{Notes: []sequence.Note{{Instrument: 0, IsDrum: true}}}
	lead := &sequence.Sequence{Notes: []sequence.Note{{Instrument: 0}}}

	merged, m := Merge(drums, lead)
	assert.Equal(t, 0, m.Offset)
	assert.Equal(t, []Key{Drums, 0}, Scan(merged).Keys())
}
