package sequence

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	defaultTicksPerQuarter = 480
	drumChannel            = 9
)

// DecodeMIDI parses a Standard MIDI File into a Sequence. Each distinct
// (track, channel) pair becomes one instrument, numbered in order of first
// appearance; channel 10 carries drums.
func DecodeMIDI(name string, data []byte) (*Sequence, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse MIDI: %v", ErrDecode, err)
	}

	if _, ok := s.TimeFormat.(smf.MetricTicks); !ok {
		return nil, fmt.Errorf("%w: unsupported time format %v", ErrDecode, s.TimeFormat)
	}
	seconds := func(tick int64) float64 {
		return float64(s.TimeAt(tick)) / 1e6
	}

	seq := &Sequence{
		Name:   name,
		Notes:  []Note{},
		Tempos: decodeTempos(s, seconds),
	}

	type voice struct {
		channel uint8
		pitch   uint8
	}
	type pending struct {
		tick       int64
		velocity   uint8
		instrument int
		program    uint8
	}

	instrumentIDs := make(map[[2]int]int)
	for trackIndex, track := range s.Tracks {
		var tick int64
		var programs [16]uint8
		open := make(map[voice][]pending)

		closeNote := func(v voice, p pending, endTick int64) {
			seq.Notes = append(seq.Notes, Note{
				Pitch:      int(v.pitch),
				Velocity:   int(p.velocity),
				StartTime:  seconds(p.tick),
				EndTime:    seconds(endTick),
				Instrument: p.instrument,
				Program:    int(p.program),
				IsDrum:     v.channel == drumChannel,
			})
		}

		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message
			if len(msg) < 2 {
				continue
			}

			status := msg[0]
			channel := status & 0x0F
			switch {
			// Program change (0xCn pp)
			case status >= 0xC0 && status <= 0xCF:
				programs[channel] = msg[1] & 0x7F

			// Note On (0x9n nn vv)
			case status >= 0x90 && status <= 0x9F && len(msg) >= 3 && msg[2] > 0:
				key := [2]int{trackIndex, int(channel)}
				id, ok := instrumentIDs[key]
				if !ok {
					id = len(instrumentIDs)
					instrumentIDs[key] = id
				}
				v := voice{channel: channel, pitch: msg[1]}
				open[v] = append(open[v], pending{
					tick:       tick,
					velocity:   msg[2],
					instrument: id,
					program:    programs[channel],
				})

			// Note Off (0x8n nn vv) or Note On with velocity 0
			case (status >= 0x80 && status <= 0x8F) || (status >= 0x90 && status <= 0x9F && len(msg) >= 3):
				v := voice{channel: channel, pitch: msg[1]}
				stack := open[v]
				if len(stack) == 0 {
					continue
				}
				closeNote(v, stack[0], tick)
				open[v] = stack[1:]
			}
		}

		// Notes still sounding at the end of the track end with it
		for v, stack := range open {
			for _, p := range stack {
				closeNote(v, p, tick)
			}
		}
	}

	sort.SliceStable(seq.Notes, func(i, j int) bool {
		if seq.Notes[i].StartTime != seq.Notes[j].StartTime {
			return seq.Notes[i].StartTime < seq.Notes[j].StartTime
		}
		return seq.Notes[i].Pitch < seq.Notes[j].Pitch
	})
	Sanitize(seq)
	return seq, nil
}

// decodeTempos lists the file's tempo changes, falling back to the default
// tempo before the first one
func decodeTempos(s *smf.SMF, seconds func(int64) float64) []Tempo {
	changes := s.TempoChanges()
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].AbsTicks < changes[j].AbsTicks })

	tempos := []Tempo{{Time: 0, QPM: DefaultQPM}}
	for _, tc := range changes {
		if tc.BPM <= 0 {
			continue
		}
		t := Tempo{Time: seconds(tc.AbsTicks), QPM: tc.BPM}
		if last := &tempos[len(tempos)-1]; t.Time <= last.Time {
			last.QPM = t.QPM
			continue
		}
		tempos = append(tempos, t)
	}
	return tempos
}

type timedMessage struct {
	tick  int64
	order int // note-offs sort before note-ons on the same tick
	msg   []byte
}

// EncodeMIDI writes seq as a format 1 Standard MIDI File with a conductor
// track followed by one track per instrument.
func EncodeMIDI(seq *Sequence) ([]byte, error) {
	if seq == nil {
		return nil, errors.New("nil sequence")
	}

	tm := newSecondsTempoMap(defaultTicksPerQuarter, seq.Tempos)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(defaultTicksPerQuarter)

	var conductor smf.Track
	var prev int64
	for _, p := range tm.points {
		microsecondsPerBeat := uint32(60000000.0 / p.qpm)
		conductor.Add(uint32(p.tick-prev), smf.Message([]byte{
			0xFF, 0x51, 0x03,
			byte(microsecondsPerBeat >> 16),
			byte(microsecondsPerBeat >> 8),
			byte(microsecondsPerBeat),
		}))
		prev = p.tick
	}
	conductor.Close(0)
	if err := s.Add(conductor); err != nil {
		return nil, fmt.Errorf("failed to add conductor track: %w", err)
	}

	type trackKey struct {
		instrument int
		drum       bool
	}
	groups := make(map[trackKey][]Note)
	var keys []trackKey
	for _, n := range seq.Notes {
		k := trackKey{instrument: n.Instrument, drum: n.IsDrum}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], n)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].instrument != keys[j].instrument {
			return keys[i].instrument < keys[j].instrument
		}
		return !keys[i].drum && keys[j].drum
	})

	nextChannel := uint8(0)
	for _, k := range keys {
		notes := groups[k]

		channel := uint8(drumChannel)
		if !k.drum {
			channel = nextChannel
			nextChannel = (nextChannel + 1) % 16
			if nextChannel == drumChannel {
				nextChannel++
			}
		}

		events := make([]timedMessage, 0, 2*len(notes)+1)
		if !k.drum {
			events = append(events, timedMessage{tick: 0, order: -1, msg: midi.ProgramChange(channel, clamp7(notes[0].Program))})
		}
		for _, n := range notes {
			velocity := clamp7(n.Velocity)
			if velocity == 0 {
				velocity = 100
			}
			start, end := tm.ticks(n.StartTime), tm.ticks(n.EndTime)
			if end <= start {
				end = start + 1
			}
			events = append(events,
				timedMessage{tick: start, order: 1, msg: midi.NoteOn(channel, clamp7(n.Pitch), velocity)},
				timedMessage{tick: end, order: 0, msg: midi.NoteOff(channel, clamp7(n.Pitch))},
			)
		}
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].tick != events[j].tick {
				return events[i].tick < events[j].tick
			}
			return events[i].order < events[j].order
		})

		var track smf.Track
		var currentTick int64
		for _, ev := range events {
			track.Add(uint32(ev.tick-currentTick), ev.msg)
			currentTick = ev.tick
		}
		track.Close(0)

		if err := s.Add(track); err != nil {
			return nil, fmt.Errorf("failed to add track: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp7(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 127:
		return 127
	default:
		return uint8(v)
	}
}
