package sequence

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// NoteSequence field numbers used on the wire
const (
	fieldFilename  protowire.Number = 2
	fieldTempos    protowire.Number = 7
	fieldNotes     protowire.Number = 8
	fieldTotalTime protowire.Number = 9

	fieldNotePitch      protowire.Number = 1
	fieldNoteVelocity   protowire.Number = 2
	fieldNoteStartTime  protowire.Number = 3
	fieldNoteEndTime    protowire.Number = 4
	fieldNoteInstrument protowire.Number = 7
	fieldNoteProgram    protowire.Number = 8
	fieldNoteIsDrum     protowire.Number = 9

	fieldTempoTime protowire.Number = 1
	fieldTempoQPM  protowire.Number = 2
)

// Marshal encodes seq as a binary NoteSequence message
func Marshal(seq *Sequence) []byte {
	var b []byte
	if seq.Name != "" {
		b = protowire.AppendTag(b, fieldFilename, protowire.BytesType)
		b = protowire.AppendString(b, seq.Name)
	}
	for _, t := range seq.Tempos {
		b = protowire.AppendTag(b, fieldTempos, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTempo(t))
	}
	for _, n := range seq.Notes {
		b = protowire.AppendTag(b, fieldNotes, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNote(n))
	}
	if seq.TotalTime != 0 {
		b = protowire.AppendTag(b, fieldTotalTime, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(seq.TotalTime))
	}
	return b
}

func marshalTempo(t Tempo) []byte {
	var b []byte
	b = appendDouble(b, fieldTempoTime, t.Time)
	b = appendDouble(b, fieldTempoQPM, t.QPM)
	return b
}

func marshalNote(n Note) []byte {
	var b []byte
	b = appendInt32(b, fieldNotePitch, n.Pitch)
	b = appendInt32(b, fieldNoteVelocity, n.Velocity)
	b = appendDouble(b, fieldNoteStartTime, n.StartTime)
	b = appendDouble(b, fieldNoteEndTime, n.EndTime)
	b = appendInt32(b, fieldNoteInstrument, n.Instrument)
	b = appendInt32(b, fieldNoteProgram, n.Program)
	if n.IsDrum {
		b = protowire.AppendTag(b, fieldNoteIsDrum, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// proto3 omits zero scalars
func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendInt32(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(int32(v))))
}

// Unmarshal decodes a binary NoteSequence message. Fields outside the
// performance model are skipped.
func Unmarshal(data []byte) (*Sequence, error) {
	seq := &Sequence{Notes: []Note{}}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldFilename && typ == protowire.BytesType:
			seq.Name = string(v)
		case num == fieldTempos && typ == protowire.BytesType:
			t, err := unmarshalTempo(v)
			if err != nil {
				return err
			}
			seq.Tempos = append(seq.Tempos, t)
		case num == fieldNotes && typ == protowire.BytesType:
			n, err := unmarshalNote(v)
			if err != nil {
				return err
			}
			seq.Notes = append(seq.Notes, n)
		case num == fieldTotalTime && typ == protowire.Fixed64Type:
			seq.TotalTime = math.Float64frombits(x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seq, nil
}

func unmarshalTempo(data []byte) (Tempo, error) {
	var t Tempo
	err := walk(data, func(num protowire.Number, typ protowire.Type, _ []byte, x uint64) error {
		if typ != protowire.Fixed64Type {
			return nil
		}
		switch num {
		case fieldTempoTime:
			t.Time = math.Float64frombits(x)
		case fieldTempoQPM:
			t.QPM = math.Float64frombits(x)
		}
		return nil
	})
	return t, err
}

func unmarshalNote(data []byte) (Note, error) {
	var n Note
	err := walk(data, func(num protowire.Number, typ protowire.Type, _ []byte, x uint64) error {
		switch typ {
		case protowire.VarintType:
			switch num {
			case fieldNotePitch:
				n.Pitch = int(int32(x))
			case fieldNoteVelocity:
				n.Velocity = int(int32(x))
			case fieldNoteInstrument:
				n.Instrument = int(int32(x))
			case fieldNoteProgram:
				n.Program = int(int32(x))
			case fieldNoteIsDrum:
				n.IsDrum = x != 0
			}
		case protowire.Fixed64Type:
			switch num {
			case fieldNoteStartTime:
				n.StartTime = math.Float64frombits(x)
			case fieldNoteEndTime:
				n.EndTime = math.Float64frombits(x)
			}
		}
		return nil
	})
	return n, err
}

// walk visits every field of a message. Bytes fields are passed in v,
// varint and fixed fields in x.
func walk(data []byte, visit func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: invalid tag: %v", ErrDecode, protowire.ParseError(n))
		}
		data = data[n:]

		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(data)
		case protowire.Fixed32Type:
			var x32 uint32
			x32, n = protowire.ConsumeFixed32(data)
			x = uint64(x32)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := visit(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}
