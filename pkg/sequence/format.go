package sequence

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format represents a performance file format
type Format string

const (
	FormatMIDI         Format = "midi"
	FormatNoteSequence Format = "notesequence"
	FormatUnknown      Format = "unknown"
)

// DetectFormat detects the format of a file based on its extension
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mid", ".midi":
		return FormatMIDI
	case ".pb", ".ns", ".notesequence":
		return FormatNoteSequence
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects format from file content
func DetectFormatFromContent(data []byte) Format {
	if len(data) >= 4 && string(data[:4]) == "MThd" {
		return FormatMIDI
	}
	if len(data) == 0 {
		return FormatUnknown
	}
	// Anything else is assumed to be a serialized NoteSequence
	return FormatNoteSequence
}

// Decode parses a performance file, detecting its format from the name and
// falling back to the content. The sequence is named after the file.
func Decode(filename string, data []byte) (*Sequence, error) {
	format := DetectFormat(filename)
	if format == FormatUnknown {
		format = DetectFormatFromContent(data)
	}

	name := filepath.Base(filename)
	switch format {
	case FormatMIDI:
		return DecodeMIDI(name, data)
	case FormatNoteSequence:
		seq, err := Unmarshal(data)
		if err != nil {
			return nil, err
		}
		seq.Name = name
		Sanitize(seq)
		return seq, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized file %q", ErrDecode, filename)
	}
}
