package audio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTempo is used for note lengths until SetTempo is called
const DefaultTempo = 120.0

var (
	ErrBadPitch    = errors.New("invalid pitch")
	ErrBadDuration = errors.New("invalid duration")
)

var semitones = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// ParsePitch converts a scientific pitch label to a MIDI note number.
// C4 is 60. Sharps (#) and flats (b) are accepted, octaves may be negative.
func ParsePitch(label string) (uint8, error) {
	if len(label) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadPitch, label)
	}

	semi, ok := semitones[label[0]]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadPitch, label)
	}

	rest := label[1:]
	switch rest[0] {
	case '#':
		semi++
		rest = rest[1:]
	case 'b':
		semi--
		rest = rest[1:]
	}

	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPitch, label)
	}

	note := (octave+1)*12 + semi
	if note < 0 || note > 127 {
		return 0, fmt.Errorf("%w: %q out of MIDI range", ErrBadPitch, label)
	}
	return uint8(note), nil
}

// ParseDuration converts a note-value token to wall time at bpm.
//
//	"4n"  quarter note
//	"8n." dotted eighth
//	"8t"  eighth triplet
//	"1m"  one 4/4 measure
func ParseDuration(token string, bpm float64) (time.Duration, error) {
	if bpm <= 0 {
		return 0, fmt.Errorf("%w: tempo %v", ErrBadDuration, bpm)
	}

	t := token
	dotted := strings.HasSuffix(t, ".")
	t = strings.TrimSuffix(t, ".")
	if len(t) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, token)
	}

	unit := t[len(t)-1]
	n, err := strconv.Atoi(t[:len(t)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, token)
	}

	beat := float64(time.Minute) / bpm
	var beats float64
	switch unit {
	case 'n':
		beats = 4 / float64(n)
	case 't':
		beats = 4 / float64(n) * 2 / 3
	case 'm':
		beats = 4 * float64(n)
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, token)
	}
	if dotted {
		beats *= 1.5
	}
	return time.Duration(beats * beat), nil
}
