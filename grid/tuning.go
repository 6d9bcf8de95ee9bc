package grid

// TuningName identifies one of the built-in tunings
type TuningName string

const (
	TuningMajorPentatonic TuningName = "major-pentatonic"
	TuningMinorPentatonic TuningName = "minor-pentatonic"
	TuningMajor           TuningName = "major"
	TuningMinor           TuningName = "minor"
	TuningBlues           TuningName = "blues"
	TuningChromatic       TuningName = "chromatic"
)

// DefaultTuning is used until the user picks one
const DefaultTuning = TuningMajorPentatonic

// Tuning maps every row to a pitch label. Row 0 is the top of the board and
// carries the highest pitch.
type Tuning struct {
	Name    TuningName
	Label   string
	Pitches [GridSize]string
	Color   [3]uint8
}

// Pitch returns the pitch label for a row ("" if off the board)
func (t Tuning) Pitch(row int) string {
	if row < 0 || row >= GridSize {
		return ""
	}
	return t.Pitches[row]
}

// topDown turns a low-to-high scale into row order
func topDown(ascending [GridSize]string) [GridSize]string {
	var rows [GridSize]string
	for i, p := range ascending {
		rows[GridSize-1-i] = p
	}
	return rows
}

// tunings contains all available tunings
var tunings = map[TuningName]Tuning{
	TuningMajorPentatonic: {
		Name:  TuningMajorPentatonic,
		Label: "C major pentatonic",
		Pitches: topDown([GridSize]string{
			"C3", "D3", "E3", "G3", "A3",
			"C4", "D4", "E4", "G4", "A4",
			"C5", "D5", "E5", "G5", "A5",
			"C6",
		}),
		Color: [3]uint8{92, 200, 255},
	},
	TuningMinorPentatonic: {
		Name:  TuningMinorPentatonic,
		Label: "A minor pentatonic",
		Pitches: topDown([GridSize]string{
			"A2", "C3", "D3", "E3", "G3",
			"A3", "C4", "D4", "E4", "G4",
			"A4", "C5", "D5", "E5", "G5",
			"A5",
		}),
		Color: [3]uint8{180, 110, 255},
	},
	TuningMajor: {
		Name:  TuningMajor,
		Label: "C major",
		Pitches: topDown([GridSize]string{
			"C3", "D3", "E3", "F3", "G3", "A3", "B3",
			"C4", "D4", "E4", "F4", "G4", "A4", "B4",
			"C5", "D5",
		}),
		Color: [3]uint8{255, 200, 60},
	},
	TuningMinor: {
		Name:  TuningMinor,
		Label: "A natural minor",
		Pitches: topDown([GridSize]string{
			"A2", "B2", "C3", "D3", "E3", "F3", "G3",
			"A3", "B3", "C4", "D4", "E4", "F4", "G4",
			"A4", "B4",
		}),
		Color: [3]uint8{60, 220, 160},
	},
	TuningBlues: {
		Name:  TuningBlues,
		Label: "C blues",
		Pitches: topDown([GridSize]string{
			"C3", "Eb3", "F3", "F#3", "G3", "Bb3",
			"C4", "Eb4", "F4", "F#4", "G4", "Bb4",
			"C5", "Eb5", "F5", "F#5",
		}),
		Color: [3]uint8{70, 110, 255},
	},
	TuningChromatic: {
		Name:  TuningChromatic,
		Label: "Chromatic from C4",
		Pitches: topDown([GridSize]string{
			"C4", "C#4", "D4", "D#4", "E4", "F4", "F#4", "G4",
			"G#4", "A4", "A#4", "B4", "C5", "C#5", "D5", "D#5",
		}),
		Color: [3]uint8{255, 90, 120},
	},
}

// TuningNames returns the tunings in display order
func TuningNames() []TuningName {
	return []TuningName{
		TuningMajorPentatonic,
		TuningMinorPentatonic,
		TuningMajor,
		TuningMinor,
		TuningBlues,
		TuningChromatic,
	}
}

// LookupTuning returns the tuning with the given name
func LookupTuning(name string) (Tuning, bool) {
	t, ok := tunings[TuningName(name)]
	return t, ok
}

// NextTuning cycles through TuningNames
func NextTuning(current TuningName) TuningName {
	names := TuningNames()
	for i, n := range names {
		if n == current {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}
