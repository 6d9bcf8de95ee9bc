package sequencer

import (
	"go-ripple/grid"
	"go-ripple/midi"
)

// LEDState describes the state of a single LED
type LEDState struct {
	Row, Col int
	Color    [3]uint8 // RGB color - controller maps to its palette
	Channel  uint8    // 0=static, 2=pulse
}

// Pad grid geometry: an 8x8 window onto the board plus a top row of
// buttons (row 8) used for paging and transport
const (
	padSize    = 8
	padTopRow  = 8
	padPlayCol = 7
	numPages   = 4
)

var (
	colorSelf     = [3]uint8{255, 255, 255}
	colorColumn   = [3]uint8{60, 60, 80}
	colorOff      = [3]uint8{0, 0, 0}
	colorPage     = [3]uint8{40, 60, 120}
	colorPageSel  = [3]uint8{100, 100, 255}
	colorPlaying  = [3]uint8{0, 255, 0}
	colorStopped  = [3]uint8{0, 100, 0}
	neighborBoost = 0.6
	secondBoost   = 0.3
)

// CellColor is the RGB shown for a cell: ripple marks first, then the
// enabled state in the tuning color, then the column marker
func CellColor(snap BoardSnapshot, c grid.Cell, tuning [3]uint8) [3]uint8 {
	if !c.InBounds() {
		return colorOff
	}
	marks := snap.Marks[c.Row][c.Col]
	base := colorOff
	if snap.Enabled[c.Row][c.Col] {
		base = tuning
	} else if snap.Columns[c.Col] {
		base = colorColumn
	}

	switch {
	case marks&MarkSelf != 0:
		return colorSelf
	case marks&MarkNeighbor != 0:
		return towardWhite(orBase(base, tuning), neighborBoost)
	case marks&MarkSecondNeighbor != 0:
		return towardWhite(orBase(base, tuning), secondBoost)
	}
	return base
}

// orBase lights unlit cells in a dim tuning color so the ripple shows
func orBase(base, tuning [3]uint8) [3]uint8 {
	if base == colorOff {
		return [3]uint8{tuning[0] / 3, tuning[1] / 3, tuning[2] / 3}
	}
	return base
}

func towardWhite(c [3]uint8, t float64) [3]uint8 {
	var out [3]uint8
	for i := range c {
		out[i] = c[i] + uint8(float64(255-c[i])*t)
	}
	return out
}

// PageOrigin returns the top-left board cell of a pad page
func PageOrigin(page int) grid.Cell {
	page = ((page % numPages) + numPages) % numPages
	return grid.Cell{Row: (page / 2) * padSize, Col: (page % 2) * padSize}
}

// PadToCell maps a pad (row 0 at the bottom) on a page to a board cell
func PadToCell(page, row, col int) (grid.Cell, bool) {
	if row < 0 || row >= padSize || col < 0 || col >= padSize {
		return grid.Cell{}, false
	}
	o := PageOrigin(page)
	return grid.Cell{Row: o.Row + (padSize - 1 - row), Col: o.Col + col}, true
}

// renderLEDs builds the full pad state for a page
func renderLEDs(snap BoardSnapshot, tuning [3]uint8, page int, playing bool) []LEDState {
	leds := make([]LEDState, 0, padSize*padSize+padSize)

	for row := 0; row < padSize; row++ {
		for col := 0; col < padSize; col++ {
			c, _ := PadToCell(page, row, col)
			color := CellColor(snap, c, tuning)
			if color == colorOff {
				continue
			}
			leds = append(leds, LEDState{Row: row, Col: col, Color: color})
		}
	}

	for p := 0; p < numPages; p++ {
		color := colorPage
		if p == page {
			color = colorPageSel
		}
		leds = append(leds, LEDState{Row: padTopRow, Col: p, Color: color})
	}

	play := LEDState{Row: padTopRow, Col: padPlayCol, Color: colorStopped}
	if playing {
		play.Color = colorPlaying
		play.Channel = midi.ChannelPulse
	}
	return append(leds, play)
}
