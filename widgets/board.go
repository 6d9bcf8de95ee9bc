package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"go-ripple/grid"
	"go-ripple/sequencer"
	"go-ripple/theme"
)

// RenderPad renders a single colored pad
func RenderPad(color [3]uint8, symbol rune) string {
	return lipgloss.NewStyle().Foreground(theme.Hex(color)).Render(string(symbol))
}

// BoardView is everything needed to draw the board
type BoardView struct {
	Snapshot sequencer.BoardSnapshot
	Tuning   [3]uint8
	Cursor   grid.Cell
	Page     int // quadrant mirrored on the pad controller
	Playing  bool
	Column   int
}

// RenderBoard draws the 16x16 board with a column marker row on top and
// the pitch label of each row on the right
func RenderBoard(v BoardView, th *theme.Theme, labels [grid.GridSize]string) string {
	var lines []string
	muted := lipgloss.NewStyle().Foreground(th.Muted())
	origin := sequencer.PageOrigin(v.Page)

	var marker strings.Builder
	for col := 0; col < grid.GridSize; col++ {
		if v.Playing && col == v.Column {
			marker.WriteString(lipgloss.NewStyle().Foreground(th.Accent()).Render(string(th.Symbols.ColumnMarker)))
		} else {
			marker.WriteString(" ")
		}
		marker.WriteString(" ")
	}
	lines = append(lines, marker.String())

	for row := 0; row < grid.GridSize; row++ {
		var line strings.Builder
		for col := 0; col < grid.GridSize; col++ {
			c := grid.Cell{Row: row, Col: col}
			line.WriteString(renderCell(v, th, c))

			sep := " "
			if col == origin.Col-1 || col == origin.Col+7 {
				if row >= origin.Row && row < origin.Row+8 {
					sep = muted.Render("│")
				}
			}
			if col < grid.GridSize-1 {
				line.WriteString(sep)
			}
		}
		line.WriteString("  ")
		line.WriteString(muted.Render(fmt.Sprintf("%-4s", labels[row])))
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

func renderCell(v BoardView, th *theme.Theme, c grid.Cell) string {
	color := sequencer.CellColor(v.Snapshot, c, v.Tuning)
	on := v.Snapshot.Enabled[c.Row][c.Col]

	if c == v.Cursor {
		sym := th.Symbols.CursorOff
		if on {
			sym = th.Symbols.CursorOn
		}
		return lipgloss.NewStyle().Foreground(th.Cursor()).Render(string(sym))
	}

	if color == ([3]uint8{}) {
		return lipgloss.NewStyle().Foreground(th.Muted()).Render(string(th.Symbols.CellOff))
	}
	return RenderPad(color, th.Symbols.CellOn)
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}
