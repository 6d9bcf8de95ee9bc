// Package grid holds the fixed geometry of the sequencer: cell coordinates,
// the neighborhood rings used by the ripple effect and the tuning table that
// maps rows to pitches.
package grid

import (
	"encoding/json"
	"fmt"
)

// GridSize is the number of rows and columns on the board
const GridSize = 16

// Cell is a (row, column) coordinate. Cells outside the board are allowed
// as symbolic values (neighbor rings of edge cells contain them).
type Cell struct {
	Row int
	Col int
}

// InBounds reports whether the cell lies on a GridSize board
func (c Cell) InBounds() bool {
	return c.InBoundsOf(GridSize)
}

// InBoundsOf reports whether the cell lies on an n x n board
func (c Cell) InBoundsOf(n int) bool {
	return c.Row >= 0 && c.Row < n && c.Col >= 0 && c.Col < n
}

func (c Cell) String() string {
	return fmt.Sprintf("%d-%d", c.Row, c.Col)
}

// MarshalJSON encodes the cell as [row, col]
func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{c.Row, c.Col})
}

// UnmarshalJSON accepts exactly two integers: [row, col]
func (c *Cell) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("cell: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("cell: want 2 coordinates, got %d", len(pair))
	}
	c.Row, c.Col = pair[0], pair[1]
	return nil
}

// Distinct returns cells with duplicates removed, keeping first occurrences
func Distinct(cells []Cell) []Cell {
	seen := make(map[Cell]bool, len(cells))
	out := make([]Cell, 0, len(cells))
	for _, c := range cells {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
