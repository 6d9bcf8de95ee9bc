package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingsOfCenter(t *testing.T) {
	r := RingsOf(Cell{Row: 5, Col: 5})

	require.Len(t, r.First, 8)
	require.Len(t, r.Second, 16)

	assert.Contains(t, r.First, Cell{Row: 4, Col: 4})
	assert.Contains(t, r.First, Cell{Row: 6, Col: 5})
	assert.Contains(t, r.Second, Cell{Row: 3, Col: 3})
	assert.Contains(t, r.Second, Cell{Row: 7, Col: 6})
	assert.NotContains(t, r.Second, Cell{Row: 4, Col: 5})
}

func TestRingsOfCornerKeepsSymbolicCells(t *testing.T) {
	r := RingsOf(Cell{Row: 0, Col: 0})

	// no clamping: off-board coordinates stay in the rings
	assert.Len(t, r.First, 8)
	assert.Len(t, r.Second, 16)
	assert.Contains(t, r.First, Cell{Row: -1, Col: -1})
	assert.Contains(t, r.Second, Cell{Row: -2, Col: 2})

	assert.Equal(t, 3, countInBounds(r.First, GridSize))
	assert.Equal(t, 5, countInBounds(r.Second, GridSize))
}

func TestNeighborhoodProperties(t *testing.T) {
	for _, n := range []int{5, 6, 9, GridSize} {
		nb := NewNeighborhood(n)
		require.Equal(t, n, nb.Size())

		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				self := Cell{Row: i, Col: j}
				r := nb.Rings(self)

				first := make(map[Cell]bool)
				for _, c := range r.First {
					first[c] = true
				}
				assert.False(t, first[self], "first ring of %v contains itself", self)
				for _, c := range r.Second {
					assert.NotEqual(t, self, c)
					assert.False(t, first[c], "rings of %v overlap at %v", self, c)
				}

				assert.LessOrEqual(t, countInBounds(r.First, n), 8)
				assert.LessOrEqual(t, countInBounds(r.Second, n), 16)
			}
		}
	}
}

func TestNeighborhoodOffBoardCell(t *testing.T) {
	nb := NewNeighborhood(GridSize)
	r := nb.Rings(Cell{Row: -3, Col: 20})
	assert.Len(t, r.First, 8)
	assert.Len(t, r.Second, 16)
}

func countInBounds(cells []Cell, n int) int {
	count := 0
	for _, c := range cells {
		if c.InBoundsOf(n) {
			count++
		}
	}
	return count
}
