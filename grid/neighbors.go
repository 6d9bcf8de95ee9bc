package grid

// Rings are the cells lit around a triggered cell.
// First is the Chebyshev distance 1 box without the center (8 cells).
// Second is the radius 2 box minus the radius 1 box (16 cells).
// Coordinates are not clamped to the board.
type Rings struct {
	First  []Cell
	Second []Cell
}

// RingsOf computes both rings for a cell
func RingsOf(c Cell) Rings {
	r := Rings{
		First:  make([]Cell, 0, 8),
		Second: make([]Cell, 0, 16),
	}
	for m := c.Row - 2; m <= c.Row+2; m++ {
		for n := c.Col - 2; n <= c.Col+2; n++ {
			if m == c.Row && n == c.Col {
				continue
			}
			if abs(m-c.Row) <= 1 && abs(n-c.Col) <= 1 {
				r.First = append(r.First, Cell{Row: m, Col: n})
			} else {
				r.Second = append(r.Second, Cell{Row: m, Col: n})
			}
		}
	}
	return r
}

// Neighborhood is a precomputed ring table for an n x n board
type Neighborhood struct {
	size  int
	rings [][]Rings
}

// NewNeighborhood precomputes rings for every cell of an n x n board
func NewNeighborhood(n int) *Neighborhood {
	nb := &Neighborhood{
		size:  n,
		rings: make([][]Rings, n),
	}
	for i := 0; i < n; i++ {
		nb.rings[i] = make([]Rings, n)
		for j := 0; j < n; j++ {
			nb.rings[i][j] = RingsOf(Cell{Row: i, Col: j})
		}
	}
	return nb
}

// Size returns the board dimension the table was built for
func (nb *Neighborhood) Size() int {
	return nb.size
}

// Rings returns the precomputed rings. Cells off the table are computed on
// the fly so callers never get an empty result for a symbolic coordinate.
func (nb *Neighborhood) Rings(c Cell) Rings {
	if c.InBoundsOf(nb.size) {
		return nb.rings[c.Row][c.Col]
	}
	return RingsOf(c)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
