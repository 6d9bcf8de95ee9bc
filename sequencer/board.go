package sequencer

import (
	"sync"

	"go-ripple/grid"
)

// Mark is a visual classification applied to a cell by the ripple effect
type Mark uint8

const (
	MarkSelf Mark = 1 << iota
	MarkNeighbor
	MarkSecondNeighbor
)

// Board holds the enabled cells plus the transient visual state (ripple
// marks and the active column). Writes happen on the loop; the TUI and the
// LED loop read snapshots from other goroutines.
type Board struct {
	mu      sync.RWMutex
	enabled [grid.GridSize][grid.GridSize]bool
	marks   [grid.GridSize][grid.GridSize]Mark
	columns [grid.GridSize]bool

	onChange func()
}

// NewBoard creates an empty board
func NewBoard() *Board {
	return &Board{}
}

// SetOnChange registers the callback fired after every visible change
func (b *Board) SetOnChange(fn func()) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Board) changed() {
	b.mu.RLock()
	fn := b.onChange
	b.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Enabled reports whether a cell is on. Off-board cells are never enabled.
func (b *Board) Enabled(c grid.Cell) bool {
	if !c.InBounds() {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled[c.Row][c.Col]
}

// Toggle flips a cell and returns its new state
func (b *Board) Toggle(c grid.Cell) bool {
	if !c.InBounds() {
		return false
	}
	b.mu.Lock()
	b.enabled[c.Row][c.Col] = !b.enabled[c.Row][c.Col]
	on := b.enabled[c.Row][c.Col]
	b.mu.Unlock()
	b.changed()
	return on
}

// SetEnabled sets a single cell
func (b *Board) SetEnabled(c grid.Cell, on bool) {
	if !c.InBounds() {
		return
	}
	b.mu.Lock()
	b.enabled[c.Row][c.Col] = on
	b.mu.Unlock()
	b.changed()
}

// Clear disables every cell
func (b *Board) Clear() {
	b.mu.Lock()
	b.enabled = [grid.GridSize][grid.GridSize]bool{}
	b.mu.Unlock()
	b.changed()
}

// Load clears the board then enables cells. Off-board cells are skipped.
func (b *Board) Load(cells []grid.Cell) {
	b.mu.Lock()
	b.enabled = [grid.GridSize][grid.GridSize]bool{}
	for _, c := range cells {
		if c.InBounds() {
			b.enabled[c.Row][c.Col] = true
		}
	}
	b.mu.Unlock()
	b.changed()
}

// ActiveCells returns enabled cells in row-major order
func (b *Board) ActiveCells() []grid.Cell {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cells := []grid.Cell{}
	for i := 0; i < grid.GridSize; i++ {
		for j := 0; j < grid.GridSize; j++ {
			if b.enabled[i][j] {
				cells = append(cells, grid.Cell{Row: i, Col: j})
			}
		}
	}
	return cells
}

// EnabledRows returns the enabled rows of a column, top to bottom
func (b *Board) EnabledRows(col int) []int {
	if col < 0 || col >= grid.GridSize {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var rows []int
	for i := 0; i < grid.GridSize; i++ {
		if b.enabled[i][col] {
			rows = append(rows, i)
		}
	}
	return rows
}

// AddMark applies a mark. Off-board cells are ignored.
func (b *Board) AddMark(c grid.Cell, m Mark) {
	if !c.InBounds() {
		return
	}
	b.mu.Lock()
	b.marks[c.Row][c.Col] |= m
	b.mu.Unlock()
	b.changed()
}

// RemoveMark clears a mark. Off-board cells are ignored.
func (b *Board) RemoveMark(c grid.Cell, m Mark) {
	if !c.InBounds() {
		return
	}
	b.mu.Lock()
	b.marks[c.Row][c.Col] &^= m
	b.mu.Unlock()
	b.changed()
}

// Marks returns the marks currently on a cell
func (b *Board) Marks(c grid.Cell) Mark {
	if !c.InBounds() {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.marks[c.Row][c.Col]
}

// MarkColumn shows the active-column marker on col
func (b *Board) MarkColumn(col int) {
	b.setColumn(col, true)
}

// UnmarkColumn removes the marker from col
func (b *Board) UnmarkColumn(col int) {
	b.setColumn(col, false)
}

func (b *Board) setColumn(col int, on bool) {
	if col < 0 || col >= grid.GridSize {
		return
	}
	b.mu.Lock()
	b.columns[col] = on
	b.mu.Unlock()
	b.changed()
}

// ClearColumns removes every column marker
func (b *Board) ClearColumns() {
	b.mu.Lock()
	b.columns = [grid.GridSize]bool{}
	b.mu.Unlock()
	b.changed()
}

// ColumnMarked reports whether col carries the active-column marker
func (b *Board) ColumnMarked(col int) bool {
	if col < 0 || col >= grid.GridSize {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.columns[col]
}

// BoardSnapshot is a copy of the board for rendering
type BoardSnapshot struct {
	Enabled [grid.GridSize][grid.GridSize]bool
	Marks   [grid.GridSize][grid.GridSize]Mark
	Columns [grid.GridSize]bool
}

// Snapshot copies the board state
func (b *Board) Snapshot() BoardSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BoardSnapshot{
		Enabled: b.enabled,
		Marks:   b.marks,
		Columns: b.columns,
	}
}
