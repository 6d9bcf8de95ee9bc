package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-ripple/audio"
	"go-ripple/debug"
	"go-ripple/grid"
	"go-ripple/loop"
	"go-ripple/midi"
	"go-ripple/session"
)

// Manager is the session context: it owns the board, the playback clock,
// the ripple propagator and the session engine, and exposes them to the
// TUI and the grid controller. Everything that mutates state is executed
// on the loop.
type Manager struct {
	exec    loop.Executor
	board   *Board
	prop    *Propagator
	clock   *Clock
	session *session.Engine
	ctx     context.Context

	controller midi.Controller
	mu         sync.Mutex
	page       int
	playing    bool
	tuning     [3]uint8
	ledDirty   bool                // true if LEDs need refresh
	prevLEDs   map[[2]int]LEDState // for diffing

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// State is what the presentation layer shows about playback
type State struct {
	Playing bool
	Column  int
	Tempo   float64
	Tuning  grid.Tuning
	Page    int
}

// LED refresh rate
const ledFPS = 30

// NewManager wires a session context around an executor
func NewManager(exec loop.Executor, engine *session.Engine, player audio.Engine) *Manager {
	board := NewBoard()
	prop := NewPropagator(exec, grid.NewNeighborhood(grid.GridSize), board)
	m := &Manager{
		exec:       exec,
		board:      board,
		prop:       prop,
		clock:      NewClock(exec, board, prop, player),
		session:    engine,
		ctx:        context.Background(),
		prevLEDs:   make(map[[2]int]LEDState),
		UpdateChan: make(chan struct{}, 1),
	}
	m.tuning = m.clock.Tuning().Color

	board.SetOnChange(m.notifyUpdate)
	engine.SetOnUpdate(m.notifyUpdate)
	return m
}

// StartRuntime signs in and subscribes to the store (called once at
// startup)
func (m *Manager) StartRuntime(ctx context.Context, name string) error {
	m.ctx = ctx

	err := m.onLoop(func() error {
		if err := m.session.SignIn(ctx, name); err != nil {
			return err
		}
		m.session.Subscribe(ctx, m.exec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	return nil
}

// Board exposes the board for rendering
func (m *Manager) Board() *Board {
	return m.board
}

// Enabled reports whether a cell is on
func (m *Manager) Enabled(c grid.Cell) bool {
	return m.board.Enabled(c)
}

// Toggle flips a cell; switching a cell on ripples from it
func (m *Manager) Toggle(c grid.Cell) {
	m.exec.Call(func() {
		if m.board.Toggle(c) {
			m.prop.Trigger(c)
		}
	})
}

// Clear disables every cell
func (m *Manager) Clear() {
	m.exec.Call(m.board.Clear)
}

// TogglePlay starts or stops playback (stop rewinds to column 0)
func (m *Manager) TogglePlay() {
	m.exec.Call(func() {
		m.clock.Toggle(m.ctx)
		m.syncClockState()
	})
}

// Stop halts playback and rewinds
func (m *Manager) Stop() {
	m.exec.Call(func() {
		m.clock.Stop(true)
		m.syncClockState()
	})
}

// SetTempo changes the tempo; invalid values keep the previous one
func (m *Manager) SetTempo(tempo float64) error {
	var err error
	m.exec.Call(func() {
		err = m.clock.SetTempo(tempo)
	})
	m.notifyUpdate()
	return err
}

// SetTuning switches tuning; unknown names keep the previous one
func (m *Manager) SetTuning(name string) error {
	var err error
	m.exec.Call(func() {
		err = m.clock.SetTuning(name)
		m.syncClockState()
	})
	return err
}

// NextTuning cycles to the following tuning
func (m *Manager) NextTuning() error {
	return m.SetTuning(string(grid.NextTuning(m.State().Tuning.Name)))
}

// State returns the playback state (zero once the loop stopped)
func (m *Manager) State() State {
	s, _ := m.CurrentState()
	return s
}

// CurrentState is State plus whether the loop was still running to
// answer
func (m *Manager) CurrentState() (State, bool) {
	var s State
	ok := m.exec.Call(func() {
		s = State{
			Playing: m.clock.Running(),
			Column:  m.clock.Column(),
			Tempo:   m.clock.Tempo(),
			Tuning:  m.clock.Tuning(),
		}
	})
	m.mu.Lock()
	s.Page = m.page
	m.mu.Unlock()
	return s, ok
}

// syncClockState mirrors clock state read by the LED loop (on the loop)
func (m *Manager) syncClockState() {
	m.mu.Lock()
	m.playing = m.clock.Running()
	m.tuning = m.clock.Tuning().Color
	m.ledDirty = true
	m.mu.Unlock()
	m.notifyUpdate()
}

// SaveAs stores the board, tempo and tuning as a new preset
func (m *Manager) SaveAs(name string) (session.Save, error) {
	var (
		s   session.Save
		err error
	)
	m.exec.Call(func() {
		s = session.NewSave(name, m.clock.Tuning().Name, m.clock.Tempo(), m.board.ActiveCells())
		err = m.session.AddSave(m.ctx, s)
	})
	return s, err
}

// Load applies a preset: tuning and tempo are checked first so a bad save
// changes nothing, then the board is cleared and the saved cells enabled
func (m *Manager) Load(id string) error {
	var err error
	m.exec.Call(func() {
		err = m.load(id)
	})
	return err
}

func (m *Manager) load(id string) error {
	s, ok := m.session.FindSave(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSave, id)
	}
	if _, ok := grid.LookupTuning(s.Tuning); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTuning, s.Tuning)
	}
	if err := checkTempo(s.Tempo); err != nil {
		return err
	}

	m.board.Load(s.ActiveGridItems)
	if err := m.clock.SetTuning(s.Tuning); err != nil {
		return err
	}
	if err := m.clock.SetTempo(s.Tempo); err != nil {
		return err
	}
	m.syncClockState()
	debug.Log("session", "loaded save %q cells=%d", s.Name, len(s.ActiveGridItems))
	return nil
}

// DeleteSave removes a preset
func (m *Manager) DeleteSave(id string) error {
	return m.onLoop(func() error { return m.session.DeleteSave(m.ctx, id) })
}

// Block mutes the participant whose record id is targetID. A participant
// that vanished in the meantime is only logged.
func (m *Manager) Block(targetID string) error {
	return m.onLoop(func() error { return m.session.Block(m.ctx, targetID) })
}

// Undeny lifts a block on a transport address
func (m *Manager) Undeny(address string) error {
	return m.onLoop(func() error { return m.session.Undeny(m.ctx, address) })
}

// SetName renames the local participant
func (m *Manager) SetName(name string) error {
	return m.onLoop(func() error { return m.session.SetName(m.ctx, name) })
}

func (m *Manager) onLoop(fn func() error) error {
	var err error
	if !m.exec.Call(func() { err = fn() }) {
		return context.Canceled
	}
	return err
}

// Saves returns the local presets
func (m *Manager) Saves() []session.Save {
	local := m.session.Local()
	if local == nil {
		return nil
	}
	return local.Saves
}

// Local returns the local record (nil before sign-in)
func (m *Manager) Local() *session.Record {
	return m.session.Local()
}

// Participants returns the live, validated participant list
func (m *Manager) Participants() []session.Participant {
	return m.session.Participants()
}

// Connections returns the transport connection count
func (m *Manager) Connections() int {
	return m.session.ConnectionCount()
}

// PublicKey returns the local transport identity
func (m *Manager) PublicKey() string {
	return m.session.PublicKey()
}

// SetPage selects which quadrant of the board the pad grid shows
func (m *Manager) SetPage(page int) {
	if page < 0 || page >= numPages {
		return
	}
	m.mu.Lock()
	m.page = page
	m.ledDirty = true
	m.mu.Unlock()
	m.notifyUpdate()
}

// HandlePad routes a pad press: grid pads toggle cells on the current
// page, top-row buttons 0-3 pick the page and button 7 plays/stops
func (m *Manager) HandlePad(row, col int) {
	if row == padTopRow {
		switch {
		case col < numPages:
			m.SetPage(col)
		case col == padPlayCol:
			m.TogglePlay()
		}
		return
	}

	m.mu.Lock()
	page := m.page
	m.mu.Unlock()

	if c, ok := PadToCell(page, row, col); ok {
		m.Toggle(c)
	}
}

// SetController sets the grid controller for LED feedback
func (m *Manager) SetController(c midi.Controller) {
	debug.Log("ctrl", "SetController called, resetting diff state")
	m.mu.Lock()
	m.controller = c
	m.prevLEDs = make(map[[2]int]LEDState) // reset state - diff will handle clearing
	m.ledDirty = true
	m.mu.Unlock()
}

// RunLEDs flushes LED updates at a fixed rate until ctx ends
func (m *Manager) RunLEDs(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / ledFPS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.mu.Lock()
			dirty := m.ledDirty
			m.ledDirty = false
			m.mu.Unlock()

			if dirty {
				m.flushLEDs()
			}
		}
	}
}

// flushLEDs sends only changed LEDs to the controller (diffing + batching)
func (m *Manager) flushLEDs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controller == nil {
		return
	}

	newLEDs := renderLEDs(m.board.Snapshot(), m.tuning, m.page, m.playing)
	updates := diffLEDs(m.prevLEDs, newLEDs)
	if len(updates) > 0 {
		debug.Log("led", "flushLEDs: batch=%d prev=%d", len(updates), len(m.prevLEDs))
		if err := m.controller.SetLEDBatch(updates); err != nil {
			debug.Warn("led", "send: %v", err)
		}
	}

	m.prevLEDs = make(map[[2]int]LEDState, len(newLEDs))
	for _, led := range newLEDs {
		m.prevLEDs[[2]int{led.Row, led.Col}] = led
	}
}

// diffLEDs returns updates for changed LEDs plus blackouts for LEDs that
// are no longer lit
func diffLEDs(prev map[[2]int]LEDState, next []LEDState) []midi.LEDUpdate {
	var updates []midi.LEDUpdate
	seen := make(map[[2]int]bool, len(next))

	for _, led := range next {
		key := [2]int{led.Row, led.Col}
		seen[key] = true
		if p, ok := prev[key]; !ok || p != led {
			updates = append(updates, midi.LEDUpdate{
				Row:     led.Row,
				Col:     led.Col,
				Color:   led.Color,
				Channel: led.Channel,
			})
		}
	}

	for key := range prev {
		if !seen[key] {
			updates = append(updates, midi.LEDUpdate{Row: key[0], Col: key[1]})
		}
	}
	return updates
}

// notifyUpdate refreshes LEDs and notifies TUI
func (m *Manager) notifyUpdate() {
	m.mu.Lock()
	m.ledDirty = true
	m.mu.Unlock()

	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}

// Close stops playback and signs out
func (m *Manager) Close() {
	m.exec.Call(func() {
		m.clock.Stop(true)
		m.session.SignOut()
	})
	m.SetController(nil)
}
