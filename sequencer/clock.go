package sequencer

import (
	"context"
	"fmt"
	"math"
	"time"

	"go-ripple/audio"
	"go-ripple/debug"
	"go-ripple/grid"
	"go-ripple/loop"
)

const (
	DefaultTempo = 120.0
	noteLength   = "8n"
)

// PlayInterval returns the column interval for a tempo: 500 / (tempo/60) ms
func PlayInterval(tempo float64) (time.Duration, error) {
	if err := checkTempo(tempo); err != nil {
		return 0, err
	}
	return time.Duration(float64(time.Millisecond) * 500 / (tempo / 60)), nil
}

func checkTempo(tempo float64) error {
	if tempo <= 0 || math.IsNaN(tempo) || math.IsInf(tempo, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, tempo)
	}
	return nil
}

// Clock is the playback state machine. It runs on the loop: every method
// must be called from a loop task.
//
// Ticks are scheduled against absolute deadlines so a late tick does not
// push every following column back. A generation counter discards ticks
// that were already queued when the driver was cancelled.
type Clock struct {
	sched loop.Scheduler
	board *Board
	prop  *Propagator
	audio audio.Engine

	tempo    float64
	tuning   grid.Tuning
	running  bool
	column   int
	warmed   bool
	timer    loop.Timer
	gen      uint64
	lastTick time.Time

	onColumn func(col int)
}

// NewClock creates a stopped clock at DefaultTempo and the default tuning
func NewClock(sched loop.Scheduler, board *Board, prop *Propagator, engine audio.Engine) *Clock {
	tuning, _ := grid.LookupTuning(string(grid.DefaultTuning))
	return &Clock{
		sched:  sched,
		board:  board,
		prop:   prop,
		audio:  engine,
		tempo:  DefaultTempo,
		tuning: tuning,
	}
}

// SetOnColumn registers a callback fired after each played column
func (c *Clock) SetOnColumn(fn func(col int)) {
	c.onColumn = fn
}

// Running reports whether the clock is playing
func (c *Clock) Running() bool { return c.running }

// Column returns the column cursor
func (c *Clock) Column() int { return c.column }

// Tempo returns the tempo in beats per minute
func (c *Clock) Tempo() float64 { return c.tempo }

// Tuning returns the current tuning
func (c *Clock) Tuning() grid.Tuning { return c.tuning }

// Interval returns the current column interval
func (c *Clock) Interval() time.Duration {
	iv, _ := PlayInterval(c.tempo)
	return iv
}

// Start plays the cursor column now and then one column per interval.
// The first Start warms the audio engine up before anything plays.
func (c *Clock) Start(ctx context.Context) {
	if c.running {
		return
	}

	c.warmUp(ctx)

	c.running = true
	now := c.sched.Now()
	c.lastTick = now
	c.playColumn("start")
	c.schedule(now.Add(c.Interval()))
	debug.Log("clock", "start col=%d tempo=%.1f interval=%s", c.column, c.tempo, c.Interval())
}

// Stop cancels the driver. reset moves the cursor back to column 0.
// Column markers are always cleared.
func (c *Clock) Stop(reset bool) {
	c.cancel()
	c.running = false
	if reset {
		c.column = 0
	}
	c.board.ClearColumns()
	debug.Log("clock", "stop reset=%v col=%d", reset, c.column)
}

// Toggle flips between running and stopped, resetting the cursor on stop
func (c *Clock) Toggle(ctx context.Context) {
	if c.running {
		c.Stop(true)
		return
	}
	c.Start(ctx)
}

// SetTempo changes the tempo. While running the driver is re-armed so the
// next column lands one new interval after the last one played.
func (c *Clock) SetTempo(tempo float64) error {
	if err := checkTempo(tempo); err != nil {
		return err
	}
	c.tempo = tempo
	if ts, ok := c.audio.(audio.TempoSetter); ok {
		ts.SetTempo(tempo)
	}
	if c.running {
		c.restart()
	}
	return nil
}

// SetTuning switches the row to pitch mapping
func (c *Clock) SetTuning(name string) error {
	tuning, ok := grid.LookupTuning(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTuning, name)
	}
	c.tuning = tuning
	if c.running {
		c.restart()
	}
	return nil
}

// restart replaces the driver without replaying or skipping a column
func (c *Clock) restart() {
	c.cancel()
	c.schedule(c.lastTick.Add(c.Interval()))
	clockRestarts.Inc()
	debug.Log("clock", "restart col=%d tempo=%.1f tuning=%s", c.column, c.tempo, c.tuning.Name)
}

func (c *Clock) cancel() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Clock) schedule(deadline time.Time) {
	now := c.sched.Now()
	if deadline.Before(now) {
		deadline = now
	}
	gen := c.gen
	c.timer = c.sched.AfterFunc(deadline.Sub(now), func() {
		c.tick(gen, deadline)
	})
}

func (c *Clock) tick(gen uint64, deadline time.Time) {
	if !c.running || gen != c.gen {
		return
	}
	tickLag.Observe(c.sched.Now().Sub(deadline).Seconds())

	c.lastTick = deadline
	c.column = (c.column + 1) % grid.GridSize
	c.playColumn("tick")
	c.schedule(deadline.Add(c.Interval()))
}

func (c *Clock) warmUp(ctx context.Context) {
	if c.warmed {
		return
	}
	if err := c.audio.WarmUp(ctx); err != nil {
		debug.Warn("clock", "audio warm-up failed: %v", err)
		return
	}
	c.warmed = true
}

// playColumn ripples and sounds every enabled cell of the cursor column
// and moves the column marker onto it
func (c *Clock) playColumn(cause string) {
	col := c.column
	prev := (col - 1 + grid.GridSize) % grid.GridSize

	c.board.UnmarkColumn(prev)
	c.board.MarkColumn(col)

	now := c.sched.Now()
	for _, row := range c.board.EnabledRows(col) {
		c.prop.Trigger(grid.Cell{Row: row, Col: col})

		pitch := c.tuning.Pitch(row)
		if err := c.audio.TriggerNote(pitch, noteLength, now); err != nil {
			notesTriggered.WithLabelValues("error").Inc()
			debug.LogEvery(16, "clock", "note %s failed: %v", pitch, err)
			continue
		}
		notesTriggered.WithLabelValues("ok").Inc()
	}

	clockTicks.WithLabelValues(cause).Inc()
	debug.LogEvery(64, "clock", "col=%d", col)

	if c.onColumn != nil {
		c.onColumn(col)
	}
}
