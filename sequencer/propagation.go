package sequencer

import (
	"time"

	"go-ripple/grid"
	"go-ripple/loop"
)

// PropagationSpeed is one ripple time unit
const PropagationSpeed = 50 * time.Millisecond

// Ripple timings, in multiples of PropagationSpeed:
//
//	self           on at 0     off at 1.5
//	first ring     on at 1     off at 3
//	second ring    on at 1.5   off at 3.5
const (
	selfFade      = PropagationSpeed * 3 / 2
	neighborDelay = PropagationSpeed
	secondDelay   = PropagationSpeed * 3 / 2
	ringFade      = PropagationSpeed * 2
)

// Propagator drives the ripple effect on a board. Every phase is an
// independent timer that only clears the mark it added.
type Propagator struct {
	sched loop.Scheduler
	rings *grid.Neighborhood
	board *Board
}

// NewPropagator creates a propagator for a board
func NewPropagator(sched loop.Scheduler, rings *grid.Neighborhood, board *Board) *Propagator {
	return &Propagator{sched: sched, rings: rings, board: board}
}

// Trigger starts a ripple centered on c. It returns immediately.
func (p *Propagator) Trigger(c grid.Cell) {
	r := p.rings.Rings(c)

	p.board.AddMark(c, MarkSelf)
	p.sched.AfterFunc(selfFade, func() {
		p.board.RemoveMark(c, MarkSelf)
	})

	p.sched.AfterFunc(neighborDelay, func() {
		p.pulse(r.First, MarkNeighbor)
	})
	p.sched.AfterFunc(secondDelay, func() {
		p.pulse(r.Second, MarkSecondNeighbor)
	})

	ripplesTriggered.Inc()
}

// pulse marks cells and schedules their fade
func (p *Propagator) pulse(cells []grid.Cell, m Mark) {
	for _, c := range cells {
		p.board.AddMark(c, m)
	}
	p.sched.AfterFunc(ringFade, func() {
		for _, c := range cells {
			p.board.RemoveMark(c, m)
		}
	})
}
