// Package audio turns played cells into sound.
//
// The sequencer only needs two things from a synth: a one-time warm-up and
// "play this pitch for this long at this time". MIDIEngine does that over a
// MIDI out port, Silent discards everything.
package audio

import (
	"context"
	"time"
)

// Engine is the audio collaborator driven by the playback clock
type Engine interface {
	// WarmUp prepares the engine. Only the first successful call does work.
	WarmUp(ctx context.Context) error
	// TriggerNote plays pitch (e.g. "C4", "D#5") for a duration token
	// ("8n", "4n.", "16t") starting at at.
	TriggerNote(pitch, duration string, at time.Time) error
}

// TempoSetter is implemented by engines whose note lengths follow the tempo
type TempoSetter interface {
	SetTempo(bpm float64)
}

// Silent is an Engine that plays nothing
type Silent struct{}

func (Silent) WarmUp(context.Context) error { return nil }

func (Silent) TriggerNote(pitch, duration string, at time.Time) error {
	if _, err := ParsePitch(pitch); err != nil {
		return err
	}
	_, err := ParseDuration(duration, DefaultTempo)
	return err
}
