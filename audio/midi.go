package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"go-ripple/debug"
)

var (
	ErrNoPort      = errors.New("no MIDI output port")
	ErrNotWarmedUp = errors.New("audio engine not warmed up")
	ErrPortTimeout = errors.New("timed out listing MIDI ports")
)

const defaultVelocity uint8 = 100

// portScanTimeout bounds driver port listing, which can hang on a stuck
// CoreMIDI server
const portScanTimeout = 3 * time.Second

// MIDIEngine plays notes on a MIDI out port
type MIDIEngine struct {
	portName string
	channel  uint8 // 0-based

	mu     sync.Mutex
	tempo  float64
	send   func(gomidi.Message) error
	opened string
	timers map[*time.Timer]struct{}

	// open resolves and opens the out port; replaced in tests
	open func(ctx context.Context, name string) (func(gomidi.Message) error, string, error)
}

// NewMIDIEngine creates an engine for portName (empty = first port) on a
// 1-based MIDI channel
func NewMIDIEngine(portName string, channel int) *MIDIEngine {
	if channel < 1 || channel > 16 {
		channel = 1
	}
	return &MIDIEngine{
		portName: portName,
		channel:  uint8(channel - 1),
		tempo:    DefaultTempo,
		timers:   make(map[*time.Timer]struct{}),
		open:     openOutPort,
	}
}

// WarmUp opens the out port. Later calls are no-ops once a port is open.
func (e *MIDIEngine) WarmUp(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.send != nil {
		return nil
	}

	send, name, err := e.open(ctx, e.portName)
	if err != nil {
		return fmt.Errorf("warm up: %w", err)
	}
	e.send = send
	e.opened = name
	debug.Log("audio", "opened out port %q ch=%d", name, e.channel+1)
	return nil
}

// Port returns the name of the opened port ("" before warm-up)
func (e *MIDIEngine) Port() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// SetTempo sets the tempo used to resolve note lengths
func (e *MIDIEngine) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	e.mu.Lock()
	e.tempo = bpm
	e.mu.Unlock()
}

// TriggerNote sends NoteOn at at and NoteOff once duration elapsed
func (e *MIDIEngine) TriggerNote(pitch, duration string, at time.Time) error {
	note, err := ParsePitch(pitch)
	if err != nil {
		return err
	}

	e.mu.Lock()
	send := e.send
	length, err := ParseDuration(duration, e.tempo)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if send == nil {
		return ErrNotWarmedUp
	}

	ch := e.channel
	delay := time.Until(at)
	if delay <= 0 {
		if err := send(gomidi.NoteOn(ch, note, defaultVelocity)); err != nil {
			return fmt.Errorf("note on %s: %w", pitch, err)
		}
		delay = 0
	} else {
		e.after(delay, func() {
			if err := send(gomidi.NoteOn(ch, note, defaultVelocity)); err != nil {
				debug.Warn("audio", "note on %s: %v", pitch, err)
			}
		})
	}

	e.after(delay+length, func() {
		if err := send(gomidi.NoteOff(ch, note)); err != nil {
			debug.Warn("audio", "note off %s: %v", pitch, err)
		}
	})
	return nil
}

// after runs fn on its own timer and forgets the timer once it fired
func (e *MIDIEngine) after(d time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		fn()
		e.mu.Lock()
		delete(e.timers, t)
		e.mu.Unlock()
	})
	e.timers[t] = struct{}{}
}

// Close cancels pending notes and silences the channel
func (e *MIDIEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})

	if e.send == nil {
		return nil
	}
	// CC 123: all notes off
	return e.send(gomidi.ControlChange(e.channel, 123, 0))
}

// OutPorts lists MIDI out port names, giving up after a timeout
func OutPorts(ctx context.Context) ([]string, error) {
	outs, err := listOutPorts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(outs))
	for _, p := range outs {
		names = append(names, p.String())
	}
	return names, nil
}

func listOutPorts(ctx context.Context) ([]drivers.Out, error) {
	ctx, cancel := context.WithTimeout(ctx, portScanTimeout)
	defer cancel()

	ch := make(chan []drivers.Out, 1)
	go func() {
		ch <- gomidi.GetOutPorts()
	}()

	select {
	case outs := <-ch:
		return outs, nil
	case <-ctx.Done():
		return nil, ErrPortTimeout
	}
}

func openOutPort(ctx context.Context, name string) (func(gomidi.Message) error, string, error) {
	outs, err := listOutPorts(ctx)
	if err != nil {
		return nil, "", err
	}

	for _, port := range outs {
		if name != "" && !strings.EqualFold(port.String(), name) {
			continue
		}
		send, err := gomidi.SendTo(port)
		if err != nil {
			return nil, "", fmt.Errorf("open %q: %w", port.String(), err)
		}
		return send, port.String(), nil
	}

	if name == "" {
		return nil, "", ErrNoPort
	}
	return nil, "", fmt.Errorf("%w: %q", ErrNoPort, name)
}
