package midi

import (
	"testing"

	gomidi "gitlab.com/gomidi/midi/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteMappingRoundTrip(t *testing.T) {
	for row := 0; row < 8; row++ {
		for col := 0; col < 9; col++ {
			r, c := noteToRowCol(rowColToNote(row, col))
			assert.Equal(t, row, r)
			assert.Equal(t, col, c)
		}
	}
	for col := 0; col < 8; col++ {
		r, c := noteToRowCol(rowColToNote(8, col))
		assert.Equal(t, 8, r)
		assert.Equal(t, col, c)
	}

	r, _ := noteToRowCol(10)
	assert.Equal(t, -1, r)
	r, _ = ccToRowCol(50)
	assert.Equal(t, -1, r)
}

func TestMapRGBToLaunchpad(t *testing.T) {
	assert.Equal(t, ColorOff, mapRGBToLaunchpad([3]uint8{0, 0, 0}))
	assert.Equal(t, ColorWhite, mapRGBToLaunchpad([3]uint8{250, 250, 250}))
	assert.Equal(t, uint8(5), mapRGBToLaunchpad([3]uint8{240, 10, 10}))
}

type recorder struct {
	msgs []gomidi.Message
}

func (r *recorder) send(msg gomidi.Message) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestLaunchpadProgrammerModeAndLEDs(t *testing.T) {
	var rec recorder
	lp := newLaunchpad("test", rec.send)
	require.Len(t, rec.msgs, 3, "programmer mode, brightness, feedback sysex")

	rec.msgs = nil
	require.NoError(t, lp.SetLEDBatch([]LEDUpdate{
		{Row: 0, Col: 0, Color: [3]uint8{255, 0, 0}},
		{Row: 8, Col: 7, Color: [3]uint8{0, 255, 0}, Channel: ChannelPulse},
	}))
	require.Len(t, rec.msgs, 2)

	var ch, key, vel uint8
	require.True(t, rec.msgs[0].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(11), key)
	assert.Equal(t, uint8(5), vel)
	require.True(t, rec.msgs[1].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, ChannelPulse, ch)
	assert.Equal(t, uint8(98), key)
}

func TestLaunchpadPadEvents(t *testing.T) {
	lp := newLaunchpad("test", nil)

	lp.handleMessage(gomidi.NoteOn(0, 11, 100), 0)
	lp.handleMessage(gomidi.NoteOn(0, 88, 0), 0) // release
	lp.handleMessage(gomidi.ControlChange(0, 91, 127), 0)

	ev := <-lp.PadEvents()
	assert.Equal(t, PadEvent{Row: 0, Col: 0, Velocity: 100}, ev)
	ev = <-lp.PadEvents()
	assert.Equal(t, PadEvent{Row: 8, Col: 0, Velocity: 127}, ev)

	require.NoError(t, lp.Close())
	require.NoError(t, lp.Close())
	_, open := <-lp.PadEvents()
	assert.False(t, open)
}

func TestIsLaunchpad(t *testing.T) {
	assert.True(t, isLaunchpad("Launchpad X LPX MIDI"))
	assert.False(t, isLaunchpad("Launchpad X LPX DAW"))

	dm := NewDeviceManager("My Grid")
	assert.True(t, dm.isController("my grid"))
	assert.False(t, dm.isController("IAC Bus"))
}
