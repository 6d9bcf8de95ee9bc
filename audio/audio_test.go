package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePitch(t *testing.T) {
	tests := []struct {
		label string
		want  uint8
	}{
		{"C4", 60},
		{"A4", 69},
		{"C#4", 61},
		{"Db4", 61},
		{"D#5", 75},
		{"C-1", 0},
		{"G9", 127},
		{"A2", 45},
	}
	for _, tt := range tests {
		got, err := ParsePitch(tt.label)
		require.NoError(t, err, tt.label)
		assert.Equal(t, tt.want, got, tt.label)
	}

	for _, bad := range []string{"", "C", "H4", "C#", "Cx4", "G#9", "Cb-1"} {
		_, err := ParsePitch(bad)
		assert.ErrorIs(t, err, ErrBadPitch, bad)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		token string
		bpm   float64
		want  time.Duration
	}{
		{"4n", 120, 500 * time.Millisecond},
		{"8n", 120, 250 * time.Millisecond},
		{"8n", 60, 500 * time.Millisecond},
		{"8n.", 120, 375 * time.Millisecond},
		{"1m", 120, 2 * time.Second},
		{"2n", 120, time.Second},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.token, tt.bpm)
		require.NoError(t, err, tt.token)
		assert.Equal(t, tt.want, got, tt.token)
	}

	triplet, err := ParseDuration("4t", 120)
	require.NoError(t, err)
	assert.InDelta(t, float64(333*time.Millisecond), float64(triplet), float64(time.Millisecond))

	for _, bad := range []string{"", "n", "0n", "4x", "-4n", "abc"} {
		_, err := ParseDuration(bad, 120)
		assert.ErrorIs(t, err, ErrBadDuration, bad)
	}
	_, err = ParseDuration("4n", 0)
	assert.ErrorIs(t, err, ErrBadDuration)
}

type sentLog struct {
	mu   sync.Mutex
	msgs []gomidi.Message
}

func (s *sentLog) send(msg gomidi.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sentLog) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func newTestEngine(log *sentLog, opens *int) *MIDIEngine {
	e := NewMIDIEngine("Test Port", 3)
	e.open = func(ctx context.Context, name string) (func(gomidi.Message) error, string, error) {
		*opens++
		return log.send, name, nil
	}
	return e
}

func TestMIDIEngineWarmUpOnce(t *testing.T) {
	var log sentLog
	opens := 0
	e := newTestEngine(&log, &opens)

	require.NoError(t, e.WarmUp(context.Background()))
	require.NoError(t, e.WarmUp(context.Background()))
	assert.Equal(t, 1, opens)
	assert.Equal(t, "Test Port", e.Port())
}

func TestMIDIEngineWarmUpFailureRetries(t *testing.T) {
	e := NewMIDIEngine("", 1)
	calls := 0
	e.open = func(ctx context.Context, name string) (func(gomidi.Message) error, string, error) {
		calls++
		return nil, "", ErrNoPort
	}
	err := e.WarmUp(context.Background())
	assert.True(t, errors.Is(err, ErrNoPort))
	_ = e.WarmUp(context.Background())
	assert.Equal(t, 2, calls)
}

func TestMIDIEngineTriggerNote(t *testing.T) {
	var log sentLog
	opens := 0
	e := newTestEngine(&log, &opens)

	assert.ErrorIs(t, e.TriggerNote("C4", "8n", time.Now()), ErrNotWarmedUp)

	require.NoError(t, e.WarmUp(context.Background()))
	e.SetTempo(960) // 8n = 31.25ms
	require.NoError(t, e.TriggerNote("C4", "8n", time.Now()))

	require.Eventually(t, func() bool { return log.len() == 2 }, time.Second, 5*time.Millisecond)

	var ch, key, vel uint8
	log.mu.Lock()
	defer log.mu.Unlock()
	require.True(t, log.msgs[0].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(2), ch)
	assert.Equal(t, uint8(60), key)
	assert.Equal(t, uint8(100), vel)
	assert.True(t, log.msgs[1].GetNoteOff(&ch, &key, &vel))
}

func TestMIDIEngineRejectsBadInput(t *testing.T) {
	var log sentLog
	opens := 0
	e := newTestEngine(&log, &opens)
	require.NoError(t, e.WarmUp(context.Background()))

	assert.ErrorIs(t, e.TriggerNote("X9", "8n", time.Now()), ErrBadPitch)
	assert.ErrorIs(t, e.TriggerNote("C4", "eighth", time.Now()), ErrBadDuration)
	assert.Equal(t, 0, log.len())
}

func TestMIDIEngineCloseSilences(t *testing.T) {
	var log sentLog
	opens := 0
	e := newTestEngine(&log, &opens)
	require.NoError(t, e.WarmUp(context.Background()))

	require.NoError(t, e.TriggerNote("C4", "1m", time.Now().Add(time.Hour)))
	require.NoError(t, e.Close())

	// only the all-notes-off CC went out
	assert.Equal(t, 1, log.len())
}

func TestSilent(t *testing.T) {
	var s Silent
	require.NoError(t, s.WarmUp(context.Background()))
	assert.NoError(t, s.TriggerNote("C4", "8n", time.Now()))
	assert.Error(t, s.TriggerNote("nope", "8n", time.Now()))
}
