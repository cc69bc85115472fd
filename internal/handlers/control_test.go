package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-playback/internal/playback"
)

type fakeController struct {
	calls    []string
	scrubbed int64
	playing  bool
}

func (f *fakeController) Play() {
	f.calls = append(f.calls, "play")
	f.playing = true
}

func (f *fakeController) Pause() {
	f.calls = append(f.calls, "pause")
	f.playing = false
}

func (f *fakeController) Toggle() {
	f.calls = append(f.calls, "toggle")
	f.playing = !f.playing
}

func (f *fakeController) Scrub(timeMs int64) {
	f.calls = append(f.calls, "scrub")
	f.scrubbed = timeMs
}

func (f *fakeController) Snapshot() playback.ClockState {
	return playback.ClockState{Playing: f.playing, Position: f.scrubbed}
}

func TestApply(t *testing.T) {
	c := &fakeController{}
	h := NewControlHandler(c)

	state, err := h.Apply("play", nil)
	require.NoError(t, err)
	assert.True(t, state.Playing)

	state, err = h.Apply("toggle", nil)
	require.NoError(t, err)
	assert.False(t, state.Playing)

	state, err = h.Apply("scrub", []byte(`{"time": 1700000123000}`))
	require.NoError(t, err)
	assert.EqualValues(t, 1700000123000, state.Position)

	_, err = h.Apply("state", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"play", "toggle", "scrub"}, c.calls)
}

func TestApplyRejects(t *testing.T) {
	c := &fakeController{}
	h := NewControlHandler(c)

	_, err := h.Apply("scrub", []byte(`{}`))
	assert.Error(t, err)

	_, err = h.Apply("scrub", []byte(`not json`))
	assert.Error(t, err)

	_, err = h.Apply("rewind", nil)
	assert.Error(t, err)

	assert.Empty(t, c.calls)
}

func TestApplyWithoutSession(t *testing.T) {
	h := NewControlHandler(nil)
	_, err := h.Apply("play", nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegisterEvents(t *testing.T) {
	ns := NewControlHandler(&fakeController{}).RegisterEvents()
	require.Contains(t, ns, Namespace)
	for _, event := range []string{"play", "pause", "toggle", "scrub", "state"} {
		assert.Contains(t, ns[Namespace], event)
	}
}
