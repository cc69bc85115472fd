package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsedTimer(t *testing.T) {
	fc := newFakeClock()
	var shown []string
	timer := NewElapsedTimer(func(s string) { shown = append(shown, s) })
	timer.now = fc.Now

	fc.Advance(time.Second)
	assert.Equal(t, "00:00:00.000", timer.Update(), "not started")

	timer.Start()
	fc.Advance(1234 * time.Millisecond)
	assert.Equal(t, "00:00:01.234", timer.Update())

	// 重复 Start 不重置基准
	timer.Start()
	fc.Advance(10 * time.Millisecond)
	assert.Equal(t, 1244*time.Millisecond, timer.Elapsed())

	timer.Stop()
	fc.Advance(time.Minute)
	assert.False(t, timer.Running())
	assert.Equal(t, "00:00:01.244", timer.Update())

	timer.Reset()
	assert.Zero(t, timer.Elapsed())

	assert.Equal(t, []string{"00:00:00.000", "00:00:01.234", "00:00:01.244"}, shown)
}

func TestFormatStopwatch(t *testing.T) {
	assert.Equal(t, "00:00:00.007", FormatStopwatch(7*time.Millisecond))
	assert.Equal(t, "01:01:01.001", FormatStopwatch(time.Hour+time.Minute+time.Second+time.Millisecond))
	assert.Equal(t, "00:00:00.000", FormatStopwatch(-time.Second))
	assert.Equal(t, "00:00:05.000", FormatStopwatch(24*time.Hour+5*time.Second))
}
