package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-playback/internal/models"
)

// fakeClock 手动推进的时间源
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
	return c.cur
}

// spawnQueue 收集待执行的请求，由测试决定何时完成
type spawnQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *spawnQueue) spawn(f func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, f)
}

func (q *spawnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// RunAll 按顺序完成所有排队的请求
func (q *spawnQueue) RunAll() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		f := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		f()
	}
}

type fakeFrames struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]bool
}

func (f *fakeFrames) FetchFrame(_ context.Context, _, _, frame int) (models.BufferedFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, frame)
	if f.fail[frame] {
		return models.BufferedFrame{}, errors.New("connection reset")
	}
	return models.BufferedFrame{Data: []byte{byte(frame)}, Time: int64(frame) * 1000}, nil
}

func (f *fakeFrames) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []models.BufferedFrame
}

func (r *frameRecorder) DisplayFrame(_ int, f models.BufferedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *frameRecorder) Indices() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Index)
	}
	return out
}

type videoHarness struct {
	player  *VideoPlayer
	fetcher *fakeFrames
	sink    *frameRecorder
	clock   *fakeClock
	queue   *spawnQueue
}

func newVideoHarness(lastFrame int) *videoHarness {
	h := &videoHarness{
		fetcher: &fakeFrames{fail: map[int]bool{}},
		sink:    &frameRecorder{},
		clock:   newFakeClock(),
		queue:   &spawnQueue{},
	}
	track := models.SensorTrack{SensorID: 3, Kind: models.KindCamera, LastIndex: lastFrame}
	h.player = NewVideoPlayer(7, track, h.fetcher, h.sink)
	h.player.now = h.clock.Now
	h.player.spawn = h.queue.spawn
	h.player.lastFetchTime = h.clock.Now().Add(-100 * time.Millisecond)
	return h
}

// fill 取回 1..n 帧
func (h *videoHarness) fill(n int) {
	for i := 0; i < n; i++ {
		h.player.prefetchTick(h.clock.Advance(time.Millisecond))
		h.queue.RunAll()
	}
}

func TestTargetFrame(t *testing.T) {
	tests := []struct {
		last  int
		ratio float64
		want  int
	}{
		{100, 0.5, 50},
		{100, 0, 1},
		{100, 1, 100},
		{100, 0.999, 99},
		{100, 0.015, 1},
		{100, 1.7, 100},
		{100, -0.3, 1},
		{1, 0.4, 1},
		{37, 0.5, 18},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TargetFrame(tt.last, tt.ratio), "last=%d ratio=%v", tt.last, tt.ratio)
	}
}

func TestVideoPrefetchSingleOutstandingRequest(t *testing.T) {
	h := newVideoHarness(100)

	// 1ms tick 持续 999ms，请求未完成前不得发出第二个请求
	for i := 0; i < 999; i++ {
		h.player.prefetchTick(h.clock.Advance(time.Millisecond))
	}
	require.Equal(t, 1, h.queue.Len())

	h.queue.RunAll()
	assert.Equal(t, []int{1}, h.fetcher.Calls())

	h.player.prefetchTick(h.clock.Advance(time.Millisecond))
	h.queue.RunAll()
	assert.Equal(t, []int{1, 2}, h.fetcher.Calls())
	assert.Equal(t, 2, h.player.Status().BufferedFrames)
}

func TestVideoStaleRequestIsReissued(t *testing.T) {
	h := newVideoHarness(100)

	h.player.prefetchTick(h.clock.Now())
	require.Equal(t, 1, h.queue.Len())
	h.queue.tasks = nil // 请求丢失，永远没有回应

	h.player.prefetchTick(h.clock.Advance(time.Second))
	assert.Zero(t, h.queue.Len(), "not stale yet")

	h.player.prefetchTick(h.clock.Advance(time.Millisecond))
	h.queue.RunAll()
	assert.Equal(t, []int{1}, h.fetcher.Calls())
	assert.Equal(t, 2, h.player.Status().NextFetch)
	assert.Equal(t, 1, h.player.Status().BufferedFrames)
}

func TestVideoFetchFailureRetriesAfterStaleness(t *testing.T) {
	h := newVideoHarness(10)
	h.fetcher.fail[1] = true

	h.player.prefetchTick(h.clock.Now())
	h.queue.RunAll()
	assert.Equal(t, StateBuffering, h.player.State())

	h.player.prefetchTick(h.clock.Advance(500 * time.Millisecond))
	assert.Zero(t, h.queue.Len())

	h.fetcher.fail[1] = false
	h.player.prefetchTick(h.clock.Advance(600 * time.Millisecond))
	h.queue.RunAll()
	assert.Equal(t, []int{1, 1}, h.fetcher.Calls())
	assert.Equal(t, 1, h.player.Status().BufferedFrames)
}

func TestVideoPrefetchStopsAtLastFrame(t *testing.T) {
	h := newVideoHarness(3)
	h.fill(10)

	assert.Equal(t, []int{1, 2, 3}, h.fetcher.Calls())
	assert.Equal(t, 4, h.player.Status().NextFetch)
	assert.Equal(t, StateBuffering, h.player.State())
}

func TestVideoScrubBufferedDisplaysSynchronously(t *testing.T) {
	h := newVideoHarness(100)
	h.player.receiveFrame(models.BufferedFrame{Index: 50, Data: []byte{50}})

	h.player.Scrub(ScrubTarget{Ratio: 0.5})

	assert.Equal(t, []int{50}, h.sink.Indices())
	st := h.player.Status()
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, 50, st.CurrentFrame)
	assert.Equal(t, 50, st.NextFetch)
	assert.Zero(t, st.PendingDisplay)

	f, ok := h.player.DisplayedFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{50}, f.Data)
}

func TestVideoScrubUnbufferedDisplaysOnceOnArrival(t *testing.T) {
	h := newVideoHarness(100)

	h.player.Scrub(ScrubTarget{Ratio: 0.5})
	assert.Empty(t, h.sink.Indices())
	assert.Equal(t, 50, h.player.Status().PendingDisplay)

	// 其他帧到达不触发显示
	h.player.receiveFrame(models.BufferedFrame{Index: 49, Data: []byte{49}})
	h.player.receiveFrame(models.BufferedFrame{Index: 3, Data: []byte{3}})
	assert.Empty(t, h.sink.Indices())

	h.player.prefetchTick(h.clock.Advance(time.Millisecond))
	h.queue.RunAll()
	assert.Equal(t, []int{50}, h.fetcher.Calls())
	assert.Equal(t, []int{50}, h.sink.Indices())

	// 同一帧再次到达不会重复显示
	h.player.receiveFrame(models.BufferedFrame{Index: 50, Data: []byte{50}})
	h.fill(5)
	assert.Equal(t, []int{50}, h.sink.Indices())
}

func TestVideoLatestScrubWins(t *testing.T) {
	h := newVideoHarness(100)

	h.player.Scrub(ScrubTarget{Ratio: 0.3})
	h.player.prefetchTick(h.clock.Advance(time.Millisecond))
	require.Equal(t, 1, h.queue.Len())

	h.player.Scrub(ScrubTarget{Ratio: 0.6})
	h.queue.RunAll() // 第 30 帧迟到
	assert.Empty(t, h.sink.Indices())

	h.player.prefetchTick(h.clock.Advance(time.Millisecond))
	h.queue.RunAll()
	assert.Equal(t, []int{30, 60}, h.fetcher.Calls())
	assert.Equal(t, []int{60}, h.sink.Indices())
}

func TestVideoPlaybackStallsInsteadOfSkipping(t *testing.T) {
	h := newVideoHarness(5)
	for _, i := range []int{1, 2, 4} {
		h.player.receiveFrame(models.BufferedFrame{Index: i, Data: []byte{byte(i)}})
	}

	h.player.Play()
	run := func(d time.Duration) {
		for elapsed := time.Duration(0); elapsed < d; elapsed += time.Millisecond {
			h.player.playbackTick(h.clock.Advance(time.Millisecond))
		}
	}

	run(time.Second)
	assert.Equal(t, []int{1, 2}, h.sink.Indices())
	assert.Equal(t, 3, h.player.Status().CurrentFrame)

	h.player.receiveFrame(models.BufferedFrame{Index: 3, Data: []byte{3}})
	run(time.Second)
	assert.Equal(t, []int{1, 2, 3, 4}, h.sink.Indices())

	h.player.receiveFrame(models.BufferedFrame{Index: 5, Data: []byte{5}})
	run(time.Second)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, h.sink.Indices())
	assert.True(t, h.player.Finished())
	assert.Equal(t, StateFinished, h.player.State())

	// 显示的每一帧都来自收到的字节
	for _, f := range h.sink.frames {
		assert.Equal(t, []byte{byte(f.Index)}, f.Data)
	}
}

func TestVideoPlaybackPacedByFPS(t *testing.T) {
	h := newVideoHarness(100)
	h.fill(100)

	h.player.Play()
	// 首帧在 interval + 5ms 之后、再加一个 interval 才会显示
	for i := 0; i < 1000; i++ {
		h.player.playbackTick(h.clock.Advance(time.Millisecond))
	}
	shown := len(h.sink.Indices())
	assert.InDelta(t, 14, shown, 1)
}

func TestVideoPauseStopsPlaybackButNotPrefetch(t *testing.T) {
	h := newVideoHarness(10)
	h.fill(2)

	h.player.Play()
	h.player.Pause()
	for i := 0; i < 500; i++ {
		h.player.playbackTick(h.clock.Advance(time.Millisecond))
	}
	assert.Empty(t, h.sink.Indices())
	assert.Equal(t, StatePaused, h.player.State())

	h.fill(1)
	assert.Equal(t, []int{1, 2, 3}, h.fetcher.Calls())
}

func TestVideoShowFirstFrame(t *testing.T) {
	t.Run("buffered", func(t *testing.T) {
		h := newVideoHarness(10)
		h.fill(1)
		h.player.showFirstFrame()
		assert.Equal(t, []int{1}, h.sink.Indices())
	})

	t.Run("waits for arrival", func(t *testing.T) {
		h := newVideoHarness(10)
		h.player.showFirstFrame()
		assert.Empty(t, h.sink.Indices())
		h.fill(1)
		assert.Equal(t, []int{1}, h.sink.Indices())
	})

	t.Run("skipped after scrub", func(t *testing.T) {
		h := newVideoHarness(10)
		h.fill(5)
		h.player.Scrub(ScrubTarget{Ratio: 0.5})
		h.player.showFirstFrame()
		assert.Equal(t, []int{5}, h.sink.Indices())
	})
}

func TestVideoPlayClearsPendingDisplay(t *testing.T) {
	h := newVideoHarness(100)
	h.player.Scrub(ScrubTarget{Ratio: 0.2})
	h.player.Play()
	assert.Zero(t, h.player.Status().PendingDisplay)

	h.player.receiveFrame(models.BufferedFrame{Index: 20, Data: []byte{20}})
	assert.Empty(t, h.sink.Indices())
}
