package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-playback/internal/models"
)

type fakeSense struct {
	mu     sync.Mutex
	times  []int64
	sample *models.SenseSample
	err    error
}

func (f *fakeSense) FetchSense(_ context.Context, _, _ int, timeMs int64) (*models.SenseSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times = append(f.times, timeMs)
	return f.sample, f.err
}

type senseRecorder struct {
	mu       sync.Mutex
	displays []models.SenseDisplay
}

func (r *senseRecorder) RenderSense(_ int, d models.SenseDisplay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.displays = append(r.displays, d)
}

func newTestPoller(fetcher *fakeSense, sink *senseRecorder) (*SensePoller, *atomic.Int64, *spawnQueue) {
	pos := &atomic.Int64{}
	pos.Store(testSession.StartTime)
	q := &spawnQueue{}
	track := models.SensorTrack{SensorID: 9, Kind: models.KindEnvironmental}
	p := NewSensePoller(testSession.ID, track, fetcher, sink, pos.Load)
	p.spawn = q.spawn
	return p, pos, q
}

func TestSensePollerSuppressesSmallPositionChanges(t *testing.T) {
	fetcher := &fakeSense{sample: &models.SenseSample{Temperature: 21.34, Pressure: 1013.25, Humidity: 40}}
	p, pos, q := newTestPoller(fetcher, &senseRecorder{})
	ctx := context.Background()

	p.poll(ctx)
	q.RunAll()
	require.Len(t, fetcher.times, 1)

	for _, delta := range []int64{250, 500, 799, 800} {
		pos.Store(testSession.StartTime + delta)
		p.poll(ctx)
		q.RunAll()
	}
	assert.Len(t, fetcher.times, 1, "moves of at most 800ms are ignored")

	pos.Store(testSession.StartTime + 801)
	p.poll(ctx)
	q.RunAll()
	assert.Equal(t, []int64{testSession.StartTime, testSession.StartTime + 801}, fetcher.times)

	// 向后拖动同样按绝对差值判断
	pos.Store(testSession.StartTime - 100)
	p.poll(ctx)
	q.RunAll()
	assert.Len(t, fetcher.times, 3)
}

func TestSensePollerSingleOutstandingFetch(t *testing.T) {
	fetcher := &fakeSense{}
	p, pos, q := newTestPoller(fetcher, &senseRecorder{})
	ctx := context.Background()

	p.poll(ctx)
	pos.Add(5000)
	p.poll(ctx)
	p.poll(ctx)
	assert.Equal(t, 1, q.Len())

	q.RunAll()
	p.poll(ctx)
	assert.Equal(t, 1, q.Len())
}

func TestSensePollerRendersValuesAndPlaceholder(t *testing.T) {
	fetcher := &fakeSense{sample: &models.SenseSample{Temperature: 21.34, Pressure: 1013.25, Humidity: 40}}
	sink := &senseRecorder{}
	p, pos, q := newTestPoller(fetcher, sink)
	ctx := context.Background()

	assert.True(t, p.Display().Empty)

	p.poll(ctx)
	q.RunAll()
	want := models.SenseDisplay{Temperature: "21.3", Pressure: "1013.2", Humidity: "40.0"}
	assert.Equal(t, want, p.Display())

	fetcher.sample = nil
	pos.Add(1000)
	p.poll(ctx)
	q.RunAll()
	assert.Equal(t, EmptySenseDisplay(), p.Display())
	assert.Equal(t, SensePlaceholder, p.Display().Temperature)

	require.Len(t, sink.displays, 2)
	assert.Equal(t, want, sink.displays[0])
	assert.True(t, sink.displays[1].Empty)
}

func TestSensePollerClearsFetchingOnFailure(t *testing.T) {
	fetcher := &fakeSense{err: errors.New("timeout")}
	sink := &senseRecorder{}
	p, pos, q := newTestPoller(fetcher, sink)
	ctx := context.Background()

	p.poll(ctx)
	q.RunAll()
	assert.Empty(t, sink.displays)

	fetcher.err = nil
	fetcher.sample = &models.SenseSample{Temperature: 1}
	pos.Add(900)
	p.poll(ctx)
	q.RunAll()
	assert.Len(t, fetcher.times, 2)
	assert.Len(t, sink.displays, 1)
}
