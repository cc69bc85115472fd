package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"sensor-playback/internal/config"
	"sensor-playback/internal/models"
)

// VideoPlayer MJPG 帧播放器：顺序预取 JPEG 帧并按 FPS 播放。
//
// 播放遇到未缓冲的帧时停在原帧号等待，绝不跳帧。
type VideoPlayer struct {
	sessionID int
	track     models.SensorTrack
	fetcher   FrameFetcher
	sink      FrameSink
	interval  time.Duration

	mu             sync.Mutex
	buffered       map[int]models.BufferedFrame
	currentFrame   int // 下一帧待显示
	frameToFetch   int // 下一帧待预取
	fetching       bool
	inflight       int // 最近一次请求的帧号
	lastFetchTime  time.Time
	lastFrameTime  time.Time
	playing        bool
	paused         bool
	finished       bool
	pendingDisplay int // 拖动后等待到达即显示的帧号，0 表示无
	displayed      int

	ctx   context.Context
	now   func() time.Time
	spawn func(func())
}

// NewVideoPlayer 创建视频播放器；track.LastIndex 为 last-frame-number
func NewVideoPlayer(sessionID int, track models.SensorTrack, fetcher FrameFetcher, sink FrameSink) *VideoPlayer {
	if sink == nil {
		sink = nopSink{}
	}
	p := &VideoPlayer{
		sessionID:    sessionID,
		track:        track,
		fetcher:      fetcher,
		sink:         sink,
		interval:     time.Second / config.VideoFPS,
		buffered:     make(map[int]models.BufferedFrame),
		currentFrame: 1,
		frameToFetch: 1,
		ctx:          context.Background(),
		now:          time.Now,
		spawn:        goSpawn,
	}
	p.lastFetchTime = p.now().Add(-100 * time.Millisecond)
	return p
}

// SensorID 轨道对应的传感器
func (p *VideoPlayer) SensorID() int {
	return p.track.SensorID
}

// Start 启动预取循环、播放循环以及首帧显示，直到 ctx 结束
func (p *VideoPlayer) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	go runTicker(ctx, config.VideoPrefetchTick, func() { p.prefetchTick(p.now()) })
	go runTicker(ctx, config.VideoPlayTick, func() { p.playbackTick(p.now()) })

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(config.VideoStartupGrace):
			p.showFirstFrame()
		}
	}()

	LogDebug("视频播放器: 启动", "sensor", p.track.SensorID, "lastFrame", p.track.LastIndex)
}

// TargetFrame 拖动比例换算为帧号: clamp(floor(N*ratio), 1, N)
func TargetFrame(lastFrame int, ratio float64) int {
	frame := int(math.Floor(float64(lastFrame) * ratio))
	if frame < 1 {
		frame = 1
	}
	if frame > lastFrame {
		frame = lastFrame
	}
	return frame
}

// Play 恢复播放
func (p *VideoPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.playing = true
	p.paused = false
	// 播放循环接管显示，拖动遗留的等待目标不再需要
	p.pendingDisplay = 0
	p.lastFrameTime = p.now().Add(p.interval + config.VideoPlayStartMargin)
}

// Pause 暂停播放；预取不受影响
func (p *VideoPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseLocked()
}

func (p *VideoPlayer) pauseLocked() {
	p.paused = true
	p.playing = false
}

// Scrub 跳转到会话中的比例位置并暂停
func (p *VideoPlayer) Scrub(target ScrubTarget) {
	p.mu.Lock()

	p.pauseLocked()
	if p.track.LastIndex < 1 {
		p.mu.Unlock()
		return
	}

	frame := TargetFrame(p.track.LastIndex, target.Ratio)
	p.currentFrame = frame
	p.frameToFetch = frame
	p.finished = false

	f, ok := p.buffered[frame]
	if ok {
		p.pendingDisplay = 0
		p.displayed = frame
	} else {
		p.pendingDisplay = frame
	}
	p.mu.Unlock()

	if ok {
		p.display(f)
	}
	LogDebug("视频跳转", "sensor", p.track.SensorID, "frame", frame, "buffered", ok)
}

// showFirstFrame 启动宽限期结束后显示第一帧；尚未到达则等待到达
func (p *VideoPlayer) showFirstFrame() {
	p.mu.Lock()
	if p.displayed != 0 || p.pendingDisplay != 0 || p.playing || p.track.LastIndex < 1 {
		p.mu.Unlock()
		return
	}

	f, ok := p.buffered[1]
	if ok {
		p.displayed = 1
	} else {
		p.pendingDisplay = 1
	}
	p.mu.Unlock()

	if ok {
		p.display(f)
	}
}

// prefetchTick 未在等待响应（或上次请求已超时）时请求下一帧
func (p *VideoPlayer) prefetchTick(now time.Time) {
	p.mu.Lock()

	if p.fetching {
		if now.Sub(p.lastFetchTime) <= config.FetchStaleAfter {
			p.mu.Unlock()
			return
		}
		// 上次请求迟迟没有结果；期间未拖动过则重发同一帧
		if _, ok := p.buffered[p.inflight]; !ok && p.inflight > 0 && p.frameToFetch == p.inflight+1 {
			p.frameToFetch = p.inflight
		}
	}

	frame := p.frameToFetch
	if frame > p.track.LastIndex {
		p.fetching = false
		p.mu.Unlock()
		return
	}

	p.lastFetchTime = now
	p.fetching = true
	p.frameToFetch++

	if _, ok := p.buffered[frame]; ok {
		p.fetching = false
		p.mu.Unlock()
		return
	}

	p.inflight = frame
	ctx := p.ctx
	p.mu.Unlock()

	p.spawn(func() { p.fetch(ctx, frame) })
}

func (p *VideoPlayer) fetch(ctx context.Context, frame int) {
	f, err := p.fetcher.FetchFrame(ctx, p.sessionID, p.track.SensorID, frame)
	if err != nil {
		LogWarn("帧获取失败", "sensor", p.track.SensorID, "frame", frame, "error", err)
		return
	}
	f.Index = frame
	p.receiveFrame(f)
}

// receiveFrame 存入缓冲；若该帧是当前等待显示的目标则立即显示
func (p *VideoPlayer) receiveFrame(f models.BufferedFrame) {
	p.mu.Lock()

	if _, ok := p.buffered[f.Index]; !ok {
		p.buffered[f.Index] = f
		bufferedUnits.WithLabelValues("frame", sensorLabel(p.track.SensorID)).Set(float64(len(p.buffered)))
	} else {
		f = p.buffered[f.Index]
	}

	if f.Index == p.inflight {
		p.fetching = false
	}

	show := p.pendingDisplay != 0 && p.pendingDisplay == f.Index
	if show {
		p.pendingDisplay = 0
		p.displayed = f.Index
	}
	p.mu.Unlock()

	if show {
		p.display(f)
	}
}

// playbackTick 每个 tick 检查 FPS 间隔，显示当前帧并前进
func (p *VideoPlayer) playbackTick(now time.Time) {
	p.mu.Lock()

	if p.paused || !p.playing {
		p.mu.Unlock()
		return
	}

	if p.currentFrame > p.track.LastIndex {
		p.pauseLocked()
		p.finished = true
		p.mu.Unlock()
		LogDebug("视频播放完毕", "sensor", p.track.SensorID)
		return
	}

	if now.Sub(p.lastFrameTime) < p.interval {
		p.mu.Unlock()
		return
	}

	f, ok := p.buffered[p.currentFrame]
	if !ok {
		p.mu.Unlock()
		return
	}

	p.lastFrameTime = now
	p.displayed = p.currentFrame
	p.currentFrame++
	p.mu.Unlock()

	p.display(f)
}

func (p *VideoPlayer) display(f models.BufferedFrame) {
	displayedFrames.WithLabelValues(sensorLabel(p.track.SensorID)).Inc()
	p.sink.DisplayFrame(p.track.SensorID, f)
}

// Finished 是否已播放到最后一帧
func (p *VideoPlayer) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// State 当前状态
func (p *VideoPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *VideoPlayer) stateLocked() State {
	switch {
	case p.finished:
		return StateFinished
	case p.playing:
		return StatePlaying
	case p.paused:
		return StatePaused
	case len(p.buffered) > 0 || p.fetching:
		return StateBuffering
	default:
		return StateIdle
	}
}

// DisplayedFrame 最近一次显示的帧
func (p *VideoPlayer) DisplayedFrame() (models.BufferedFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.buffered[p.displayed]
	return f, ok
}

// VideoStatus 视频轨道状态
type VideoStatus struct {
	SensorID       int   `json:"sensorId"`
	State          State `json:"state"`
	CurrentFrame   int   `json:"currentFrame"`
	DisplayedFrame int   `json:"displayedFrame"`
	PendingDisplay int   `json:"pendingDisplay,omitempty"`
	BufferedFrames int   `json:"bufferedFrames"`
	NextFetch      int   `json:"nextFetch"`
	LastFrame      int   `json:"lastFrame"`
}

// Status 状态快照
func (p *VideoPlayer) Status() VideoStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return VideoStatus{
		SensorID:       p.track.SensorID,
		State:          p.stateLocked(),
		CurrentFrame:   p.currentFrame,
		DisplayedFrame: p.displayed,
		PendingDisplay: p.pendingDisplay,
		BufferedFrames: len(p.buffered),
		NextFetch:      p.frameToFetch,
		LastFrame:      p.track.LastIndex,
	}
}
