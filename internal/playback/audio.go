package playback

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"sensor-playback/internal/config"
	"sensor-playback/internal/gapless"
	"sensor-playback/internal/models"
)

// AudioPlayer 无缝 MP3 分段播放器：顺序预取分段，解析填充信息后按窗口追加到 AudioSink。
//
// 追加位置取自 sink 报告的缓冲末端而非本地累加。播放与定位完全交给 sink。
type AudioPlayer struct {
	session models.Session
	track   models.SensorTrack
	fetcher SegmentFetcher
	sink    AudioSink

	mu              sync.Mutex
	buffered        map[int]models.BufferedSegment
	segmentToFetch  int
	segmentToAppend int // 下一个待追加的分段，保证按序进入时间轴
	fetching        bool
	inflight        int
	lastFetchTime   time.Time
	playing         bool
	paused          bool

	ctx   context.Context
	now   func() time.Time
	spawn func(func())
}

// NewAudioPlayer 创建音频播放器；track.LastIndex 为 last-segment-number
func NewAudioPlayer(session models.Session, track models.SensorTrack, fetcher SegmentFetcher, sink AudioSink) *AudioPlayer {
	if sink == nil {
		sink = NewSourceBuffer(nil)
	}
	p := &AudioPlayer{
		session:         session,
		track:           track,
		fetcher:         fetcher,
		sink:            sink,
		buffered:        make(map[int]models.BufferedSegment),
		segmentToFetch:  1,
		segmentToAppend: 1,
		ctx:             context.Background(),
		now:             time.Now,
		spawn:           goSpawn,
	}
	p.lastFetchTime = p.now().Add(-100 * time.Millisecond)
	return p
}

// SensorID 轨道对应的传感器
func (p *AudioPlayer) SensorID() int {
	return p.track.SensorID
}

// Start 启动预取循环，直到 ctx 结束
func (p *AudioPlayer) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	go runTicker(ctx, config.AudioPrefetchTick, func() { p.prefetchTick(p.now()) })
	LogDebug("音频播放器: 启动", "sensor", p.track.SensorID, "lastSegment", p.track.LastIndex)
}

func (p *AudioPlayer) Play() {
	p.mu.Lock()
	p.playing = true
	p.paused = false
	p.mu.Unlock()

	p.sink.Play()
}

func (p *AudioPlayer) Pause() {
	p.mu.Lock()
	p.playing = false
	p.paused = true
	p.mu.Unlock()

	p.sink.Pause()
}

// Scrub 暂停并把 sink 的播放位置设为距会话开始的整秒数
func (p *AudioPlayer) Scrub(target ScrubTarget) {
	p.Pause()

	seconds := SecondsIntoSession(p.session, target.Time)
	p.sink.SetCurrentTime(seconds)
	LogDebug("音频跳转", "sensor", p.track.SensorID, "seconds", seconds)
}

// SecondsIntoSession epoch ms 换算为会话内整秒，不小于 0
func SecondsIntoSession(s models.Session, timeMs int64) float64 {
	return math.Max(math.Floor(float64(timeMs-s.StartTime)/1000), 0)
}

func (p *AudioPlayer) prefetchTick(now time.Time) {
	p.mu.Lock()

	if p.fetching {
		if now.Sub(p.lastFetchTime) <= config.FetchStaleAfter {
			p.mu.Unlock()
			return
		}
		// 上次请求迟迟没有结果；期间未拖动过则重发同一分段
		if _, ok := p.buffered[p.inflight]; !ok && p.inflight > 0 && p.segmentToFetch == p.inflight+1 {
			p.segmentToFetch = p.inflight
		}
	}

	segment := p.segmentToFetch
	if segment > p.track.LastIndex {
		p.fetching = false
		p.mu.Unlock()
		return
	}

	p.lastFetchTime = now
	p.fetching = true
	p.segmentToFetch++

	if _, ok := p.buffered[segment]; ok {
		p.fetching = false
		p.mu.Unlock()
		return
	}

	p.inflight = segment
	ctx := p.ctx
	p.mu.Unlock()

	p.spawn(func() { p.fetch(ctx, segment) })
}

func (p *AudioPlayer) fetch(ctx context.Context, segment int) {
	seg, err := p.fetcher.FetchSegment(ctx, p.session.ID, p.track.SensorID, segment, -1)
	if err != nil {
		LogWarn("分段获取失败", "sensor", p.track.SensorID, "segment", segment, "error", err)
		return
	}
	if seg.Index != segment {
		if seg.Index != 0 {
			LogDebug("分段号不一致", "sensor", p.track.SensorID, "requested", segment, "got", seg.Index)
		}
		seg.Index = segment
	}
	p.receiveSegment(seg)
}

// receiveSegment 解析填充信息并按分段号顺序追加所有已就绪的分段
func (p *AudioPlayer) receiveSegment(seg models.BufferedSegment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seg.Index == p.inflight {
		p.fetching = false
	}
	if _, ok := p.buffered[seg.Index]; ok {
		return
	}

	seg.Gapless = gapless.Parse(seg.Data)
	p.buffered[seg.Index] = seg
	bufferedUnits.WithLabelValues("segment", sensorLabel(p.track.SensorID)).Set(float64(len(p.buffered)))

	for {
		next, ok := p.buffered[p.segmentToAppend]
		if !ok {
			return
		}
		p.appendLocked(next)
		p.segmentToAppend++
	}
}

// appendLocked 按缓冲末端放置分段：窗口裁掉前后填充，时间偏移让首个真实采样落在 offset
func (p *AudioPlayer) appendLocked(seg models.BufferedSegment) {
	offset := p.sink.BufferedEnd()

	start, end, tsOffset := AppendPlacement(offset, seg.Gapless)
	p.sink.SetAppendWindow(start, end)
	p.sink.SetTimestampOffset(tsOffset)

	if err := p.sink.AppendBuffer(seg.Data); err != nil {
		LogError("分段追加失败", "sensor", p.track.SensorID, "segment", seg.Index, "error", err)
		return
	}

	appendedSegments.WithLabelValues(sensorLabel(p.track.SensorID), strconv.FormatBool(seg.Gapless.Found())).Inc()
	LogDebug("分段已追加", "sensor", p.track.SensorID, "segment", seg.Index,
		"offset", offset, "duration", seg.Gapless.AudioDuration, "frontPadding", seg.Gapless.FrontPaddingDuration)
}

// AppendPlacement 返回追加窗口与时间偏移；无填充信息时窗口不设上限，按原始时长追加
func AppendPlacement(offset float64, md models.GaplessMetadata) (start, end, timestampOffset float64) {
	if !md.Found() {
		return offset, math.Inf(1), offset
	}
	return offset, offset + md.AudioDuration, offset - md.FrontPaddingDuration
}

// AudioStatus 音频轨道状态
type AudioStatus struct {
	SensorID         int     `json:"sensorId"`
	State            State   `json:"state"`
	BufferedSegments int     `json:"bufferedSegments"`
	AppendedSegments int     `json:"appendedSegments"`
	NextFetch        int     `json:"nextFetch"`
	LastSegment      int     `json:"lastSegment"`
	BufferedEnd      float64 `json:"bufferedEnd"`
}

// Status 状态快照
func (p *AudioPlayer) Status() AudioStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := StateIdle
	switch {
	case p.playing:
		state = StatePlaying
	case p.paused:
		state = StatePaused
	case len(p.buffered) > 0 || p.fetching:
		state = StateBuffering
	}

	return AudioStatus{
		SensorID:         p.track.SensorID,
		State:            state,
		BufferedSegments: len(p.buffered),
		AppendedSegments: p.segmentToAppend - 1,
		NextFetch:        p.segmentToFetch,
		LastSegment:      p.track.LastIndex,
		BufferedEnd:      p.sink.BufferedEnd(),
	}
}
