package playback

import (
	"context"
	"fmt"
	"sync"

	"sensor-playback/internal/config"
	"sensor-playback/internal/models"
)

// SensePlaceholder 该时刻没有采样时显示的值
const SensePlaceholder = "--.-"

// SensePoller 环境传感器轮询：播放位置变化超过阈值时取最近的采样并渲染
type SensePoller struct {
	sessionID int
	track     models.SensorTrack
	fetcher   SenseFetcher
	sink      SenseSink
	position  func() int64

	mu          sync.Mutex
	fetching    bool
	lastFetched int64
	display     models.SenseDisplay

	spawn func(func())
}

// NewSensePoller 创建轮询器；position 返回当前播放位置 (epoch ms)
func NewSensePoller(sessionID int, track models.SensorTrack, fetcher SenseFetcher, sink SenseSink, position func() int64) *SensePoller {
	if sink == nil {
		sink = nopSink{}
	}
	return &SensePoller{
		sessionID: sessionID,
		track:     track,
		fetcher:   fetcher,
		sink:      sink,
		position:  position,
		display:   EmptySenseDisplay(),
		spawn:     goSpawn,
	}
}

// SensorID 轨道对应的传感器
func (s *SensePoller) SensorID() int {
	return s.track.SensorID
}

// Start 启动轮询，直到 ctx 结束
func (s *SensePoller) Start(ctx context.Context) {
	go runTicker(ctx, config.SensePollInterval, func() { s.poll(ctx) })
	LogDebug("环境轮询: 启动", "sensor", s.track.SensorID)
}

// 位置由时间轴驱动，轮询器不响应播放控制
func (s *SensePoller) Play()             {}
func (s *SensePoller) Pause()            {}
func (s *SensePoller) Scrub(ScrubTarget) {}

func (s *SensePoller) poll(ctx context.Context) {
	pos := s.position()

	s.mu.Lock()
	delta := pos - s.lastFetched
	if delta < 0 {
		delta = -delta
	}
	if s.fetching || delta <= config.SenseMinDeltaMs {
		s.mu.Unlock()
		return
	}
	s.fetching = true
	s.lastFetched = pos
	s.mu.Unlock()

	s.spawn(func() { s.fetch(ctx, pos) })
}

func (s *SensePoller) fetch(ctx context.Context, pos int64) {
	sample, err := s.fetcher.FetchSense(ctx, s.sessionID, s.track.SensorID, pos)

	var display models.SenseDisplay
	result := "ok"
	switch {
	case err != nil:
		LogWarn("环境数据获取失败", "sensor", s.track.SensorID, "time", pos, "error", err)
		s.mu.Lock()
		s.fetching = false
		s.mu.Unlock()
		senseRenders.WithLabelValues(sensorLabel(s.track.SensorID), "error").Inc()
		return
	case sample == nil:
		display = EmptySenseDisplay()
		result = "empty"
	default:
		display = RenderSense(*sample)
	}

	s.mu.Lock()
	s.fetching = false
	s.display = display
	s.mu.Unlock()

	senseRenders.WithLabelValues(sensorLabel(s.track.SensorID), result).Inc()
	s.sink.RenderSense(s.track.SensorID, display)
}

// Display 最近一次渲染的结果
func (s *SensePoller) Display() models.SenseDisplay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// RenderSense 数值保留一位小数
func RenderSense(sample models.SenseSample) models.SenseDisplay {
	return models.SenseDisplay{
		Temperature: fmt.Sprintf("%.1f", sample.Temperature),
		Pressure:    fmt.Sprintf("%.1f", sample.Pressure),
		Humidity:    fmt.Sprintf("%.1f", sample.Humidity),
	}
}

// EmptySenseDisplay 无数据占位
func EmptySenseDisplay() models.SenseDisplay {
	return models.SenseDisplay{
		Temperature: SensePlaceholder,
		Pressure:    SensePlaceholder,
		Humidity:    SensePlaceholder,
		Empty:       true,
	}
}
