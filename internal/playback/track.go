// Package playback 多轨同步回放：MJPG 帧播放器、无缝 MP3 分段播放器、
// 环境数据轮询与共享时间轴。
//
// 每个播放器各自运行预取循环与播放循环，二者互不依赖：播放循环从不发起
// 网络请求，预取循环从不触碰显示状态。时间轴 (Clock) 是播放位置的唯一
// 来源，只向各轨道单向下发 play / pause / scrub。
package playback

import (
	"context"
	"fmt"
	"time"

	"sensor-playback/internal/models"
)

// ScrubTarget 拖动目标；视频按比例定位，音频按绝对时间定位
type ScrubTarget struct {
	Time  int64   // epoch ms
	Ratio float64 // (Time - start) / (end - start)
}

// Track 所有轨道共享的播放控制能力
type Track interface {
	Play()
	Pause()
	Scrub(target ScrubTarget)
}

// State 播放器状态
type State int

const (
	StateIdle State = iota
	StateBuffering
	StatePlaying
	StatePaused
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	default:
		return "idle"
	}
}

// MarshalText 以名称序列化
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 按名称解析，与 MarshalText 对应
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StateBuffering, StatePlaying, StatePaused, StateFinished} {
		if string(b) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown player state %q", b)
}

// ==================== 数据源 ====================

// FrameFetcher 按帧号获取 JPEG
type FrameFetcher interface {
	FetchFrame(ctx context.Context, sessionID, sensorID, frame int) (models.BufferedFrame, error)
}

// SegmentFetcher 按分段号或时间获取 MP3 分段；未使用的选择器传 -1
type SegmentFetcher interface {
	FetchSegment(ctx context.Context, sessionID, sensorID, segment int, timestamp int64) (models.BufferedSegment, error)
}

// SenseFetcher 获取最接近给定时间的环境采样；无数据时返回 nil
type SenseFetcher interface {
	FetchSense(ctx context.Context, sessionID, sensorID int, timeMs int64) (*models.SenseSample, error)
}

// ==================== 显示目标 ====================

// FrameSink 视频帧显示目标
type FrameSink interface {
	DisplayFrame(sensorID int, frame models.BufferedFrame)
}

// SenseSink 环境数据显示目标
type SenseSink interface {
	RenderSense(sensorID int, display models.SenseDisplay)
}

// ClockSink 时间轴刷新目标
type ClockSink interface {
	ClockTick(state ClockState)
}

type nopSink struct{}

func (nopSink) DisplayFrame(int, models.BufferedFrame) {}
func (nopSink) RenderSense(int, models.SenseDisplay)   {}
func (nopSink) ClockTick(ClockState)                   {}

// ==================== 调度 ====================

func goSpawn(f func()) { go f() }

// runTicker 按固定间隔调用 fn，直到 ctx 结束
func runTicker(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
