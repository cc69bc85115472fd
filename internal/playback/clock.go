package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sensor-playback/internal/config"
	"sensor-playback/internal/models"
)

// Starter 拥有后台循环的轨道
type Starter interface {
	Start(ctx context.Context)
}

// Finisher 可判断是否播放完毕的轨道；主视频轨播完时时间轴随之暂停
type Finisher interface {
	Finished() bool
}

// ClockState 时间轴快照
type ClockState struct {
	Playing     bool    `json:"playing"`
	Position    int64   `json:"position"` // epoch ms
	Ratio       float64 `json:"ratio"`
	Elapsed     string  `json:"elapsed"`
	ArchiveTime string  `json:"archiveTime"`
}

// Clock 共享时间轴：播放位置的唯一来源，向所有轨道下发 play / pause / scrub
type Clock struct {
	session models.Session
	sink    ClockSink

	// ctl 串行化对轨道的控制调用；mu 只保护下面的时间轴状态
	ctl     sync.Mutex
	tracks  map[int]Track
	order   []int
	primary Finisher

	mu         sync.Mutex
	playing    bool
	position   int64
	basisWall  time.Time
	basisValue int64

	now func() time.Time
	loc *time.Location
}

// NewClock 创建时间轴，初始位置为会话开始
func NewClock(session models.Session, sink ClockSink) *Clock {
	if sink == nil {
		sink = nopSink{}
	}
	return &Clock{
		session:  session,
		sink:     sink,
		tracks:   make(map[int]Track),
		position: session.StartTime,
		now:      time.Now,
		loc:      time.Local,
	}
}

// Add 按传感器 ID 注册轨道；第一个可判断结束的视频轨成为主轨
func (c *Clock) Add(sensorID int, t Track) {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if _, ok := c.tracks[sensorID]; !ok {
		c.order = append(c.order, sensorID)
	}
	c.tracks[sensorID] = t

	if f, ok := t.(Finisher); ok && c.primary == nil {
		c.primary = f
	}
}

// Track 按传感器 ID 查找轨道
func (c *Clock) Track(sensorID int) (Track, bool) {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	t, ok := c.tracks[sensorID]
	return t, ok
}

// Tracks 按注册顺序返回所有轨道
func (c *Clock) Tracks() []Track {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	return c.tracksLocked()
}

func (c *Clock) tracksLocked() []Track {
	out := make([]Track, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tracks[id])
	}
	return out
}

// Session 回放的会话
func (c *Clock) Session() models.Session {
	return c.session
}

// Run 启动所有轨道的后台循环并驱动时间轴刷新，阻塞到 ctx 结束
func (c *Clock) Run(ctx context.Context) {
	for _, t := range c.Tracks() {
		if s, ok := t.(Starter); ok {
			s.Start(ctx)
		}
	}
	runTicker(ctx, config.ClockTick, func() { c.tick(c.now()) })
}

// Play 以当前位置为基准开始计时，并恢复所有轨道
func (c *Clock) Play() {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = true
	c.basisWall = c.now()
	c.basisValue = c.position
	c.mu.Unlock()

	for _, t := range c.tracksLocked() {
		t.Play()
	}
	LogInfo("回放: 播放", "position", c.Position())
}

// Pause 冻结位置并暂停所有轨道
func (c *Clock) Pause() {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	c.mu.Lock()
	c.advanceLocked(c.now())
	c.playing = false
	c.mu.Unlock()

	c.pauseTracksLocked()
	LogInfo("回放: 暂停", "position", c.Position())
}

func (c *Clock) pauseTracksLocked() {
	for _, t := range c.tracksLocked() {
		t.Pause()
	}
}

// Toggle 播放键语义：播放中则暂停，否则播放
func (c *Clock) Toggle() {
	if c.Playing() {
		c.Pause()
		return
	}
	c.Play()
}

// Scrub 跳转到给定时间 (epoch ms)：暂停，按比例通知视频、按绝对时间通知音频
func (c *Clock) Scrub(timeMs int64) {
	c.ctl.Lock()

	timeMs = c.session.Clamp(timeMs)
	target := ScrubTarget{Time: timeMs, Ratio: c.session.Ratio(timeMs)}

	c.mu.Lock()
	c.playing = false
	c.position = timeMs
	c.mu.Unlock()

	for _, t := range c.tracksLocked() {
		t.Scrub(target)
	}
	c.ctl.Unlock()

	LogInfo("回放: 跳转", "position", timeMs, "ratio", target.Ratio)
	c.sink.ClockTick(c.Snapshot())
}

// tick 播放中按墙钟推进位置；到达会话结束或主视频轨播完时自动暂停
func (c *Clock) tick(now time.Time) {
	c.ctl.Lock()

	c.mu.Lock()
	stop := false
	if c.playing {
		c.advanceLocked(now)
		switch {
		case c.position >= c.session.EndTime:
			stop = true
		case c.primary != nil && c.primary.Finished():
			stop = true
		}
		if stop {
			c.playing = false
		}
	}
	c.mu.Unlock()

	if stop {
		c.pauseTracksLocked()
		LogInfo("回放: 到达结尾", "position", c.Position())
	}
	c.ctl.Unlock()

	c.sink.ClockTick(c.Snapshot())
}

func (c *Clock) advanceLocked(now time.Time) {
	if !c.playing {
		return
	}
	pos := c.basisValue + now.Sub(c.basisWall).Milliseconds()
	c.position = c.session.Clamp(pos)
}

// Playing 是否在播放
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Position 当前播放位置 (epoch ms)
func (c *Clock) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Snapshot 当前时间轴状态
func (c *Clock) Snapshot() ClockState {
	c.mu.Lock()
	playing, pos := c.playing, c.position
	c.mu.Unlock()

	return ClockState{
		Playing:     playing,
		Position:    pos,
		Ratio:       c.session.Ratio(pos),
		Elapsed:     FormatElapsed(pos - c.session.StartTime),
		ArchiveTime: FormatArchiveTime(pos, c.loc),
	}
}

// FormatElapsed 格式化为 HH:MM:SS.t（十分之一秒）
func FormatElapsed(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	tenths := (ms % 1000) / 100
	seconds := (ms / 1000) % 60
	minutes := (ms / (1000 * 60)) % 60
	hours := (ms / (1000 * 60 * 60)) % 24
	return fmt.Sprintf("%02d:%02d:%02d.%d", hours, minutes, seconds, tenths)
}

// FormatArchiveTime 录制时的绝对时间
func FormatArchiveTime(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format("2006-01-02 15:04:05")
}
