package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sensor-playback/internal/config"
)

// ElapsedTimer 实时画面用的秒表，与回放时间轴无关
type ElapsedTimer struct {
	mu       sync.Mutex
	elapsed  time.Duration
	offset   time.Time
	on       bool
	onUpdate func(string)

	now func() time.Time
}

// NewElapsedTimer 创建秒表；onUpdate 在每次刷新时收到格式化后的时间，可为 nil
func NewElapsedTimer(onUpdate func(string)) *ElapsedTimer {
	return &ElapsedTimer{onUpdate: onUpdate, now: time.Now}
}

// Start 开始计时；已在计时则忽略
func (t *ElapsedTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.on {
		return
	}
	t.offset = t.now()
	t.on = true
}

// Stop 停止计时，保留已计时长
func (t *ElapsedTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanceLocked()
	t.on = false
}

// Reset 清零；计时状态不变
func (t *ElapsedTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elapsed = 0
	t.offset = t.now()
}

func (t *ElapsedTimer) advanceLocked() {
	if !t.on {
		return
	}
	now := t.now()
	t.elapsed += now.Sub(t.offset)
	t.offset = now
}

// Update 累加自上次刷新以来的时间并通知显示
func (t *ElapsedTimer) Update() string {
	t.mu.Lock()
	t.advanceLocked()
	text := FormatStopwatch(t.elapsed)
	onUpdate := t.onUpdate
	t.mu.Unlock()

	if onUpdate != nil {
		onUpdate(text)
	}
	return text
}

// Elapsed 已计时长
func (t *ElapsedTimer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanceLocked()
	return t.elapsed
}

// Running 是否在计时
func (t *ElapsedTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on
}

// Run 每 10ms 刷新一次，直到 ctx 结束
func (t *ElapsedTimer) Run(ctx context.Context) {
	runTicker(ctx, config.LiveTimerTick, func() { t.Update() })
}

// FormatStopwatch 格式化为 HH:MM:SS.mmm，小时按天取模
func FormatStopwatch(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		(ms/3_600_000)%24, (ms/60_000)%60, (ms/1000)%60, ms%1000)
}
