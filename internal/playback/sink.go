package playback

import (
	"math"
	"sort"
	"sync"
	"time"

	"sensor-playback/internal/gapless"
)

// AudioSink 只追加的流式音频目标，语义同 MSE SourceBuffer
type AudioSink interface {
	// BufferedEnd 已缓冲时间轴的末端（秒），为空时返回 0
	BufferedEnd() float64
	SetAppendWindow(start, end float64)
	SetTimestampOffset(offset float64)
	AppendBuffer(data []byte) error

	Play()
	Pause()
	SetCurrentTime(seconds float64)
}

// TimeRange 时间轴上的连续区间（秒）
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AppendRecord 一次追加操作，供显示端复现同样的追加
type AppendRecord struct {
	Data            []byte
	WindowStart     float64
	WindowEnd       float64 // 开放窗口为 +Inf
	TimestampOffset float64
	Placed          TimeRange // 裁剪后实际进入时间轴的区间
}

// 相邻区间合并容差
const rangeEpsilon = 1e-6

// SourceBuffer AudioSink 的内存实现：维护裁剪后的时间轴与播放位置。
// 原始字节的时长由 MPEG 帧头计算。
type SourceBuffer struct {
	mu              sync.Mutex
	windowStart     float64
	windowEnd       float64
	timestampOffset float64
	ranges          []TimeRange

	playing     bool
	currentTime float64
	playBasis   time.Time

	now      func() time.Time
	onAppend func(AppendRecord)
}

// NewSourceBuffer 创建空的 SourceBuffer；onAppend 可为 nil
func NewSourceBuffer(onAppend func(AppendRecord)) *SourceBuffer {
	return &SourceBuffer{
		windowEnd: math.Inf(1),
		now:       time.Now,
		onAppend:  onAppend,
	}
}

// BufferedEnd 最后一个区间的末端
func (b *SourceBuffer) BufferedEnd() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ranges) == 0 {
		return 0
	}
	return b.ranges[len(b.ranges)-1].End
}

// Buffered 已缓冲区间（副本）
func (b *SourceBuffer) Buffered() []TimeRange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TimeRange(nil), b.ranges...)
}

func (b *SourceBuffer) SetAppendWindow(start, end float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windowStart = start
	b.windowEnd = end
}

func (b *SourceBuffer) SetTimestampOffset(offset float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timestampOffset = offset
}

// AppendBuffer 按时间偏移放置整个分段，只保留落在追加窗口内的部分
func (b *SourceBuffer) AppendBuffer(data []byte) error {
	raw := gapless.RawDuration(data)

	b.mu.Lock()
	mediaStart := b.timestampOffset
	placed := TimeRange{
		Start: math.Max(mediaStart, b.windowStart),
		End:   math.Min(mediaStart+raw, b.windowEnd),
	}
	if placed.End > placed.Start {
		b.insertLocked(placed)
	} else {
		placed = TimeRange{Start: placed.Start, End: placed.Start}
	}
	rec := AppendRecord{
		Data:            data,
		WindowStart:     b.windowStart,
		WindowEnd:       b.windowEnd,
		TimestampOffset: b.timestampOffset,
		Placed:          placed,
	}
	onAppend := b.onAppend
	b.mu.Unlock()

	if onAppend != nil {
		onAppend(rec)
	}
	return nil
}

func (b *SourceBuffer) insertLocked(r TimeRange) {
	b.ranges = append(b.ranges, r)
	sort.Slice(b.ranges, func(i, j int) bool { return b.ranges[i].Start < b.ranges[j].Start })

	merged := b.ranges[:1]
	for _, cur := range b.ranges[1:] {
		last := &merged[len(merged)-1]
		if cur.Start <= last.End+rangeEpsilon {
			last.End = math.Max(last.End, cur.End)
			continue
		}
		merged = append(merged, cur)
	}
	b.ranges = merged
}

func (b *SourceBuffer) Play() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.playing {
		return
	}
	b.playing = true
	b.playBasis = b.now()
}

func (b *SourceBuffer) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentTime = b.currentTimeLocked()
	b.playing = false
}

func (b *SourceBuffer) SetCurrentTime(seconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentTime = math.Max(seconds, 0)
	b.playBasis = b.now()
}

// CurrentTime 当前播放位置；播放到已缓冲末端时停住
func (b *SourceBuffer) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentTimeLocked()
}

func (b *SourceBuffer) currentTimeLocked() float64 {
	if !b.playing {
		return b.currentTime
	}
	t := b.currentTime + b.now().Sub(b.playBasis).Seconds()
	if end := b.bufferedEndAt(b.currentTime); t > end {
		t = math.Max(end, b.currentTime)
	}
	return t
}

// bufferedEndAt 包含 t 的区间末端；t 不在任何区间内时返回 t
func (b *SourceBuffer) bufferedEndAt(t float64) float64 {
	for _, r := range b.ranges {
		if t >= r.Start-rangeEpsilon && t <= r.End {
			return r.End
		}
	}
	return t
}

// Playing 是否在播放
func (b *SourceBuffer) Playing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}
