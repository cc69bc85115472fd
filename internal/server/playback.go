package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"sensor-playback/internal/config"
	"sensor-playback/internal/fetch"
	"sensor-playback/internal/models"
	"sensor-playback/internal/playback"
)

// Backend 录像后端能力，由 fetch.Client 实现
type Backend interface {
	playback.FrameFetcher
	playback.SegmentFetcher
	playback.SenseFetcher
}

// PlaybackServer 回放服务核心：按会话构建各轨道，收集它们的显示输出并推送给观看端
type PlaybackServer struct {
	session    models.Session
	hasSession bool

	clock  *playback.Clock
	videos map[int]*playback.VideoPlayer
	audio  *playback.AudioPlayer
	senses map[int]*playback.SensePoller
	live   *playback.ElapsedTimer
	hub    *Hub

	mu        sync.RWMutex
	frames    map[int]models.BufferedFrame // 各视频轨最近显示的帧
	displayAt map[int]int64                // 对应的显示时刻 (epoch ms)
	appends   []audioAppend                // 追加历史，新观看端据此重建音频时间轴
	liveText  string
}

// audioAppend 一次音频追加及其分段序号
type audioAppend struct {
	sensorID int
	segment  int
	record   playback.AppendRecord
}

// NewPlaybackServer 按配置创建服务；SESSION_ID 为 -1 时只提供直播计时
func NewPlaybackServer(cfg *config.Config, backend Backend) (*PlaybackServer, error) {
	s := &PlaybackServer{
		hasSession: cfg.HasSession(),
		videos:     make(map[int]*playback.VideoPlayer),
		senses:     make(map[int]*playback.SensePoller),
		frames:     make(map[int]models.BufferedFrame),
		displayAt:  make(map[int]int64),
		liveText:   playback.FormatStopwatch(0),
	}
	s.hub = NewHub()
	s.live = playback.NewElapsedTimer(s.onLiveUpdate)

	if !s.hasSession {
		s.session = models.Session{ID: -1}
		s.clock = playback.NewClock(s.session, s)
		return s, nil
	}

	session, err := SessionFromConfig(cfg.Session)
	if err != nil {
		return nil, err
	}
	s.session = session
	s.clock = playback.NewClock(session, s)

	if mics := session.TracksOf(models.KindMicrophone); len(mics) > 1 {
		fmt.Printf("[Playback] 会话有 %d 个音频轨，只播放 sensor=%d\n", len(mics), mics[0].SensorID)
	}

	for _, track := range session.Tracks {
		switch track.Kind {
		case models.KindCamera:
			v := playback.NewVideoPlayer(session.ID, track, backend, s)
			s.videos[track.SensorID] = v
			s.clock.Add(track.SensorID, v)

		case models.KindMicrophone:
			if s.audio != nil {
				continue
			}
			sensorID := track.SensorID
			sink := playback.NewSourceBuffer(func(rec playback.AppendRecord) { s.onAppend(sensorID, rec) })
			s.audio = playback.NewAudioPlayer(session, track, backend, sink)
			s.clock.Add(track.SensorID, s.audio)

		case models.KindEnvironmental:
			p := playback.NewSensePoller(session.ID, track, backend, s, s.clock.Position)
			s.senses[track.SensorID] = p
			s.clock.Add(track.SensorID, p)
		}
	}

	fmt.Printf("[Playback] 会话 %d: 视频 %d, 音频 %v, 环境 %d\n",
		session.ID, len(s.videos), s.audio != nil, len(s.senses))
	return s, nil
}

// SessionFromConfig 把 SESSION_* 配置转换为会话模型
func SessionFromConfig(cfg config.SessionConfig) (models.Session, error) {
	session := models.Session{
		ID:        cfg.ID,
		StartTime: cfg.StartTime,
		EndTime:   cfg.EndTime,
	}
	for _, sc := range cfg.Sensors {
		kind, err := models.ParseSensorKind(sc.Kind)
		if err != nil {
			return models.Session{}, fmt.Errorf("sensor %d: %w", sc.SensorID, err)
		}
		session.Tracks = append(session.Tracks, models.SensorTrack{
			SensorID:  sc.SensorID,
			IP:        sc.IP,
			Name:      sc.Name,
			Kind:      kind,
			LastIndex: sc.LastIndex,
		})
	}
	return session, nil
}

// Run 启动所有轨道与时间轴，阻塞到 ctx 结束
func (s *PlaybackServer) Run(ctx context.Context) {
	go s.live.Run(ctx)
	if !s.hasSession {
		<-ctx.Done()
		return
	}
	s.clock.Run(ctx)
}

// Session 当前会话
func (s *PlaybackServer) Session() models.Session {
	return s.session
}

// HasSession 是否为回放模式
func (s *PlaybackServer) HasSession() bool {
	return s.hasSession
}

// Clock 共享时间轴
func (s *PlaybackServer) Clock() *playback.Clock {
	return s.clock
}

// Live 直播计时器
func (s *PlaybackServer) Live() *playback.ElapsedTimer {
	return s.live
}

// Hub 观看端连接
func (s *PlaybackServer) Hub() *Hub {
	return s.hub
}

// ==================== 显示输出 ====================

// DisplayFrame 记录并推送视频帧
func (s *PlaybackServer) DisplayFrame(sensorID int, f models.BufferedFrame) {
	at := s.clock.Position()

	s.mu.Lock()
	s.frames[sensorID] = f
	s.displayAt[sensorID] = at
	s.mu.Unlock()

	s.hub.Broadcast(EncodeFrameMessage(at, sensorID, f))
}

// RenderSense 推送环境数据
func (s *PlaybackServer) RenderSense(sensorID int, d models.SenseDisplay) {
	s.hub.BroadcastJSON(senseMessage{Type: "sense", SensorID: sensorID, Display: d})
}

// ClockTick 推送时间轴
func (s *PlaybackServer) ClockTick(state playback.ClockState) {
	s.hub.BroadcastJSON(clockMessage{Type: "clock", ClockState: state})
}

// onAppend 在锁内广播，与 attach 的快照互斥，观看端不会漏收或重复收到追加
func (s *PlaybackServer) onAppend(sensorID int, rec playback.AppendRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := audioAppend{sensorID: sensorID, segment: len(s.appends) + 1, record: rec}
	s.appends = append(s.appends, a)
	s.hub.Broadcast(EncodeAppendMessage(a.sensorID, a.segment, a.record))
}

func (s *PlaybackServer) onLiveUpdate(text string) {
	s.mu.Lock()
	changed := text != s.liveText
	s.liveText = text
	s.mu.Unlock()

	if changed {
		s.hub.BroadcastJSON(liveMessage{Type: "live", Elapsed: text})
	}
}

// attach 把新观看端加入广播，并附上已追加的音频与各轨当前帧
func (s *PlaybackServer) attach(v *viewer) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, data := range s.welcomeLocked() {
		v.backlog = append(v.backlog, outbound{kind: websocket.BinaryMessage, data: data})
	}
	s.hub.add(v)
}

func (s *PlaybackServer) welcomeLocked() [][]byte {
	var out [][]byte
	for _, a := range s.appends {
		out = append(out, EncodeAppendMessage(a.sensorID, a.segment, a.record))
	}
	for _, id := range sortedKeys(s.frames) {
		out = append(out, EncodeFrameMessage(s.displayAt[id], id, s.frames[id]))
	}
	return out
}

// ==================== 查询 ====================

// CurrentFrame 视频轨最近显示的帧
func (s *PlaybackServer) CurrentFrame(sensorID int) (models.BufferedFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[sensorID]
	return f, ok
}

// Sense 环境轨最近渲染的数据
func (s *PlaybackServer) Sense(sensorID int) (models.SenseDisplay, bool) {
	p, ok := s.senses[sensorID]
	if !ok {
		return models.SenseDisplay{}, false
	}
	return p.Display(), true
}

// Status 回放状态
type Status struct {
	Clock  playback.ClockState    `json:"clock"`
	Videos []playback.VideoStatus `json:"videos"`
	Audio  *playback.AudioStatus  `json:"audio,omitempty"`
	Senses []SenseStatus          `json:"senses"`
}

// SenseStatus 环境轨状态
type SenseStatus struct {
	SensorID int                 `json:"sensorId"`
	Display  models.SenseDisplay `json:"display"`
}

// Status 所有轨道的状态快照
func (s *PlaybackServer) Status() Status {
	st := Status{
		Clock:  s.clock.Snapshot(),
		Videos: []playback.VideoStatus{},
		Senses: []SenseStatus{},
	}
	for _, id := range sortedKeys(s.videos) {
		st.Videos = append(st.Videos, s.videos[id].Status())
	}
	if s.audio != nil {
		a := s.audio.Status()
		st.Audio = &a
	}
	for _, id := range sortedKeys(s.senses) {
		st.Senses = append(st.Senses, SenseStatus{SensorID: id, Display: s.senses[id].Display()})
	}
	return st
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// 编译期检查
var (
	_ playback.FrameSink = (*PlaybackServer)(nil)
	_ playback.SenseSink = (*PlaybackServer)(nil)
	_ playback.ClockSink = (*PlaybackServer)(nil)
	_ Backend            = (*fetch.Client)(nil)
)
