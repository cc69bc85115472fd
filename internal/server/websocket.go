package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"

	"sensor-playback/internal/models"
	"sensor-playback/internal/playback"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// 每个观看端的待发队列长度；写满说明对端跟不上，直接断开
const viewerQueueSize = 512

// WSMessage 观看端发来的控制消息
type WSMessage struct {
	Action string `json:"action"`
	Time   *int64 `json:"time,omitempty"`
}

type clockMessage struct {
	Type string `json:"type"`
	playback.ClockState
}

type senseMessage struct {
	Type     string              `json:"type"`
	SensorID int                 `json:"sensorId"`
	Display  models.SenseDisplay `json:"display"`
}

type liveMessage struct {
	Type    string `json:"type"`
	Elapsed string `json:"elapsed"`
}

type outbound struct {
	kind int
	data []byte
}

// viewer 单个观看端连接
type viewer struct {
	id      string
	ws      *websocket.Conn
	backlog []outbound // 加入时的初始状态，先于队列发出
	send    chan outbound
	once    sync.Once
	done    chan struct{}
}

func (v *viewer) close() {
	v.once.Do(func() {
		close(v.done)
		if v.ws != nil {
			v.ws.Close()
		}
	})
}

// Hub 管理所有观看端，把播放器的显示输出广播出去
type Hub struct {
	mu      sync.RWMutex
	viewers map[string]*viewer
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{viewers: make(map[string]*viewer)}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast 广播二进制消息
func (h *Hub) Broadcast(data []byte) {
	h.broadcast(outbound{kind: websocket.BinaryMessage, data: data})
}

// BroadcastJSON 广播 JSON 消息
func (h *Hub) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		playback.LogError("广播消息序列化失败", "error", err)
		return
	}
	h.broadcast(outbound{kind: websocket.TextMessage, data: data})
}

func (h *Hub) broadcast(msg outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, v := range h.viewers {
		select {
		case v.send <- msg:
		case <-v.done:
		default:
			fmt.Printf("[WS] 观看端 %s 发送队列已满，断开\n", v.id)
			v.close()
		}
	}
}

func (h *Hub) add(v *viewer) {
	h.mu.Lock()
	h.viewers[v.id] = v
	h.mu.Unlock()
	viewersGauge.Inc()
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[v.id]; ok {
		delete(h.viewers, v.id)
		viewersGauge.Dec()
	}
	h.mu.Unlock()
	v.close()
}

// HandleWebSocket 观看端 WebSocket：下行推送帧、音频与时间轴，上行接收控制消息
func (h *Handlers) HandleWebSocket(ctx iris.Context) {
	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}

	v := &viewer{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan outbound, viewerQueueSize),
		done: make(chan struct{}),
	}
	fmt.Printf("[WS] 新连接: %s\n", v.id)

	hello, _ := json.Marshal(iris.Map{"type": "hello", "viewer": v.id, "session": h.srv.Session()})
	v.backlog = []outbound{{kind: websocket.TextMessage, data: hello}}

	h.srv.attach(v)
	defer h.srv.Hub().remove(v)

	go v.writeLoop()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("[WS] Error: %v\n", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendJSON(v, iris.Map{"type": "error", "error": "invalid JSON"})
			continue
		}

		// scrub 的 time 字段与控制通道的事件体同形，直接交给同一处理
		if _, err := h.control.Apply(msg.Action, message); err != nil {
			h.sendJSON(v, iris.Map{"type": "error", "error": err.Error()})
			continue
		}
		if playback.IsDebugMode() {
			fmt.Printf("[WS] %s: action=%s\n", v.id, msg.Action)
		}
	}

	fmt.Printf("[WS] 断开连接: %s\n", v.id)
}

func (h *Handlers) sendJSON(v *viewer, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	select {
	case v.send <- outbound{kind: websocket.TextMessage, data: data}:
	case <-v.done:
	}
}

func (v *viewer) writeLoop() {
	for _, msg := range v.backlog {
		if err := v.ws.WriteMessage(msg.kind, msg.data); err != nil {
			v.close()
			return
		}
	}
	v.backlog = nil

	for {
		select {
		case <-v.done:
			return
		case msg := <-v.send:
			if err := v.ws.WriteMessage(msg.kind, msg.data); err != nil {
				v.close()
				return
			}
		}
	}
}

// ==================== 二进制帧格式 ====================

const (
	frameMagic       = "MJPG"
	appendMagic      = "MP3A"
	frameHeaderSize  = 24
	appendHeaderSize = 40
)

// EncodeFrameMessage 视频帧消息
// 格式: Magic(4) + DisplayTime(8) + SensorID(4) + Frame(4) + DataLen(4) + JPEG
func EncodeFrameMessage(displayTimeMs int64, sensorID int, f models.BufferedFrame) []byte {
	buf := make([]byte, frameHeaderSize+len(f.Data))
	copy(buf[0:4], frameMagic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(displayTimeMs))
	binary.BigEndian.PutUint32(buf[12:16], uint32(sensorID))
	binary.BigEndian.PutUint32(buf[16:20], uint32(f.Index))
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(f.Data)))
	copy(buf[frameHeaderSize:], f.Data)
	return buf
}

// EncodeAppendMessage 音频追加消息，观看端按同样的窗口与偏移追加到自己的 SourceBuffer
// 格式: Magic(4) + SensorID(4) + Segment(4) + WindowStart(8) + WindowEnd(8) + TimestampOffset(8) + DataLen(4) + MP3
// 浮点数按 IEEE 754 位存储，开放窗口的末端为 +Inf
func EncodeAppendMessage(sensorID, segment int, rec playback.AppendRecord) []byte {
	buf := make([]byte, appendHeaderSize+len(rec.Data))
	copy(buf[0:4], appendMagic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(sensorID))
	binary.BigEndian.PutUint32(buf[8:12], uint32(segment))
	binary.BigEndian.PutUint64(buf[12:20], math.Float64bits(rec.WindowStart))
	binary.BigEndian.PutUint64(buf[20:28], math.Float64bits(rec.WindowEnd))
	binary.BigEndian.PutUint64(buf[28:36], math.Float64bits(rec.TimestampOffset))
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(rec.Data)))
	copy(buf[appendHeaderSize:], rec.Data)
	return buf
}
