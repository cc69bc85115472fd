// Package handlers 基于 neffos 的回放控制通道，供遥控端或多窗口同步使用。
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kataras/iris/v12/websocket"
	"github.com/kataras/neffos"

	"sensor-playback/internal/playback"
)

// Namespace 控制通道的 neffos 命名空间
const Namespace = "playback"

// ErrNoSession 直播页面没有可控制的时间轴
var ErrNoSession = errors.New("no playback session")

// Controller 共享时间轴的控制面，由 playback.Clock 实现
type Controller interface {
	Play()
	Pause()
	Toggle()
	Scrub(timeMs int64)
	Snapshot() playback.ClockState
}

// ControlHandler 控制事件处理器
type ControlHandler struct {
	clock Controller
}

// NewControlHandler 创建处理器；clock 为 nil 时所有控制事件返回 ErrNoSession
func NewControlHandler(clock Controller) *ControlHandler {
	return &ControlHandler{clock: clock}
}

type scrubRequest struct {
	Time *int64 `json:"time"`
}

// Apply 执行一个控制事件并返回执行后的时间轴状态；scrub 的 body 须带 time 字段
func (h *ControlHandler) Apply(event string, body []byte) (playback.ClockState, error) {
	if h.clock == nil {
		return playback.ClockState{}, ErrNoSession
	}

	switch event {
	case "play":
		h.clock.Play()
	case "pause":
		h.clock.Pause()
	case "toggle":
		h.clock.Toggle()
	case "scrub":
		var req scrubRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return playback.ClockState{}, fmt.Errorf("decoding scrub: %w", err)
		}
		if req.Time == nil {
			return playback.ClockState{}, errors.New("scrub: time required")
		}
		h.clock.Scrub(*req.Time)
	case "state":
	default:
		return playback.ClockState{}, fmt.Errorf("unknown event %q", event)
	}
	return h.clock.Snapshot(), nil
}

// OnConnect 连接建立，先推送一次当前状态
func (h *ControlHandler) OnConnect(c *neffos.NSConn, msg neffos.Message) error {
	fmt.Printf("[Control] 客户端连接: %s\n", c.Conn.ID())
	if h.clock != nil {
		h.emitState(c, h.clock.Snapshot())
	}
	return nil
}

// OnDisconnect 连接断开
func (h *ControlHandler) OnDisconnect(c *neffos.NSConn, msg neffos.Message) error {
	fmt.Printf("[Control] 客户端断开: %s\n", c.Conn.ID())
	return nil
}

// onEvent 执行控制事件；新状态回给发送方并广播给同一命名空间的其他连接
func (h *ControlHandler) onEvent(c *neffos.NSConn, msg neffos.Message) error {
	state, err := h.Apply(msg.Event, msg.Body)
	if err != nil {
		playback.LogWarn("控制事件被拒绝", "conn", c.Conn.ID(), "event", msg.Event, "error", err)
		return err
	}
	playback.LogDebug("控制事件", "conn", c.Conn.ID(), "event", msg.Event)

	body, err := json.Marshal(state)
	if err != nil {
		return err
	}
	c.Emit("state", body)
	c.Conn.Server().Broadcast(c.Conn, neffos.Message{
		Namespace: Namespace,
		Event:     "state",
		Body:      body,
	})
	return nil
}

func (h *ControlHandler) emitState(c *neffos.NSConn, state playback.ClockState) {
	body, err := json.Marshal(state)
	if err != nil {
		return
	}
	c.Emit("state", body)
}

// RegisterEvents 注册 WebSocket 事件
func (h *ControlHandler) RegisterEvents() websocket.Namespaces {
	return websocket.Namespaces{
		Namespace: websocket.Events{
			websocket.OnNamespaceConnected:  h.OnConnect,
			websocket.OnNamespaceDisconnect: h.OnDisconnect,
			"play":                          h.onEvent,
			"pause":                         h.onEvent,
			"toggle":                        h.onEvent,
			"scrub":                         h.onEvent,
			"state":                         h.onEvent,
		},
	}
}
