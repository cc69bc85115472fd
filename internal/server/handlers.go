package server

import (
	"strconv"

	"github.com/kataras/iris/v12"

	"sensor-playback/internal/fetch"
	"sensor-playback/internal/handlers"
	"sensor-playback/internal/models"
)

// Handlers API 处理器
type Handlers struct {
	srv     *PlaybackServer
	control *handlers.ControlHandler
}

// NewHandlers 创建处理器；WebSocket 上行控制与 neffos 控制通道共用同一处理
func NewHandlers(srv *PlaybackServer) *Handlers {
	var clock handlers.Controller
	if srv.HasSession() {
		clock = srv.Clock()
	}
	return &Handlers{srv: srv, control: handlers.NewControlHandler(clock)}
}

// requireSession 直播页面没有回放会话，回放接口返回 409
func (h *Handlers) requireSession(ctx iris.Context) bool {
	if h.srv.HasSession() {
		return true
	}
	ctx.StatusCode(iris.StatusConflict)
	ctx.JSON(iris.Map{"error": "没有回放会话"})
	return false
}

// GetSession 会话信息
// GET /api/v1/session
func (h *Handlers) GetSession(ctx iris.Context) {
	ctx.JSON(iris.Map{
		"hasSession": h.srv.HasSession(),
		"session":    h.srv.Session(),
	})
}

// GetPlayback 时间轴与各轨道状态
// GET /api/v1/playback
func (h *Handlers) GetPlayback(ctx iris.Context) {
	if !h.requireSession(ctx) {
		return
	}
	ctx.JSON(h.srv.Status())
}

// Play 开始回放
// POST /api/v1/playback/play
func (h *Handlers) Play(ctx iris.Context) {
	if !h.requireSession(ctx) {
		return
	}
	h.srv.Clock().Play()
	ctx.JSON(h.srv.Clock().Snapshot())
}

// Pause 暂停回放
// POST /api/v1/playback/pause
func (h *Handlers) Pause(ctx iris.Context) {
	if !h.requireSession(ctx) {
		return
	}
	h.srv.Clock().Pause()
	ctx.JSON(h.srv.Clock().Snapshot())
}

// Toggle 播放/暂停切换
// POST /api/v1/playback/toggle
func (h *Handlers) Toggle(ctx iris.Context) {
	if !h.requireSession(ctx) {
		return
	}
	h.srv.Clock().Toggle()
	ctx.JSON(h.srv.Clock().Snapshot())
}

// Scrub 跳转到绝对时间 (epoch ms)，超出会话范围时截断
// POST /api/v1/playback/scrub
func (h *Handlers) Scrub(ctx iris.Context) {
	if !h.requireSession(ctx) {
		return
	}

	var req struct {
		Time *int64 `json:"time"`
	}
	if err := ctx.ReadJSON(&req); err != nil || req.Time == nil {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "缺少 time 参数"})
		return
	}

	h.srv.Clock().Scrub(*req.Time)
	ctx.JSON(h.srv.Clock().Snapshot())
}

// GetFrame 视频轨当前显示的 JPEG
// GET /api/v1/tracks/{sensor}/frame
func (h *Handlers) GetFrame(ctx iris.Context) {
	sensorID, err := ctx.Params().GetInt("sensor")
	if err != nil {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "无效的传感器"})
		return
	}

	session := h.srv.Session()
	if track, ok := session.Track(sensorID); !ok || track.Kind != models.KindCamera {
		ctx.StatusCode(iris.StatusNotFound)
		ctx.JSON(iris.Map{"error": "没有该视频传感器"})
		return
	}

	f, ok := h.srv.CurrentFrame(sensorID)
	if !ok {
		ctx.StatusCode(iris.StatusNotFound)
		ctx.JSON(iris.Map{"error": "尚未显示任何帧"})
		return
	}

	ctx.Header("frame-number", strconv.Itoa(f.Index))
	if f.Time > 0 {
		ctx.Header(fetch.HeaderFrameTime, strconv.FormatInt(f.Time, 10))
	}
	ctx.ContentType("image/jpeg")
	ctx.Write(f.Data)
}

// GetSense 环境轨当前显示值
// GET /api/v1/tracks/{sensor}/sense
func (h *Handlers) GetSense(ctx iris.Context) {
	sensorID, err := ctx.Params().GetInt("sensor")
	if err != nil {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "无效的传感器"})
		return
	}

	d, ok := h.srv.Sense(sensorID)
	if !ok {
		ctx.StatusCode(iris.StatusNotFound)
		ctx.JSON(iris.Map{"error": "没有该环境传感器"})
		return
	}
	ctx.JSON(d)
}

// ==================== 直播计时 ====================

func (h *Handlers) liveState() iris.Map {
	live := h.srv.Live()
	return iris.Map{
		"running": live.Running(),
		"elapsed": live.Update(),
	}
}

// GetLive 直播计时
// GET /api/v1/live
func (h *Handlers) GetLive(ctx iris.Context) {
	ctx.JSON(h.liveState())
}

// StartLive POST /api/v1/live/start
func (h *Handlers) StartLive(ctx iris.Context) {
	h.srv.Live().Start()
	ctx.JSON(h.liveState())
}

// StopLive POST /api/v1/live/stop
func (h *Handlers) StopLive(ctx iris.Context) {
	h.srv.Live().Stop()
	ctx.JSON(h.liveState())
}

// ResetLive POST /api/v1/live/reset
func (h *Handlers) ResetLive(ctx iris.Context) {
	h.srv.Live().Reset()
	ctx.JSON(h.liveState())
}

// ==================== 路由注册 ====================

// RegisterRoutes 注册路由
func RegisterRoutes(app *iris.Application, h *Handlers) {
	v1 := app.Party("/api/v1")
	{
		v1.Get("/session", h.GetSession)
		v1.Get("/playback", h.GetPlayback)
		v1.Post("/playback/play", h.Play)
		v1.Post("/playback/pause", h.Pause)
		v1.Post("/playback/toggle", h.Toggle)
		v1.Post("/playback/scrub", h.Scrub)
		v1.Get("/tracks/{sensor:int}/frame", h.GetFrame)
		v1.Get("/tracks/{sensor:int}/sense", h.GetSense)
		v1.Get("/live", h.GetLive)
		v1.Post("/live/start", h.StartLive)
		v1.Post("/live/stop", h.StopLive)
		v1.Post("/live/reset", h.ResetLive)
		v1.Get("/stream", h.HandleWebSocket) // WebSocket 回放推送
	}
}
