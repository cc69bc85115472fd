// Package fetch 录像后端的 HTTP 客户端：按 URL 模板请求 JPEG 帧、MP3 分段与环境采样。
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sensor-playback/internal/config"
	"sensor-playback/internal/models"
)

// 后端响应头
const (
	HeaderFrameTime     = "frame-time"
	HeaderSegmentNumber = "segment-number"
	HeaderSegmentTime   = "segment-time"
)

// ErrNoData 该时刻没有环境采样
var ErrNoData = errors.New("no data at this point")

// StatusError 后端返回非 2xx 状态
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Client 录像后端客户端
type Client struct {
	baseURL    string
	videoURL   string
	audioURL   string
	senseURL   string
	httpClient *http.Client
}

// NewClient 按后端配置创建客户端
func NewClient(cfg config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		videoURL: orDefault(cfg.VideoRequestURL, config.DefaultVideoRequestURL),
		audioURL: orDefault(cfg.AudioRequestURL, config.DefaultAudioRequestURL),
		senseURL: orDefault(cfg.SenseRequestURL, config.DefaultSenseRequestURL),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Expand 替换模板中的占位符；未提供的占位符保持原样
func Expand(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for token, v := range values {
		pairs = append(pairs, token, v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// FrameURL 帧请求地址
func (c *Client) FrameURL(sessionID, sensorID, frame int) string {
	return c.resolve(Expand(c.videoURL, map[string]string{
		config.TokenSession: strconv.Itoa(sessionID),
		config.TokenSensor:  strconv.Itoa(sensorID),
		config.TokenFrame:   strconv.Itoa(frame),
	}))
}

// SegmentURL 分段请求地址；按分段号请求时 timestamp 为 -1，反之亦然
func (c *Client) SegmentURL(sessionID, sensorID, segment int, timestamp int64) string {
	return c.resolve(Expand(c.audioURL, map[string]string{
		config.TokenSession:   strconv.Itoa(sessionID),
		config.TokenSensor:    strconv.Itoa(sensorID),
		config.TokenSegment:   strconv.Itoa(segment),
		config.TokenTimestamp: strconv.FormatInt(timestamp, 10),
	}))
}

// SenseURL 环境采样请求地址
func (c *Client) SenseURL(sessionID, sensorID int, timeMs int64) string {
	return c.resolve(Expand(c.senseURL, map[string]string{
		config.TokenSession:   strconv.Itoa(sessionID),
		config.TokenSensor:    strconv.Itoa(sensorID),
		config.TokenTimestamp: strconv.FormatInt(timeMs, 10),
	}))
}

// get 发起请求并读完响应体
func (c *Client) get(ctx context.Context, kind, url string) ([]byte, http.Header, error) {
	start := time.Now()
	body, header, err := c.do(ctx, url)
	observe(kind, start, len(body), err)
	return body, header, err
}

func (c *Client) do(ctx context.Context, url string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, resp.Header, nil
}

// FetchFrame 获取一帧 JPEG；frame-time 响应头可选
func (c *Client) FetchFrame(ctx context.Context, sessionID, sensorID, frame int) (models.BufferedFrame, error) {
	body, header, err := c.get(ctx, "frame", c.FrameURL(sessionID, sensorID, frame))
	if err != nil {
		return models.BufferedFrame{}, err
	}
	if len(body) == 0 {
		return models.BufferedFrame{}, fmt.Errorf("frame %d: empty body", frame)
	}

	t, _ := headerInt(header, HeaderFrameTime)
	return models.BufferedFrame{Index: frame, Data: body, Time: t}, nil
}

// FetchSegment 获取一个 MP3 分段，分段号与时间取自响应头
func (c *Client) FetchSegment(ctx context.Context, sessionID, sensorID, segment int, timestamp int64) (models.BufferedSegment, error) {
	body, header, err := c.get(ctx, "segment", c.SegmentURL(sessionID, sensorID, segment, timestamp))
	if err != nil {
		return models.BufferedSegment{}, err
	}
	if len(body) == 0 {
		return models.BufferedSegment{}, fmt.Errorf("segment %d: empty body", segment)
	}

	seg := models.BufferedSegment{Index: segment, Data: body}
	if n, ok := headerInt(header, HeaderSegmentNumber); ok {
		seg.Index = int(n)
	}
	seg.Time, _ = headerInt(header, HeaderSegmentTime)
	return seg, nil
}

// Sense 获取最接近给定时间的环境采样；后端返回空对象时为 ErrNoData
func (c *Client) Sense(ctx context.Context, sessionID, sensorID int, timeMs int64) (models.SenseSample, error) {
	body, _, err := c.get(ctx, "sense", c.SenseURL(sessionID, sensorID, timeMs))
	if err != nil {
		return models.SenseSample{}, err
	}
	return decodeSense(body)
}

// FetchSense 无数据时返回 nil 采样
func (c *Client) FetchSense(ctx context.Context, sessionID, sensorID int, timeMs int64) (*models.SenseSample, error) {
	sample, err := c.Sense(ctx, sessionID, sensorID, timeMs)
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func decodeSense(body []byte) (models.SenseSample, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return models.SenseSample{}, ErrNoData
	}

	var raw struct {
		Temperature *float64 `json:"temperature"`
		Pressure    *float64 `json:"pressure"`
		Humidity    *float64 `json:"humidity"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.SenseSample{}, fmt.Errorf("decoding sense sample: %w", err)
	}
	if raw.Temperature == nil && raw.Pressure == nil && raw.Humidity == nil {
		return models.SenseSample{}, ErrNoData
	}

	var s models.SenseSample
	if raw.Temperature != nil {
		s.Temperature = *raw.Temperature
	}
	if raw.Pressure != nil {
		s.Pressure = *raw.Pressure
	}
	if raw.Humidity != nil {
		s.Humidity = *raw.Humidity
	}
	return s, nil
}

func headerInt(h http.Header, key string) (int64, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// 部分后端以浮点毫秒返回
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}
