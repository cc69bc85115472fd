package models

import (
	"fmt"
	"strings"
)

// SensorKind 传感器类型
type SensorKind int

const (
	KindUnknown SensorKind = iota
	KindCamera
	KindMicrophone
	KindEnvironmental
)

func (k SensorKind) String() string {
	switch k {
	case KindCamera:
		return "Camera"
	case KindMicrophone:
		return "Microphone"
	case KindEnvironmental:
		return "EnvironmentalSensor"
	default:
		return "Unknown"
	}
}

// MarshalText 以名称序列化
func (k SensorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 按名称解析，与 MarshalText 对应
func (k *SensorKind) UnmarshalText(b []byte) error {
	if strings.EqualFold(string(b), KindUnknown.String()) {
		*k = KindUnknown
		return nil
	}
	kind, err := ParseSensorKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseSensorKind 解析传感器类型，兼容采集端的 PiCamera / SenseHat 命名
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "camera", "picamera":
		return KindCamera, nil
	case "microphone", "mic":
		return KindMicrophone, nil
	case "environmentalsensor", "environmental", "sensehat":
		return KindEnvironmental, nil
	}
	return KindUnknown, fmt.Errorf("unknown sensor kind: %q", s)
}

// SensorTrack 会话中的一个传感器轨道
type SensorTrack struct {
	SensorID  int        `json:"sensorId"`
	IP        string     `json:"ip"`
	Name      string     `json:"name"`
	Kind      SensorKind `json:"kind"`
	LastIndex int        `json:"lastIndex"` // last-frame-number / last-segment-number
}

// Session 一段已录制的会话，只读
type Session struct {
	ID        int           `json:"id"`
	StartTime int64         `json:"startTime"` // epoch ms
	EndTime   int64         `json:"endTime"`   // epoch ms
	Tracks    []SensorTrack `json:"tracks"`
}

// Duration 会话时长 (ms)
func (s *Session) Duration() int64 {
	return s.EndTime - s.StartTime
}

// Ratio 把绝对时间换算为会话内 [0,1] 比例（不截断）
func (s *Session) Ratio(timeMs int64) float64 {
	d := s.Duration()
	if d <= 0 {
		return 0
	}
	return float64(timeMs-s.StartTime) / float64(d)
}

// Clamp 把时间限制在会话区间内
func (s *Session) Clamp(timeMs int64) int64 {
	return min(max(timeMs, s.StartTime), s.EndTime)
}

// TracksOf 按类型筛选轨道，保持原有顺序
func (s *Session) TracksOf(kind SensorKind) []SensorTrack {
	var out []SensorTrack
	for _, t := range s.Tracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Track 按 sensor id 查找
func (s *Session) Track(sensorID int) (SensorTrack, bool) {
	for _, t := range s.Tracks {
		if t.SensorID == sensorID {
			return t, true
		}
	}
	return SensorTrack{}, false
}
