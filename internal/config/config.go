package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// 视频播放
	VideoFPS             = 16
	VideoPlayTick        = time.Millisecond
	VideoPrefetchTick    = time.Millisecond
	VideoStartupGrace    = 2500 * time.Millisecond
	VideoPlayStartMargin = 5 * time.Millisecond

	// 音频分段
	AudioPrefetchTick = 10 * time.Millisecond

	// 预取请求超过该时长未完成即视为丢失，重新发起
	FetchStaleAfter = time.Second

	// 环境传感器轮询
	SensePollInterval = 250 * time.Millisecond
	SenseMinDeltaMs   = 800

	// 时间轴
	ClockTick          = 50 * time.Millisecond
	LiveTimerTick      = 10 * time.Millisecond
	DefaultHTTPTimeout = 10 * time.Second

	// MP3 无缝播放
	GaplessScanBytes = 512
	MP3SampleRate    = 44100
	SamplesPerFrame  = 1152
)

// URL 模板占位符
const (
	TokenSession   = "SESSION"
	TokenSensor    = "SENSOR"
	TokenFrame     = "FRAME"
	TokenSegment   = "SEGMENT"
	TokenTimestamp = "TIMESTAMP"
)

var (
	// 默认配置
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
	DefaultVideoRequestURL = "/videoframefetch/FRAME/SESSION/SENSOR"
	DefaultAudioRequestURL = "/audiosegmentfetch/TIMESTAMP/SEGMENT/SESSION/SENSOR"
	DefaultSenseRequestURL = "/retrieve_sense/TIMESTAMP/4/SESSION/SENSOR"
)

// Config 运行时配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Session SessionConfig `mapstructure:"session"`
}

// ServerConfig 播放服务监听配置
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Debug     bool   `mapstructure:"debug"`
	NoBrowser bool   `mapstructure:"no_browser"`
}

// BackendConfig 录像后端地址与请求模板
type BackendConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	VideoRequestURL string        `mapstructure:"video_request_url"`
	AudioRequestURL string        `mapstructure:"audio_request_url"`
	SenseRequestURL string        `mapstructure:"sense_request_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SessionConfig 对应页面全局常量 SESSION_*
type SessionConfig struct {
	ID        int            `mapstructure:"id"`
	StartTime int64          `mapstructure:"start_time"`
	EndTime   int64          `mapstructure:"end_time"`
	Sensors   []SensorConfig `mapstructure:"sensors"`
}

// SensorConfig 单个传感器；LastIndex 即 last-frame-number / last-segment-number
type SensorConfig struct {
	SensorID  int    `mapstructure:"sensor_id"`
	IP        string `mapstructure:"ip"`
	Name      string `mapstructure:"name"`
	Kind      string `mapstructure:"kind"`
	LastIndex int    `mapstructure:"last_index"`
}

// Load 读取 config.yaml 与 SENSORPB_* 环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENSORPB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"server.host", "server.port", "server.debug", "server.no_browser",
		"backend.base_url", "backend.video_request_url", "backend.audio_request_url",
		"backend.sense_request_url", "backend.timeout",
		"session.id", "session.start_time", "session.end_time",
	} {
		v.BindEnv(key)
	}

	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("backend.video_request_url", DefaultVideoRequestURL)
	v.SetDefault("backend.audio_request_url", DefaultAudioRequestURL)
	v.SetDefault("backend.sense_request_url", DefaultSenseRequestURL)
	v.SetDefault("backend.timeout", DefaultHTTPTimeout)
	v.SetDefault("session.id", -1)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// HasSession 是否为回放模式（SESSION_ID == -1 为直播页面）
func (c *Config) HasSession() bool {
	return c.Session.ID != -1
}

// Validate 检查配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	if !c.HasSession() {
		return nil
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Session.EndTime <= c.Session.StartTime {
		return fmt.Errorf("session.end_time must be after session.start_time")
	}

	seen := make(map[int]bool)
	for _, s := range c.Session.Sensors {
		if seen[s.SensorID] {
			return fmt.Errorf("sensor %d: duplicate sensor_id", s.SensorID)
		}
		seen[s.SensorID] = true
		if s.LastIndex < 0 {
			return fmt.Errorf("sensor %d: last_index must not be negative", s.SensorID)
		}
	}

	return nil
}
