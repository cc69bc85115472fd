package playback

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger    *slog.Logger
	logOutput io.Writer = os.Stdout
	loggerMu  sync.RWMutex
	debugMode bool
)

func init() {
	logger = newLogger(slog.LevelInfo)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetDebugMode 设置调试模式
func SetDebugMode(enabled bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	debugMode = enabled

	level := slog.LevelInfo
	if enabled {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
}

// SetLogOutput 重定向日志输出，测试中用于静默
func SetLogOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logOutput = w

	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
}

// IsDebugMode 是否调试模式
func IsDebugMode() bool {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return debugMode
}

func current() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// LogDebug 调试日志
func LogDebug(msg string, args ...any) { current().Debug(msg, args...) }

// LogInfo 信息日志
func LogInfo(msg string, args ...any) { current().Info(msg, args...) }

// LogWarn 警告日志
func LogWarn(msg string, args ...any) { current().Warn(msg, args...) }

// LogError 错误日志
func LogError(msg string, args ...any) { current().Error(msg, args...) }
