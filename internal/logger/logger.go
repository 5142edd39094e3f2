package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level 控制日志输出的最低级别。
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu  sync.RWMutex
	min = LevelInfo
	std = log.New(os.Stderr, "", log.Ldate|log.Ltime)
)

// SetLevel 调整最低输出级别。
func SetLevel(l Level) {
	mu.Lock()
	min = l
	mu.Unlock()
}

// ParseLevel 解析 debug/info/warn/error，未知值回退为 info。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput 重定向日志输出，默认 stderr。
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func logf(l Level, tag, format string, args ...any) {
	mu.RLock()
	enabled := l >= min
	mu.RUnlock()
	if !enabled {
		return
	}
	std.Print(tag + " " + fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(LevelDebug, "[DEBUG]", format, args...) }

func Infof(format string, args ...any) { logf(LevelInfo, "[INFO]", format, args...) }

func Warnf(format string, args ...any) { logf(LevelWarn, "[WARN]", format, args...) }

func Errorf(format string, args ...any) { logf(LevelError, "[ERROR]", format, args...) }
