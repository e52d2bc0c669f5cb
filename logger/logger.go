package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu      sync.RWMutex
	level   = LevelInfo
	std     = log.New(os.Stderr, "", log.Ldate|log.Ltime)
	logFile = ""
	fileMu  sync.Mutex
)

// ParseLevel maps "debug", "info", "warn", "error" to a Level, defaulting to info
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

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects all leveled output, tests use a buffer
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// SetLogFile sets the file AppendLog writes to, empty disables it
func SetLogFile(path string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	logFile = path
}

func output(l Level, prefix, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	std.Output(3, prefix+fmt.Sprintf(format, args...))
}

func Debug(format string, args ...any) { output(LevelDebug, "DEBUG: ", format, args...) }
func Info(format string, args ...any)  { output(LevelInfo, "INFO: ", format, args...) }
func Warn(format string, args ...any)  { output(LevelWarn, "WARN: ", format, args...) }
func Error(format string, args ...any) { output(LevelError, "ERROR: ", format, args...) }

// AppendLog writes one timestamped line to the ingestion log file
func AppendLog(line string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile == "" {
		return
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		Error("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	if _, err := f.WriteString(timestamp + " " + line + "\n"); err != nil {
		Error("failed to write log: %v", err)
	}
}
