// Package log is a small leveled key/value logger over the standard
// library logger. Output goes to stderr, one line per entry:
//
//	2025-01-01T09:00:00.000000001+01:00 [INFO] pass completed sources=3 merged=2
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

var (
	mu       sync.Mutex
	out      = stdlog.New(os.Stderr, "", 0)
	minLevel = LevelInfo
)

// ParseLevel maps a config/flag string to a Level. Unknown values
// fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

func Debug(msg string, kv ...any) { emit(LevelDebug, "DEBUG", msg, kv) }

func Info(msg string, kv ...any) { emit(LevelInfo, "INFO", msg, kv) }

// Error logs msg with err prepended as the first key/value pair.
func Error(msg string, err error, kv ...any) {
	emit(LevelError, "ERROR", msg, append([]any{"err", err}, kv...))
}

func emit(l Level, tag, msg string, kv []any) {
	mu.Lock()
	enabled := l >= minLevel
	mu.Unlock()
	if !enabled {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(tag)
	b.WriteString("] ")
	b.WriteString(msg)

	// kv is expected as alternating key, value; a trailing odd
	// element is ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(kv[i+1]))
	}

	out.Println(b.String())
}
