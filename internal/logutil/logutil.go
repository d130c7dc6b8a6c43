// Package logutil is a thin leveled wrapper around the stdlib log.Logger,
// adapted from amirimatin-go-cluster's pkg/internal/logutil: no
// third-party structured-logging library appears anywhere in this repo's
// reference corpus, so plain log.Logger with an optional single-line-JSON
// mode is the grounded choice.
package logutil

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

var jsonMode atomic.Bool

func init() {
	if os.Getenv("MOLDUDP64_LOG_JSON") == "1" || os.Getenv("MOLDUDP64_LOG_FORMAT") == "json" {
		jsonMode.Store(true)
	}
}

// SetJSON toggles single-line JSON log output at runtime, without relying
// on the environment.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

func prefix(l *log.Logger, p string) *log.Logger {
	if l == nil {
		l = log.Default()
	}
	return log.New(l.Writer(), p, l.Flags())
}

// Infof logs at info level.
func Infof(l *log.Logger, f string, args ...any) { logf(l, "info", f, args...) }

// Warnf logs at warn level.
func Warnf(l *log.Logger, f string, args ...any) { logf(l, "warn", f, args...) }

// Errorf logs at error level.
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

func logf(l *log.Logger, level, f string, args ...any) {
	if jsonMode.Load() {
		msg := fmt.Sprintf(f, args...)
		evt := map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": level,
			"msg":   msg,
		}
		b, _ := json.Marshal(evt)
		if l == nil {
			l = log.Default()
		}
		l.Println(string(b))
		return
	}
	switch level {
	case "info":
		prefix(l, "INFO ").Printf(f, args...)
	case "warn":
		prefix(l, "WARN ").Printf(f, args...)
	default:
		prefix(l, "ERROR ").Printf(f, args...)
	}
}
