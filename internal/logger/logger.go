// Package logger is the structured logging facade used across reqtrace.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/funnyzak/reqtrace/internal/config"
)

// consoleTimeFormat is the timestamp layout of human-readable log lines.
const consoleTimeFormat = "2006-01-02 15:04:05"

// Logger takes a message followed by alternating key/value pairs. A key
// that is not a string, or a trailing key without a value, is dropped.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	// Fatal exits the process after writing the entry.
	Fatal(msg string, kv ...any)
}

type zlog struct {
	zl zerolog.Logger
}

func (l *zlog) Debug(msg string, kv ...any) { write(l.zl.Debug(), msg, kv) }
func (l *zlog) Info(msg string, kv ...any)  { write(l.zl.Info(), msg, kv) }
func (l *zlog) Warn(msg string, kv ...any)  { write(l.zl.Warn(), msg, kv) }
func (l *zlog) Error(msg string, kv ...any) { write(l.zl.Error(), msg, kv) }
func (l *zlog) Fatal(msg string, kv ...any) { write(l.zl.Fatal(), msg, kv) }

func write(event *zerolog.Event, msg string, kv []any) {
	// Disabled levels hand back a nil event.
	if event == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			event = field(event, key, kv[i+1])
		}
	}
	event.Msg(msg)
}

func field(event *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return event.Str(key, v)
	case bool:
		return event.Bool(key, v)
	case int:
		return event.Int(key, v)
	case int64:
		return event.Int64(key, v)
	case uint64:
		return event.Uint64(key, v)
	case float64:
		return event.Float64(key, v)
	case time.Duration:
		return event.Dur(key, v)
	case time.Time:
		return event.Time(key, v)
	case error:
		return event.AnErr(key, v)
	case []string:
		return event.Strs(key, v)
	default:
		return event.Interface(key, v)
	}
}

// NewLogger builds the process logger from cfg. Console output goes to
// stderr; stdout belongs to command results.
func NewLogger(cfg *config.LogConfig) Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *config.LogConfig, out io.Writer) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	sinks := []io.Writer{out}
	if !strings.EqualFold(cfg.Format, "json") {
		sinks[0] = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}
	// The rotated file always receives JSON lines.
	if fl := cfg.FileLogging; fl.Enable {
		sinks = append(sinks, &lumberjack.Logger{
			Filename:   fl.Path,
			MaxSize:    fl.MaxSizeMB,
			MaxBackups: fl.MaxBackups,
			MaxAge:     fl.MaxAgeDays,
			Compress:   fl.Compress,
		})
	}

	return &zlog{
		zl: zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(level).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &zlog{zl: zerolog.Nop()}
}
