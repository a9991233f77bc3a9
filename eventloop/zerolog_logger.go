package eventloop

import (
	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface, grounded
// in the same "wrap the third-party logger, map levels, fields one by
// one" pattern the pack's zerolog adapter uses — without pulling in the
// structured-logging facade that adapter targets, since eventloop already
// defines its own Logger contract.
type ZerologLogger struct {
	Z zerolog.Logger
}

// NewZerologLogger wraps z as a Logger.
func NewZerologLogger(z zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{Z: z}
}

// IsEnabled reports whether level is enabled on the underlying zerolog
// logger.
func (l *ZerologLogger) IsEnabled(level LogLevel) bool {
	return l.Z.GetLevel() <= toZerologLevel(level)
}

// Log emits entry through the underlying zerolog.Logger.
func (l *ZerologLogger) Log(entry LogEntry) {
	ev := l.Z.WithLevel(toZerologLevel(entry.Level))
	if entry.Category != "" {
		ev = ev.Str("category", entry.Category)
	}
	if entry.LoopID != 0 {
		ev = ev.Int64("loop_id", entry.LoopID)
	}
	if entry.TaskID != 0 {
		ev = ev.Int64("task_id", entry.TaskID)
	}
	if entry.TimerID != 0 {
		ev = ev.Int64("timer_id", entry.TimerID)
	}
	if entry.Err != nil {
		ev = ev.Err(entry.Err)
	}
	for k, v := range entry.Context {
		ev = ev.Interface(k, v)
	}
	ev.Msg(entry.Message)
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
