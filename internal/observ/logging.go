package observ

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// SetLevel adjusts the global log threshold ("debug", "info", "warn", "error").
func SetLevel(level string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		logger = logger.Level(lvl)
	}
}

func Log(event string, kv map[string]any) {
	emit(logger.Info(), event, kv)
}

func Debug(event string, kv map[string]any) {
	emit(logger.Debug(), event, kv)
}

func Warn(event string, kv map[string]any) {
	emit(logger.Warn(), event, kv)
}

// Error marks breach, transport-failure, and authentication-failure sites;
// these lines are the operator's first view of a halt.
func Error(event string, kv map[string]any) {
	emit(logger.Error(), event, kv)
}

func emit(e *zerolog.Event, event string, kv map[string]any) {
	if kv != nil {
		e = e.Fields(kv)
	}
	e.Msg(event)
}
