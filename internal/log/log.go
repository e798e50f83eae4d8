package log

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu     sync.Mutex
	logger zerolog.Logger
	inited bool
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	mu.Lock()
	defer mu.Unlock()
	if inited {
		return
	}
	zerolog.TimeFieldFormat = time.RFC3339
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger = zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	inited = true
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	switch l {
	case LevelDebug:
		logger = logger.Level(zerolog.DebugLevel)
	case LevelInfo:
		logger = logger.Level(zerolog.InfoLevel)
	case LevelError:
		logger = logger.Level(zerolog.ErrorLevel)
	}
}

func Debug(msg string, kv ...any) {
	initLogger()
	appendKVs(logger.Debug(), kv...).Msg(msg)
}

func Info(msg string, kv ...any) {
	initLogger()
	appendKVs(logger.Info(), kv...).Msg(msg)
}

func Error(msg string, err error, kv ...any) {
	initLogger()
	appendKVs(logger.Error().Err(err), kv...).Msg(msg)
}

// appendKVs attaches kv as pairs: key, value, key, value, ...
// Non-string keys are skipped; an odd trailing value is ignored.
func appendKVs(ev *zerolog.Event, kv ...any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Str(key, fmt.Sprint(kv[i+1]))
	}
	return ev
}
