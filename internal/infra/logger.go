package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging contract handed to every component. Components take a
// *Logger and fall back to a discard logger when it is nil.
type Logger = zerolog.Logger

// NewLogger builds the process logger. Development gets a console writer at
// debug level; everything else logs JSON at info.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(appEnv, os.Stdout)
}

func newLogger(appEnv string, out io.Writer) zerolog.Logger {
	dev := appEnv == "development" || appEnv == "local"
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "mediaqueue").
		Logger()
}
