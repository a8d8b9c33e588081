package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/sttd/internal/env"
)

// Option configures the logger.
type Option func(*options)

type options struct {
	level      *slog.LevelVar
	output     io.Writer
	logFile    string
	maxSizeMB  int
	maxBackups int
	logToFile  bool
}

// WithLogToFile enables writing logs to a rotating file in addition to stderr.
func WithLogToFile(enabled bool) Option {
	return func(o *options) {
		o.logToFile = enabled
	}
}

// WithLogFile sets the path of the rotating log file.
func WithLogFile(path string) Option {
	return func(o *options) {
		o.logFile = path
	}
}

// WithLevel makes the logger follow a level that can be changed at runtime.
func WithLevel(level *slog.LevelVar) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithOutput replaces stderr as the console writer.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// New builds a slog.Logger for the given environment.
// Development logs are colored text, production logs are JSON.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := &options{
		output:     os.Stderr,
		logFile:    "logs/sttd.log",
		maxSizeMB:  50,
		maxBackups: 5,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.level == nil {
		o.level = new(slog.LevelVar)
		if !environment.IsProduction() {
			o.level.Set(slog.LevelDebug)
		}
	}

	console := consoleHandler(environment, o)
	if !o.logToFile {
		return slog.New(console)
	}

	file := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		Compress:   true,
	}, &slog.HandlerOptions{Level: o.level})

	return slog.New(&fanout{handlers: []slog.Handler{console, file}})
}

// ParseLevel converts a config level name into a slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}

	return level
}

func consoleHandler(environment env.Environment, o *options) slog.Handler {
	if environment.IsProduction() {
		return slog.NewJSONHandler(o.output, &slog.HandlerOptions{Level: o.level})
	}

	return tint.NewHandler(o.output, &tint.Options{
		Level:      o.level,
		TimeFormat: time.Kitchen,
		NoColor:    o.output != os.Stderr && o.output != os.Stdout,
	})
}
