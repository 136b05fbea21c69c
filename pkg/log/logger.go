package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
	LevelFatal: zerolog.FatalLevel,
}

// ParseLevel maps a case-insensitive level name to a LogLevel, falling back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

type Logger struct {
	level LogLevel
	zl    zerolog.Logger
}

type Option func(*options)

type options struct {
	format string
	out    io.Writer
}

// WithFormat selects "console" (default) or "json" output.
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = strings.ToLower(strings.TrimSpace(format))
	}
}

// WithWriter redirects output, mostly for tests.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

func NewLogger(level LogLevel, opts ...Option) *Logger {
	o := options{format: "console", out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	var base zerolog.Logger
	if o.format == "json" {
		base = zerolog.New(o.out).With().Timestamp().Logger()
	} else {
		out := zerolog.ConsoleWriter{Out: o.out, TimeFormat: time.DateTime, NoColor: o.out != os.Stdout}
		base = zerolog.New(out).With().Timestamp().Logger()
	}

	return &Logger{
		level: level,
		zl:    base.Level(zerologLevels[level]),
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.zl = l.zl.Level(zerologLevels[level])
}

// Zerolog exposes the underlying structured logger.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		level: l.level,
		zl:    l.zl.With().Str(key, value).Logger(),
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, 2, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, 2, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, 2, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, 2, format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, 2, format, args...)
	os.Exit(1)
}

func (l *Logger) log(level LogLevel, skip int, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	fileName := "unknown"
	_, file, line, ok := runtime.Caller(skip)
	if ok {
		fileName = filepath.Base(file)
	}

	// WithLevel keeps Fatal from exiting inside zerolog; Fatal exits itself.
	l.zl.WithLevel(zerologLevels[level]).
		Str("caller", fmt.Sprintf("%s:%d", fileName, line)).
		Msg(fmt.Sprintf(format, args...))
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

func InitLogger(level LogLevel, opts ...Option) {
	l := NewLogger(level, opts...)
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

func GetLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// Job returns a logger tagged with the job id.
func Job(id string) *Logger {
	return GetLogger().With("job_id", id)
}

func Debug(format string, args ...interface{}) {
	GetLogger().log(LevelDebug, 2, format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().log(LevelInfo, 2, format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().log(LevelWarn, 2, format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().log(LevelError, 2, format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().log(LevelFatal, 2, format, args...)
	os.Exit(1)
}
