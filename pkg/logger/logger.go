// Package logger provides a process-wide structured logger built on
// log/slog, with a small zap-flavored convenience API
// (Debug/Debugf/Debugw, Info/Infof/Infow, ...) so call sites stay terse.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	Initialize(slog.LevelInfo, unstructuredLogsWithEnv(osEnv{}))
}

// Option configures a logger built with New.
type Option func(*options)

type options struct {
	output       io.Writer
	level        slog.Leveler
	unstructured bool
}

// WithOutput sets the destination writer. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithLevel sets the minimum level. Defaults to slog.LevelInfo.
func WithLevel(l slog.Leveler) Option {
	return func(o *options) { o.level = l }
}

// WithUnstructured selects the human-readable text handler instead of JSON.
func WithUnstructured(v bool) Option {
	return func(o *options) { o.unstructured = v }
}

// New builds a standalone *slog.Logger; most callers want Get() instead.
func New(opts ...Option) *slog.Logger {
	o := &options{output: os.Stderr, level: slog.LevelInfo, unstructured: true}
	for _, opt := range opts {
		opt(o)
	}
	handlerOpts := &slog.HandlerOptions{Level: o.level}
	var h slog.Handler
	if o.unstructured {
		h = slog.NewTextHandler(o.output, handlerOpts)
	} else {
		h = slog.NewJSONHandler(o.output, handlerOpts)
	}
	return slog.New(h)
}

const unstructuredLogsEnvVar = "UNSTRUCTURED_LOGS"

func getenv(key string) string {
	return os.Getenv(key)
}

// unstructuredLogsWithEnv decides console-vs-JSON from an injectable env
// reader so the decision is unit-testable without mutating os.Environ.
func unstructuredLogsWithEnv(env envReader) bool {
	v := env.Getenv(unstructuredLogsEnvVar)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// Initialize rebuilds the singleton logger from explicit settings.
func Initialize(level slog.Leveler, unstructured bool) {
	singleton.Store(New(WithLevel(level), WithUnstructured(unstructured)))
}

// InitializeWithEnv rebuilds the singleton logger, reading UNSTRUCTURED_LOGS
// through the supplied reader (os-backed in production, mocked in tests).
func InitializeWithEnv(env envReader) {
	Initialize(slog.LevelInfo, unstructuredLogsWithEnv(env))
}

// Get returns the current process-wide logger.
func Get() *slog.Logger {
	return singleton.Load()
}

// NewLogr adapts the singleton logger to a logr.Logger, for libraries
// (controller-runtime-style dependencies) that expect that interface.
func NewLogr() logr.Logger {
	return logr.FromSlogHandler(Get().Handler())
}

func log(ctx context.Context, level slog.Level, msg string, args ...any) {
	Get().Log(ctx, level, msg, args...)
}

// Debug logs at debug level.
func Debug(msg string) { log(context.Background(), slog.LevelDebug, msg) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { log(context.Background(), slog.LevelDebug, fmt.Sprintf(format, args...)) }

// Debugw logs a message with key/value pairs at debug level.
func Debugw(msg string, kv ...any) { log(context.Background(), slog.LevelDebug, msg, kv...) }

// Info logs at info level.
func Info(msg string) { log(context.Background(), slog.LevelInfo, msg) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...)) }

// Infow logs a message with key/value pairs at info level.
func Infow(msg string, kv ...any) { log(context.Background(), slog.LevelInfo, msg, kv...) }

// Warn logs at warn level.
func Warn(msg string) { log(context.Background(), slog.LevelWarn, msg) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { log(context.Background(), slog.LevelWarn, fmt.Sprintf(format, args...)) }

// Warnw logs a message with key/value pairs at warn level.
func Warnw(msg string, kv ...any) { log(context.Background(), slog.LevelWarn, msg, kv...) }

// Error logs at error level.
func Error(msg string) { log(context.Background(), slog.LevelError, msg) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...)) }

// Errorw logs a message with key/value pairs at error level.
func Errorw(msg string, kv ...any) { log(context.Background(), slog.LevelError, msg, kv...) }

// dpanicLevel sits above Error; slog has no native "DPanic" so it's
// logged at Error and panics only via the DPanic family below.
const dpanicLevel = slog.LevelError + 1

// DPanic logs at error level then panics (mirrors zap's DPanic).
func DPanic(msg string) {
	log(context.Background(), dpanicLevel, msg)
	panic(msg)
}

// DPanicf logs a formatted message at error level then panics.
func DPanicf(format string, args ...any) {
	m := fmt.Sprintf(format, args...)
	log(context.Background(), dpanicLevel, m)
	panic(m)
}

// DPanicw logs a message with key/value pairs at error level then panics.
func DPanicw(msg string, kv ...any) {
	log(context.Background(), dpanicLevel, msg, kv...)
	panic(msg)
}

// Panic logs at error level then panics unconditionally.
func Panic(msg string) {
	log(context.Background(), slog.LevelError, msg)
	panic(msg)
}

// Panicf logs a formatted message at error level then panics.
func Panicf(format string, args ...any) {
	m := fmt.Sprintf(format, args...)
	log(context.Background(), slog.LevelError, m)
	panic(m)
}

// Panicw logs a message with key/value pairs at error level then panics.
func Panicw(msg string, kv ...any) {
	log(context.Background(), slog.LevelError, msg, kv...)
	panic(msg)
}
