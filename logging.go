// logging.go - structured logging collaborator for the executor core.
//
// Package-level configuration for structured logging, following the
// teacher's pattern of a package-global logger guarded by a mutex, with a
// SetLogger injection point. NewStumpyLogger provides a concrete
// implementation backed by logiface/stumpy instead of a hand-rolled writer,
// per spec §6's "isXEnabled()/X(fmt, args, cause?)" logging collaborator
// contract; until SetLogger installs a logger, the package logs nothing.
package taskcore

import (
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// LogLevel mirrors spec §6's trace/debug/info/warn/error levels.
type LogLevel int32

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level's name.
func (l LogLevel) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// Fields carries structured attributes attached to a log call (e.g.
// executor_id, task_id, state).
type Fields map[string]any

// Logger is the logging collaborator named by spec §6: "isXEnabled() -> bool;
// X(fmt, args, cause?)". The core never writes to stdout/stderr directly; it
// only ever calls through this interface.
type Logger interface {
	IsEnabled(level LogLevel) bool
	Log(level LogLevel, msg string, fields Fields, cause error)
}

// noOpLogger discards everything; GetLogger returns it until SetLogger
// installs a logger.
type noOpLogger struct{}

func (noOpLogger) IsEnabled(LogLevel) bool             { return false }
func (noOpLogger) Log(LogLevel, string, Fields, error) {}

// globalLogger is the package-level injection point, mirroring the teacher's
// SetStructuredLogger/getGlobalLogger pair.
var globalLogger struct {
	mu     sync.RWMutex
	logger Logger
}

// SetLogger installs the package-wide default Logger used by executors that
// do not override it via WithLogger.
func SetLogger(l Logger) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.logger = l
}

// GetLogger returns the package-wide default Logger, a no-op if unset.
func GetLogger() Logger {
	globalLogger.mu.RLock()
	defer globalLogger.mu.RUnlock()
	if globalLogger.logger != nil {
		return globalLogger.logger
	}
	return noOpLogger{}
}

// logifaceLogger adapts a logiface.Logger[*stumpy.Event] to the core's
// narrow Logger interface, so the concurrency core itself never depends on
// logiface's generics at the call site.
type logifaceLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// NewStumpyLogger builds a structured logger: a logiface facade backed by
// stumpy's stderr writer. Pass it to SetLogger to make it the package logger.
func NewStumpyLogger() Logger {
	return &logifaceLogger{l: stumpy.L.New(stumpy.WithStumpy())}
}

func (g *logifaceLogger) IsEnabled(level LogLevel) bool {
	return g.l.Level() != logiface.LevelDisabled && g.l.Level() <= logifaceLevel(level)
}

func (g *logifaceLogger) Log(level LogLevel, msg string, fields Fields, cause error) {
	b := g.l.Build(logifaceLevel(level))
	if !b.Enabled() {
		b.Release()
		return
	}
	if cause != nil {
		b = b.Err(cause)
	}
	for k, v := range fields {
		b = b.Interface(k, v)
	}
	b.Log(msg)
}

func logifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelTrace:
		return logiface.LevelTrace
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

// warnLimiter throttles repeated warning categories (queue-full rejections,
// listener panics, poll errors) so a hot loop producing thousands of
// occurrences per second doesn't also produce thousands of log lines.
var warnLimiter = catrate.NewLimiter(map[time.Duration]int{
	time.Second: 1,
	time.Minute: 20,
})

// logWarnThrottled logs msg at warn level through the package-level default
// logger, suppressing repeats of the same category per warnLimiter.
func logWarnThrottled(category, msg string, cause error) {
	logger := GetLogger()
	if !logger.IsEnabled(LevelWarn) {
		return
	}
	if _, ok := warnLimiter.Allow(category); !ok {
		return
	}
	logger.Log(LevelWarn, msg, Fields{"category": category}, cause)
}
