// Package logger provides the structured logger used throughout authgate.
//
// Call sites never carry a logger value around; they call the package-level
// helpers (Debugf, Infof, ...) which dispatch to a swappable singleton. This
// keeps handler and service code free of logger plumbing while still letting
// tests install a capturing logger via SetForTest.
package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(mustBuild("info", true))
}

func mustBuild(level string, unstructured bool) *zap.SugaredLogger {
	var zapLevel zap.AtomicLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	if unstructured {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zapLevel
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a minimal logger rather than leaving the singleton nil.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Initialize (re)builds the singleton logger from the given level
// ("debug", "info", "warn", "error") and output mode. unstructured=true
// produces human-readable console output (the default, suited to local
// development and CI logs); unstructured=false emits JSON suited to
// ingestion by a log pipeline.
func Initialize(level string, unstructured bool) {
	singleton.Store(mustBuild(level, unstructured))
}

// InitializeFromEnv initializes the logger using AUTHGATE_LOGLEVEL and
// AUTHGATE_LOG_JSON environment variables, falling back to sensible
// defaults ("info", unstructured) when unset.
func InitializeFromEnv() {
	level := os.Getenv("AUTHGATE_LOGLEVEL")
	if level == "" {
		level = "info"
	}
	unstructured := os.Getenv("AUTHGATE_LOG_JSON") != "true"
	Initialize(level, unstructured)
}

// Get returns the current singleton logger.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

// SetForTest installs l as the singleton and returns a restore function.
func SetForTest(l *zap.SugaredLogger) (restore func()) {
	prev := singleton.Load()
	singleton.Store(l)
	return func() { singleton.Store(prev) }
}

// With returns a child logger carrying the given structured key/value pairs,
// for request-scoped logging (e.g. jti, username, required capability).
func With(kv ...interface{}) *zap.SugaredLogger {
	return Get().With(kv...)
}

func Debug(args ...interface{})                  { Get().Debug(args...) }
func Debugf(format string, args ...interface{})  { Get().Debugf(format, args...) }
func Debugw(msg string, kv ...interface{})       { Get().Debugw(msg, kv...) }
func Info(args ...interface{})                   { Get().Info(args...) }
func Infof(format string, args ...interface{})   { Get().Infof(format, args...) }
func Infow(msg string, kv ...interface{})        { Get().Infow(msg, kv...) }
func Warn(args ...interface{})                   { Get().Warn(args...) }
func Warnf(format string, args ...interface{})   { Get().Warnf(format, args...) }
func Warnw(msg string, kv ...interface{})        { Get().Warnw(msg, kv...) }
func Error(args ...interface{})                  { Get().Error(args...) }
func Errorf(format string, args ...interface{})  { Get().Errorf(format, args...) }
func Errorw(msg string, kv ...interface{})       { Get().Errorw(msg, kv...) }
func Fatalf(format string, args ...interface{})  { Get().Fatalf(format, args...) }
func Panicf(format string, args ...interface{})  { Get().Panicf(format, args...) }
