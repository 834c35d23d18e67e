// Package logging adapts zap to the live.Logger interface.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/lokutor-ai/lokutor-live/pkg/live"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	// Output receives log lines; stderr when nil.
	Output io.Writer
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap logger. Console output is meant for the terminal next to
// the transcript; json for piping into a collector.
func New(opts Options) *zap.Logger {
	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if opts.Format == "json" {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if opts.Output != nil {
		sink = zapcore.AddSync(opts.Output)
	} else {
		sink = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(parseLevel(opts.Level)))
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))
}

// Adapter implements live.Logger on a zap SugaredLogger. Args are key/value
// pairs, matching zap's *w methods.
type Adapter struct {
	s *zap.SugaredLogger
}

var _ live.Logger = (*Adapter)(nil)

// NewAdapter wraps l; a nil logger yields a no-op adapter.
func NewAdapter(l *zap.Logger) *Adapter {
	if l == nil {
		l = zap.NewNop()
	}
	return &Adapter{s: l.Sugar()}
}

func (a *Adapter) Debug(msg string, args ...interface{}) { a.s.Debugw(msg, args...) }
func (a *Adapter) Info(msg string, args ...interface{})  { a.s.Infow(msg, args...) }
func (a *Adapter) Warn(msg string, args ...interface{})  { a.s.Warnw(msg, args...) }
func (a *Adapter) Error(msg string, args ...interface{}) { a.s.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (a *Adapter) Sync() error {
	return a.s.Sync()
}
