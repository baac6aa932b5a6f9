// Package logger is the structured logger shared by every binary. It is a
// thin layer over zap that fixes the encoder layout, carries a logger through
// context.Context and names the fields the scoring code logs repeatedly.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	Level = zapcore.Level
	Field = zap.Field
)

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// ParseLevel accepts debug, info, warn(ing) and error in any case. Anything
// else is info.
func ParseLevel(s string) Level {
	var lvl zapcore.Level
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil || lvl > LevelError {
		return LevelInfo
	}
	return lvl
}

var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Bool     = zap.Bool
	Duration = zap.Duration
	Any      = zap.Any
)

// Err logs err under "error"; a nil error adds nothing.
func Err(err error) Field { return zap.Error(err) }

func StudentID(id string) Field     { return zap.String("student_id", id) }
func ActivityType(t string) Field   { return zap.String("activity_type", t) }
func Points(p int) Field            { return zap.Int("points", p) }
func Achievement(t string) Field    { return zap.String("achievement", t) }
func Component(name string) Field   { return zap.String("component", name) }
func Operation(name string) Field   { return zap.String("operation", name) }
func Latency(d time.Duration) Field { return zap.Duration("latency", d) }

type Logger struct {
	z *zap.Logger
}

type Options struct {
	Output    io.Writer // stdout when nil
	Level     Level
	Format    string // "json" (default) or "console"
	AddCaller bool
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "console", "text":
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	default:
		encoder = zapcore.NewJSONEncoder(enc)
	}

	var zopts []zap.Option
	if opts.AddCaller {
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zap.NewAtomicLevelAt(opts.Level))
	return &Logger{z: zap.New(core, zopts...)}
}

func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) With(fields ...Field) *Logger { return &Logger{z: l.z.With(fields...)} }
func (l *Logger) Named(name string) *Logger    { return &Logger{z: l.z.Named(name)} }

func (l *Logger) WithRequestID(id string) *Logger { return l.With(zap.String("request_id", id)) }

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// Sync flushes buffered entries. Call it once before exit.
func (l *Logger) Sync() error { return l.z.Sync() }

type ctxKey struct{}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or a JSON info
// logger on stdout when there is none.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return fallback
}

var fallback = New(Options{Level: LevelInfo})
