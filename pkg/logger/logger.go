// Package logger wraps zerolog with context-carried fields so request, order
// and job identifiers follow a call chain without threading a logger through it.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack attaches a stack trace to warn entries as well as errors.
	WarnStack bool
	Output    io.Writer
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

// New builds a JSON logger on Output (stdout by default). LOG_FORMAT=console
// switches to zerolog's human-readable writer for local runs.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return &Logger{
		base: zerolog.New(out).Level(level).With().
			Timestamp().
			Str("service", opts.ServiceName).
			Logger(),
		warnStack: opts.WarnStack,
	}
}

func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// ParseLevel maps FARMLINK_LOG_LEVEL to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// from returns the logger stored on ctx by a With* call, or the base logger.
func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry := zerolog.Ctx(ctx); entry.GetLevel() != zerolog.Disabled {
			return entry
		}
	}
	return &l.base
}

func (l *Logger) with(ctx context.Context, build func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	entry := build(l.from(ctx).With()).Logger()
	return entry.WithContext(ctx)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.WithField(ctx, "user_id", userID)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.WithField(ctx, "actor_role", role)
}

func (l *Logger) WithOrderID(ctx context.Context, orderID string) context.Context {
	return l.WithField(ctx, "order_id", orderID)
}

// WithPhone logs a subscriber number with all but the prefix and last two
// digits masked.
func (l *Logger) WithPhone(ctx context.Context, phone string) context.Context {
	return l.WithField(ctx, "phone", MaskPhone(phone))
}

func MaskPhone(phone string) string {
	const keepHead, keepTail = 4, 2
	if len(phone) <= keepHead+keepTail {
		return strings.Repeat("*", len(phone))
	}
	return phone[:keepHead] + strings.Repeat("*", len(phone)-keepHead-keepTail) + phone[len(phone)-keepTail:]
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.from(ctx).Warn()
	if l.warnStack {
		event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error always records a stack trace. err may be nil.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.from(ctx).Error().Err(err).Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
