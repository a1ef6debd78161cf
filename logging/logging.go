// Package logging builds the service logger and binds it to one invocation.
//
// A logger carrying invocation attributes (request id, correlation id, user
// id) lives only in the context.Context passed down the call chain. Nothing is
// stored globally, so concurrent invocations never share log context.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jacentio/accounts/apperr"
)

type ctxKey struct{}

// New returns a JSON logger tagged with service and environment.
func New(level, service, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, service, environment)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, service, environment string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler).With("service", service, "environment", environment)
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger bound to ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Scoped runs fn with a child of base carrying attrs bound into its context.
// The scope closes on every exit path: the outcome and duration are logged
// after fn returns, and a panic is logged and converted to an internal error.
func Scoped[T any](ctx context.Context, base *slog.Logger, attrs []any, fn func(context.Context) (T, error)) (result T, err error) {
	if base == nil {
		base = slog.Default()
	}
	l := base.With(attrs...)
	scoped := WithLogger(ctx, l)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = apperr.Internal(fmt.Errorf("panic: %v", r))
			l.ErrorContext(scoped, "invocation panicked", "panic", fmt.Sprint(r), "durationMs", time.Since(start).Milliseconds())
			return
		}
		if err != nil {
			l.ErrorContext(scoped, "invocation failed", "error", err, "durationMs", time.Since(start).Milliseconds())
			return
		}
		l.InfoContext(scoped, "invocation completed", "durationMs", time.Since(start).Milliseconds())
	}()

	return fn(scoped)
}
