package logger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Standard field keys
const (
	KeyRunID     = "run_id"
	KeyCommand   = "command"
	KeyContainer = "container"
	KeyError     = "error"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds run-scoped logging context
type LogContext struct {
	RunID     string // unique per CLI invocation
	Command   string // deploy, backup, restore, ...
	Container string
	StartTime time.Time
}

// NewLogContext creates a LogContext with a fresh run id.
func NewLogContext(command, container string) *LogContext {
	return &LogContext{
		RunID:     uuid.NewString(),
		Command:   command,
		Container: container,
		StartTime: time.Now(),
	}
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 6+len(args))
	if lc.RunID != "" {
		ctxArgs = append(ctxArgs, KeyRunID, lc.RunID)
	}
	if lc.Command != "" {
		ctxArgs = append(ctxArgs, KeyCommand, lc.Command)
	}
	if lc.Container != "" {
		ctxArgs = append(ctxArgs, KeyContainer, lc.Container)
	}
	return append(ctxArgs, args...)
}
