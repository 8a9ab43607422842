package tools

import (
	"context"

	"github.com/haasonsaas/coop/internal/types"
)

// ExecContext is per-turn context a tool can read out of the context.Context
// it's executed with — the session and caller it's running on behalf of.
// Tools that don't need it (most don't) simply ignore it.
type ExecContext struct {
	SessionKey types.SessionKey
	UserName   string
	Trust      types.TrustLevel
}

type execContextKey struct{}

// WithExecContext attaches an ExecContext to ctx for the duration of one
// tool dispatch.
func WithExecContext(ctx context.Context, info ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, info)
}

// ExecContextFrom retrieves the ExecContext a tool is running under, if any.
func ExecContextFrom(ctx context.Context) (ExecContext, bool) {
	info, ok := ctx.Value(execContextKey{}).(ExecContext)
	return info, ok
}
