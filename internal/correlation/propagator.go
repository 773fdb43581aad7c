// Package correlation threads a request-scoped identifier through
// synchronous and asynchronous call graphs so that records, alerts and
// audit entries can be grouped by originating operation.
//
// State lives in context.Context values only. There is no ambient
// global: leaving a scope restores the previous one because the derived
// context dies with the call.
package correlation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// maxIDLen bounds generated ids so they stay usable as header values
// and storage keys.
const maxIDLen = 50

// Context is the immutable correlation scope attached to a request.
type Context struct {
	CorrelationID string    `json:"correlation_id"`
	ParentID      string    `json:"parent_id,omitempty"`
	StartTime     time.Time `json:"start_time"`
}

type ctxKey struct{}

// Generate returns a fresh URL-safe correlation id. The optional prefix
// is clamped so the result never exceeds maxIDLen.
func Generate(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	if len(prefix) > maxIDLen-len(id)-1 {
		prefix = prefix[:maxIDLen-len(id)-1]
	}
	return prefix + "-" + id
}

// With returns a context carrying the given correlation id as a new
// root scope.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, &Context{
		CorrelationID: id,
		StartTime:     time.Now(),
	})
}

// FromContext returns the active correlation scope, or nil when the
// caller is uncorrelated.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	if cc, ok := ctx.Value(ctxKey{}).(*Context); ok {
		return cc
	}
	return nil
}

// Current returns the active correlation id. An empty string means
// "uncorrelated", never an error.
func Current(ctx context.Context) string {
	if cc := FromContext(ctx); cc != nil {
		return cc.CorrelationID
	}
	return ""
}

// Run executes fn with id as the active correlation. The prior scope is
// restored when fn returns, including on error or panic, since the
// derived context never escapes the call.
func Run(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	return fn(With(ctx, id))
}

// Child derives a new scope whose ancestry is recorded via ParentID.
// The optional suffix is folded into the generated id.
func Child(ctx context.Context, suffix string) (context.Context, string) {
	id := Generate(suffix)
	child := &Context{
		CorrelationID: id,
		ParentID:      Current(ctx),
		StartTime:     time.Now(),
	}
	return context.WithValue(ctx, ctxKey{}, child), id
}

// Bind captures the correlation scope active in ctx and returns a
// function that re-establishes it on a background context. Use it when
// downstream work is scheduled after the original scope has exited.
func Bind(ctx context.Context, fn func(ctx context.Context)) func() {
	captured := FromContext(ctx)
	return func() {
		bound := context.Background()
		if captured != nil {
			bound = context.WithValue(bound, ctxKey{}, captured)
		}
		fn(bound)
	}
}
