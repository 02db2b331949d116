package audit

import (
	"context"
	"strings"
)

type callerContextKey struct{}

// Caller carries metadata about who asked for an authorization.
type Caller struct {
	Source    string
	SessionID string
	CallerID  string
}

// WithCaller stores caller metadata in ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext reads caller metadata from ctx.
func CallerFromContext(ctx context.Context) Caller {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	if !ok {
		return Caller{}
	}
	caller.Source = strings.TrimSpace(caller.Source)
	caller.SessionID = strings.TrimSpace(caller.SessionID)
	caller.CallerID = strings.TrimSpace(caller.CallerID)
	return caller
}

// Stamp copies caller metadata from ctx onto event.
func Stamp(ctx context.Context, event Event) Event {
	caller := CallerFromContext(ctx)
	event.Source = caller.Source
	event.SessionID = caller.SessionID
	event.CallerID = caller.CallerID
	return event
}
