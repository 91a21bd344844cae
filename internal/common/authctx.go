package common

import "context"

type callerKey struct{}

// WithUserID attaches the authenticated caller to ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// UserID returns the authenticated caller. ok is false for anonymous
// requests and for a blank identifier.
func UserID(ctx context.Context) (id string, ok bool) {
	id, _ = ctx.Value(callerKey{}).(string)
	return id, id != ""
}
