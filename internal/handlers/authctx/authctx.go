// Package authctx carries the resolved identity of a request
package authctx

import (
	"context"
)

// Auth is what the middleware resolved the request credential to
type Auth struct {
	UserID string
	Scopes []string
}

type ctxKey string

const authKey ctxKey = "auth"

// Create a new context with the resolved identity
func New(ctx context.Context, a Auth) context.Context {
	return context.WithValue(ctx, authKey, a)
}

// Extract the resolved identity from the context
func FromContext(ctx context.Context) (Auth, bool) {
	a, ok := ctx.Value(authKey).(Auth)
	return a, ok
}
