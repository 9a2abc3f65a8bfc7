package grpcserver

import "context"

type ctxKey string

const userKey ctxKey = "collab.user"

// WithUser stores the authenticated user name in context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromCtx fetches the user name from context.
func UserFromCtx(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey).(string)
	return user, ok && user != ""
}
