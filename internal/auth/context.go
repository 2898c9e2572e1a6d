package auth

import (
	"context"

	"github.com/fleeterp/fms-api/internal/model"
)

type ctxKey string

const sessionKey ctxKey = "fms.session"

// WithSession stores the session produced by the gate in ctx.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom fetches the session from ctx. Handlers receive a copy.
func SessionFrom(ctx context.Context) (model.Session, bool) {
	v := ctx.Value(sessionKey)
	if v == nil {
		return model.Session{}, false
	}
	s, ok := v.(model.Session)
	return s, ok
}
