package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// Principal is the caller identified by the bearer token.
type Principal struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext reports false for unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

// UserUUIDFromContext returns the authenticated user id.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.UserID, ok
}
