package auth

import (
	"context"
)

// Identity is the verified caller. UserID is the caller's email address,
// which is also how reviewers and owners are recorded.
type Identity struct {
	UserID         string
	Email          string
	OrganizationID string
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by RequireAuth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
