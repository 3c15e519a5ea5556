package auth

import (
	"context"
	"slices"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/furnishop/commerce/internal/domain"
)

// Identity captures the authenticated principal, either a Firebase user or a backend service.
type Identity struct {
	UID      string
	Email    string
	Role     domain.Role
	BranchID string
	// Service is true when the caller presented a service token.
	Service bool

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token. Service identities return nil.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasAnyRole reports whether the identity holds one of the roles.
func (i *Identity) HasAnyRole(roles ...domain.Role) bool {
	if i == nil {
		return false
	}
	return slices.Contains(roles, i.Role)
}

// Actor converts the identity into the principal consumed by services.
func (i *Identity) Actor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	return domain.Actor{ID: i.UID, Role: i.Role, BranchID: i.BranchID}
}

type contextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
