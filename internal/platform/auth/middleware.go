package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultBranchClaim   = "branchId"
	defaultEmailClaim    = "email"
	defaultFallbackRole  = domain.RoleCustomer
	defaultVerifyTimeout = 5 * time.Second
)

// ErrTokenExpired signals that the provided Firebase ID token has expired.
var ErrTokenExpired = errors.New("auth: firebase id token expired")

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// ServiceTokenVerifier verifies tokens minted by other backend services.
type ServiceTokenVerifier interface {
	Issuer() string
	Verify(token string) (*ServiceClaims, error)
}

// Authenticator turns bearer tokens into identities for HTTP middleware composition.
type Authenticator struct {
	verifier TokenVerifier
	services ServiceTokenVerifier

	roleClaim   string
	branchClaim string

	fallbackRole domain.Role
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithServiceTokens accepts service tokens whose issuer matches the verifier.
func WithServiceTokens(verifier ServiceTokenVerifier) Option {
	return func(a *Authenticator) {
		a.services = verifier
	}
}

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithBranchClaim overrides the custom claim carrying the staff branch.
func WithBranchClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.branchClaim = claim
		}
	}
}

// WithVerificationTimeout sets the timeout used when verifying Firebase tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator. verifier may be nil when only service
// tokens are accepted.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		branchClaim:  defaultBranchClaim,
		fallbackRole: defaultFallbackRole,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and, when roles are given, requires
// one of them.
func (a *Authenticator) RequireAuth(allowedRoles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			identity, status, code, message := a.authenticate(r.Context(), tokenStr)
			if identity == nil {
				respondAuthError(r.Context(), w, status, code, message)
				return
			}
			if len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*Identity, int, string, string) {
	if a.services != nil && unverifiedIssuer(token) == a.services.Issuer() {
		claims, err := a.services.Verify(token)
		switch {
		case errors.Is(err, ErrServiceTokenExpired):
			return nil, http.StatusUnauthorized, "token_expired", "service token expired"
		case err != nil:
			return nil, http.StatusUnauthorized, "invalid_token", "service token invalid"
		}
		return &Identity{UID: claims.Subject, Role: domain.RoleService, Service: true}, 0, "", ""
	}

	if a.verifier == nil {
		return nil, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable"
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	verified, err := a.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
			return nil, http.StatusUnauthorized, "token_expired", "firebase id token expired"
		case errors.Is(err, ErrTokenRevoked):
			return nil, http.StatusUnauthorized, "token_revoked", "firebase session has been revoked"
		default:
			return nil, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed"
		}
	}

	role := a.fallbackRole
	if raw := claimAsString(verified.Claims, a.roleClaim); raw != "" {
		parsed, ok := domain.ParseRole(raw)
		if !ok || parsed == domain.RoleService {
			return nil, http.StatusForbidden, "unknown_role", "identity role is not recognised"
		}
		role = parsed
	}
	identity := &Identity{
		UID:      verified.UID,
		Email:    claimAsString(verified.Claims, defaultEmailClaim),
		Role:     role,
		BranchID: claimAsString(verified.Claims, a.branchClaim),
		token:    verified,
	}
	if role.BranchScoped() && identity.BranchID == "" {
		return nil, http.StatusForbidden, "missing_branch", "branch staff token carries no branch"
	}
	return identity, 0, "", ""
}

func claimAsString(claims map[string]any, key string) string {
	if value, ok := claims[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
