package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/furnishop/commerce/internal/platform/config"
)

var (
	// ErrServiceTokenInvalid signals a service token that failed signature or claim checks.
	ErrServiceTokenInvalid = errors.New("auth: service token invalid")
	// ErrServiceTokenExpired signals a service token past its expiry.
	ErrServiceTokenExpired = errors.New("auth: service token expired")
)

const serviceTokenLeeway = 30 * time.Second

// ServiceClaims are carried by HS256 tokens exchanged between backend services.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Service string `json:"svc"`
}

// ServiceTokens mints and verifies service-to-service bearer tokens.
type ServiceTokens struct {
	issuer   string
	audience string
	key      []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewServiceTokens builds a signer/verifier from the shared service auth settings.
func NewServiceTokens(cfg config.ServiceAuthConfig) (*ServiceTokens, error) {
	if strings.TrimSpace(cfg.SigningKey) == "" {
		return nil, errors.New("auth: service token signing key is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ServiceTokens{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		key:      []byte(cfg.SigningKey),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issuer returns the issuer stamped on minted tokens.
func (s *ServiceTokens) Issuer() string {
	return s.issuer
}

// Mint signs a token identifying the calling service.
func (s *ServiceTokens) Mint(service string) (string, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return "", errors.New("auth: service name is required")
	}
	now := s.now().UTC()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   service,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Service: service,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign service token: %w", err)
	}
	return signed, nil
}

// Verify validates signature, issuer, audience and lifetime.
func (s *ServiceTokens) Verify(token string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceTokenInvalid, err)
	}

	now := s.now().UTC()
	if claims.ExpiresAt == nil || now.After(claims.ExpiresAt.Add(serviceTokenLeeway)) {
		return nil, ErrServiceTokenExpired
	}
	if claims.NotBefore != nil && now.Add(serviceTokenLeeway).Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrServiceTokenInvalid)
	}
	if !claims.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrServiceTokenInvalid, claims.Issuer)
	}
	if !claims.VerifyAudience(s.audience, true) {
		return nil, fmt.Errorf("%w: unexpected audience", ErrServiceTokenInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrServiceTokenInvalid)
	}
	return claims, nil
}

// unverifiedIssuer reads the iss claim without checking the signature so the
// authenticator can pick a verifier.
func unverifiedIssuer(token string) string {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Issuer
}
