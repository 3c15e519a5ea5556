package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/furnishop/commerce/internal/platform/config"
)

// ErrTokenRevoked signals a Firebase ID token whose session was revoked or whose user was disabled.
var ErrTokenRevoked = errors.New("auth: firebase id token revoked")

// firebaseTokenClient is the part of the Admin SDK auth client used for verification.
type firebaseTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier checks customer and staff ID tokens against the Firebase project. The
// FIREBASE_AUTH_EMULATOR_HOST variable is honoured by the SDK.
type FirebaseVerifier struct {
	client       firebaseTokenClient
	checkRevoked bool
}

type firebaseSettings struct {
	checkRevoked bool
	clientOpts   []option.ClientOption
	client       firebaseTokenClient
}

// FirebaseOption customises NewFirebaseVerifier.
type FirebaseOption func(*firebaseSettings)

// WithRevocationCheck makes every verification consult Firebase for revoked sessions. It
// costs one extra Admin API round trip per request.
func WithRevocationCheck(enabled bool) FirebaseOption {
	return func(s *firebaseSettings) {
		s.checkRevoked = enabled
	}
}

// WithFirebaseClientOptions passes extra options to the Admin SDK.
func WithFirebaseClientOptions(opts ...option.ClientOption) FirebaseOption {
	return func(s *firebaseSettings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

func withFirebaseClient(client firebaseTokenClient) FirebaseOption {
	return func(s *firebaseSettings) {
		s.client = client
	}
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	var settings firebaseSettings
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if settings.client != nil {
		return &FirebaseVerifier{client: settings.client, checkRevoked: settings.checkRevoked}, nil
	}

	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	clientOpts := settings.clientOpts
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, checkRevoked: settings.checkRevoked}, nil
}

// VerifyIDToken validates idToken. Expired and revoked tokens are reported through
// ErrTokenExpired and ErrTokenRevoked so the middleware can tell them apart.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}

	var (
		token *firebaseauth.Token
		err   error
	)
	if v.checkRevoked {
		token, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	} else {
		token, err = v.client.VerifyIDToken(ctx, idToken)
	}
	switch {
	case err == nil:
		return token, nil
	case firebaseauth.IsIDTokenExpired(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	default:
		return nil, err
	}
}
