// Package firestore holds the Firestore plumbing shared by the order and review stores: a
// lazily dialled client, typed collections, transactional updates and error classification.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/furnishop/commerce/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	healthCollection   = "_health"
)

var ErrProviderClosed = errors.New("firestore: provider is closed")

type dialFunc func(ctx context.Context, projectID, databaseID string, opts ...option.ClientOption) (*firestore.Client, error)

// Provider owns the single Firestore client of a process. The client is dialled on first use;
// a failed dial is retried by the next caller.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	extra       []option.ClientOption
	dial        dialFunc

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises NewProvider.
type ProviderOption func(*Provider)

func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions adds options passed to the Firestore client.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.extra = append(p.extra, opts...)
	}
}

func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, dialTimeout: defaultDialTimeout, dial: firestore.NewClientWithDatabase}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	databaseID := strings.TrimSpace(p.cfg.DatabaseID)
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := p.dial(dialCtx, projectID, databaseID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial %s/%s: %w", projectID, databaseID, err)
	}
	p.client = client
	return client, nil
}

// clientOptions targets the emulator without credentials when one is configured, otherwise
// the configured service account file or application default credentials.
func (p *Provider) clientOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.extra...)
	host := strings.TrimSpace(p.cfg.EmulatorHost)
	if host == "" {
		host = strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	}
	if host != "" {
		return append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if file := strings.TrimSpace(p.cfg.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	return opts
}

// Close releases the client. The provider is unusable afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	client := p.client
	p.client = nil
	if client == nil {
		return nil
	}
	return client.Close()
}

// Ping reads a document that normally does not exist. Reaching the backend is all that
// matters, so NotFound is healthy.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(healthCollection).Doc("ping").Get(ctx); err != nil {
		if wrapped := WrapError("ping", err); !IsNotFound(wrapped) {
			return wrapped
		}
	}
	return nil
}
