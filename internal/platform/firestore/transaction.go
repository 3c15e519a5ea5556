package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// Mutation edits a document inside a read-modify-write transaction. It may run more than once
// when Firestore retries on contention, so it must not have side effects outside doc.
type Mutation[T any] func(doc *Document[T]) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how often Firestore retries a contended transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// Update reads document id, applies mutate and writes the result back atomically. An error
// returned by mutate aborts the write and is returned unchanged; a missing document is a
// not-found error.
func (c *Collection[T]) Update(ctx context.Context, id string, mutate Mutation[T], opts ...TxOption) (Document[T], error) {
	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return Document[T]{}, err
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var (
		updated   Document[T]
		rejection error
	)
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		rejection = nil
		snapshot, err := tx.Get(ref)
		if err != nil {
			return WrapError(c.op("update.get"), err)
		}
		doc, err := Decode[T](snapshot)
		if err != nil {
			return err
		}
		if err := mutate(&doc); err != nil {
			rejection = err
			return err
		}
		updated = doc
		return tx.Set(ref, doc.Data)
	}, firestore.MaxAttempts(cfg.attempts))

	switch {
	case err == nil:
		return updated, nil
	case rejection != nil:
		return Document[T]{}, rejection
	default:
		return Document[T]{}, WrapError(c.op("update"), err)
	}
}
