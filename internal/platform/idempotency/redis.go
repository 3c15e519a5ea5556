package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/furnishop/commerce/internal/platform/config"
)

const defaultRedisKeyPrefix = "idempotency:"

// RedisClient is the subset of the go-redis API the store depends on.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore shares idempotency state between replicas. Reservations use SETNX so exactly one
// request wins a key; expiry is delegated to Redis TTLs.
type RedisStore struct {
	client RedisClient
	prefix string
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("idempotency: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("idempotency: redis ping: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps client. An empty prefix uses "idempotency:".
func NewRedisStore(client RedisClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	id := s.key(key)
	pending := newPendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, err
	}

	// The second attempt covers a record that expired between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, id, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: pending}, nil
		}

		record, found, err := s.load(ctx, id)
		if err != nil {
			return Reservation{}, err
		}
		if found {
			return reservationFor(record, fingerprint)
		}
	}
	return Reservation{}, errors.New("idempotency: reserve: key churned during reservation")
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	id := s.key(key)
	record, found, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if found && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !found {
		record = Record{Key: key, Fingerprint: fingerprint}
	}

	payload, err := json.Marshal(record.complete(resp, now, ttl))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, id, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	id := s.key(key)
	record, found, err := s.load(ctx, id)
	if err != nil || !found || record.Fingerprint != fingerprint {
		return err
	}
	if err := s.client.Del(ctx, id).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, id string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + storageKey(key)
}
