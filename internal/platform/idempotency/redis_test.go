package idempotency

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	values  map[string]string
	ttls    map[string]time.Duration
	setNXErr error
	// expireOnGet drops the key on the next Get to simulate a TTL firing mid-reservation.
	expireOnGet bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if f.setNXErr != nil {
		return redis.NewBoolResult(false, f.setNXErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.expireOnGet {
		f.expireOnGet = false
		delete(f.values, key)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func newTestRedisStore(t *testing.T, client RedisClient) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(client, "")
	if err != nil {
		t.Fatalf("NewRedisStore returned error: %v", err)
	}
	return store
}

func TestRedisStore_ReserveSaveReplay(t *testing.T) {
	client := newFakeRedis()
	store := newTestRedisStore(t, client)
	ctx := context.Background()

	reservation, err := store.Reserve(ctx, "k1|cust-1", "fp-1", fixedTime, time.Hour)
	if err != nil || reservation.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", reservation, err)
	}
	for key, ttl := range client.ttls {
		if !strings.HasPrefix(key, defaultRedisKeyPrefix) {
			t.Fatalf("expected prefixed key, got %s", key)
		}
		if ttl != time.Hour {
			t.Fatalf("expected ttl 1h, got %s", ttl)
		}
	}

	pending, err := store.Reserve(ctx, "k1|cust-1", "fp-1", fixedTime, time.Hour)
	if err != nil || pending.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", pending, err)
	}

	header := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"12"}}
	if err := store.SaveResponse(ctx, "k1|cust-1", "fp-1", Response{Status: http.StatusCreated, Headers: header, Body: []byte(`{"id":"d1"}`)}, fixedTime, time.Hour); err != nil {
		t.Fatalf("SaveResponse returned error: %v", err)
	}

	completed, err := store.Reserve(ctx, "k1|cust-1", "fp-1", fixedTime, time.Hour)
	if err != nil || completed.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v %v", completed, err)
	}
	if completed.Record.ResponseStatus != http.StatusCreated || string(completed.Record.ResponseBody) != `{"id":"d1"}` {
		t.Fatalf("unexpected stored response %+v", completed.Record)
	}
	if _, ok := completed.Record.ResponseHeaders["Content-Length"]; ok {
		t.Fatalf("content-length must not be stored")
	}
}

func TestRedisStore_FingerprintMismatch(t *testing.T) {
	store := newTestRedisStore(t, newFakeRedis())
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k1", "fp-1", fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if _, err := store.Reserve(ctx, "k1", "fp-2", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
	if err := store.SaveResponse(ctx, "k1", "fp-2", Response{Status: 200}, fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch on save, got %v", err)
	}
}

func TestRedisStore_ReleaseOnlyOwnFingerprint(t *testing.T) {
	client := newFakeRedis()
	store := newTestRedisStore(t, client)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k1", "fp-1", fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := store.Release(ctx, "k1", "fp-other"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if len(client.values) != 1 {
		t.Fatalf("foreign fingerprint must not release the key")
	}
	if err := store.Release(ctx, "k1", "fp-1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if len(client.values) != 0 {
		t.Fatalf("expected key to be deleted")
	}
}

func TestRedisStore_RetriesWhenKeyExpiresMidReservation(t *testing.T) {
	client := newFakeRedis()
	store := newTestRedisStore(t, client)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k1", "fp-old", fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	client.expireOnGet = true

	reservation, err := store.Reserve(ctx, "k1", "fp-new", fixedTime, time.Hour)
	if err != nil || reservation.State != ReservationStateNew {
		t.Fatalf("expected new reservation after expiry, got %+v %v", reservation, err)
	}
}

func TestRedisStore_PropagatesClientErrors(t *testing.T) {
	client := newFakeRedis()
	client.setNXErr = errors.New("dial tcp: connection refused")
	store := newTestRedisStore(t, client)

	if _, err := store.Reserve(context.Background(), "k1", "fp-1", fixedTime, time.Hour); err == nil || errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil, ""); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
