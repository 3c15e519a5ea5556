package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore holds keys in process memory. Records are kept in their JSON form, as in Redis,
// so a replayed response never aliases the buffers of the request that produced it. Only
// suitable for tests and a single local instance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// live returns the unexpired record stored under id, evicting it when stale.
func (s *MemoryStore) live(id string, now time.Time) (Record, bool, error) {
	raw, ok := s.entries[id]
	if !ok {
		return Record{}, false, nil
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	if !now.Before(record.ExpiresAt) {
		delete(s.entries, id)
		return Record{}, false, nil
	}
	return record, true, nil
}

func (s *MemoryStore) put(id string, record Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	s.entries[id] = raw
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	id := storageKey(key)
	record, found, err := s.live(id, now)
	if err != nil {
		return Reservation{}, err
	}
	if found {
		return reservationFor(record, fingerprint)
	}
	record = newPendingRecord(key, fingerprint, now, ttl)
	if err := s.put(id, record); err != nil {
		return Reservation{}, err
	}
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	id := storageKey(key)
	record, found, err := s.live(id, now)
	switch {
	case err != nil:
		return err
	case !found:
		record = Record{Key: key, Fingerprint: fingerprint}
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	return s.put(id, record.complete(resp, now, ttl))
}

// Release forgets a pending key so a retry runs the handler again. A key held by another
// fingerprint is left alone.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := storageKey(key)
	record, found, err := s.live(id, time.Now().UTC())
	if err != nil || !found || record.Fingerprint != fingerprint {
		return err
	}
	delete(s.entries, id)
	return nil
}
