// Package idempotency records completed form saves so a resubmitted form
// replays the original outcome instead of saving twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/gridform/model"
)

// SaveResult is the outcome of a completed save.
type SaveResult struct {
	RecordID int64  `json:"record_id"`
	Location string `json:"location"`
}

// Store deduplicates form saves by key.
type Store interface {
	// Check looks up a previous save. A key recorded with a different input
	// hash is a CONFLICT.
	Check(ctx context.Context, key, inputHash string) (*SaveResult, bool, error)

	// Record stores the outcome of a save for ttl.
	Record(ctx context.Context, key, inputHash string, result SaveResult, ttl time.Duration) error
}

type entry struct {
	InputHash string     `json:"input_hash"`
	Result    SaveResult `json:"result"`
}

// SaveKey builds the key of a save submitted to formAction with token.
func SaveKey(formAction, token string) string {
	return fmt.Sprintf("save:%s:%s", formAction, token)
}

// HashInput returns a stable hash of submitted values. The fields named in
// ignore, typically the token itself, do not contribute.
func HashInput(values url.Values, ignore ...string) string {
	skip := make(map[string]bool, len(ignore))
	for _, k := range ignore {
		skip[k] = true
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		b, _ := json.Marshal([2]any{k, vs})
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func conflict(key string) error {
	return model.NewConflictError(fmt.Sprintf("form submission %q was already saved with different values", key))
}

// --- MemoryStore ---

// MemoryStore keeps saves in process memory. Suitable for tests and single
// instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memEntry
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: make(map[string]memEntry)}
}

// Check implements Store. Expired entries are evicted on access.
func (s *MemoryStore) Check(_ context.Context, key, inputHash string) (*SaveResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	if e.data.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	result := e.data.Result
	return &result, true, nil
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, key, inputHash string, result SaveResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		data:      entry{InputHash: inputHash, Result: result},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore keeps saves in Redis so replays are detected across instances.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check implements Store.
func (s *RedisStore) Check(ctx context.Context, key, inputHash string) (*SaveResult, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode save entry %q: %w", key, err)
	}
	if e.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	return &e.Result, true, nil
}

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, key, inputHash string, result SaveResult, ttl time.Duration) error {
	data, err := json.Marshal(entry{InputHash: inputHash, Result: result})
	if err != nil {
		return fmt.Errorf("encode save entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
