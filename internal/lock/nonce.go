package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	redis "github.com/redis/go-redis/v9"
)

const (
	nonceKeyPrefix  = "paymatch:webhook:nonce:"
	memoryNonceSize = 4096
	defaultNonceTTL = 10 * time.Minute
)

// NonceStore remembers webhook signatures for a bounded window.
type NonceStore interface {
	// Claim reports true the first time nonce is seen inside the window.
	Claim(ctx context.Context, nonce string) (bool, error)
	// Release forgets a claimed nonce so the same delivery can be retried.
	Release(ctx context.Context, nonce string) error
}

type RedisNonceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisNonceStore(client *redis.Client, ttl time.Duration) *RedisNonceStore {
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	return &RedisNonceStore{client: client, ttl: ttl}
}

func (s *RedisNonceStore) Claim(ctx context.Context, nonce string) (bool, error) {
	if s == nil || s.client == nil {
		return false, ErrNotConfigured
	}
	return s.client.SetNX(ctx, nonceKey(nonce), 1, s.ttl).Result()
}

func (s *RedisNonceStore) Release(ctx context.Context, nonce string) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}
	return s.client.Del(ctx, nonceKey(nonce)).Err()
}

// MemoryNonceStore is the single-process fallback.
type MemoryNonceStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	return &MemoryNonceStore{
		cache: expirable.NewLRU[string, struct{}](memoryNonceSize, nil, ttl),
	}
}

func (s *MemoryNonceStore) Claim(ctx context.Context, nonce string) (bool, error) {
	key := nonceKey(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.cache.Get(key); seen {
		return false, nil
	}
	s.cache.Add(key, struct{}{})
	return true, nil
}

func (s *MemoryNonceStore) Release(ctx context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(nonceKey(nonce))
	return nil
}

func nonceKey(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return nonceKeyPrefix + hex.EncodeToString(sum[:])
}
