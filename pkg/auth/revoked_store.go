package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedTokenStore remembers revoked token IDs until their natural expiry.
type RevokedTokenStore interface {
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// InMemoryRevokedStore keeps revocations in process. Expired entries are pruned on write.
type InMemoryRevokedStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewInMemoryRevokedStore() *InMemoryRevokedStore {
	return &InMemoryRevokedStore{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *InMemoryRevokedStore) RevokeToken(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	if now.After(expiresAt) {
		return nil
	}
	s.revoked[tokenID] = expiresAt
	return nil
}

func (s *InMemoryRevokedStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.revoked[tokenID]
	return ok && !s.now().After(exp), nil
}

// Len reports the number of live revocations.
func (s *InMemoryRevokedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revoked)
}

// RedisRevokedStore stores revocations as expiring Redis keys.
type RedisRevokedStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisRevokedStore(client redis.UniversalClient) *RedisRevokedStore {
	return &RedisRevokedStore{client: client, keyPrefix: "auraaudit:revoked:"}
}

func (s *RedisRevokedStore) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.keyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (s *RedisRevokedStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}
