package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations is the denylist consulted for logged-out tokens.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevocations keeps the denylist in process. Entries are pruned lazily.
type MemoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, id)
		}
	}
	if until.After(now) {
		m.entries[tokenID] = until
	}
	return nil
}

func (m *MemoryRevocations) Revoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[tokenID]
	return ok && exp.After(m.now()), nil
}

// RedisRevocations shares the denylist between replicas. Keys expire with the token.
type RedisRevocations struct {
	Client *redis.Client
	Prefix string
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{Client: client, Prefix: "sysaccess:revoked:"}
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.Client.Set(ctx, r.Prefix+tokenID, "1", ttl).Err()
}

func (r *RedisRevocations) Revoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.Client.Get(ctx, r.Prefix+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RedisConfig mirrors the connection options exposed through configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials and pings the server so misconfiguration fails at startup.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
