package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PrincipalCache recuerda el id de usuario de cada email para acortar el
// camino de verificacion. Solo guarda ids, nunca material de claves.
type PrincipalCache interface {
	Lookup(ctx context.Context, email string) (string, bool, error)
	Remember(ctx context.Context, email, userID string) error
	Forget(ctx context.Context, email string) error
}

const defaultPrincipalTTL = 5 * time.Minute

type memoryEntry struct {
	userID    string
	expiresAt time.Time
}

type memoryPrincipalCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]memoryEntry
}

func NewMemoryPrincipalCache(ttl time.Duration) PrincipalCache {
	if ttl <= 0 {
		ttl = defaultPrincipalTTL
	}
	return &memoryPrincipalCache{
		ttl:   ttl,
		items: make(map[string]memoryEntry),
	}
}

func (c *memoryPrincipalCache) Lookup(_ context.Context, email string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[email]
	if !ok {
		return "", false, nil
	}
	if time.Now().UTC().After(entry.expiresAt) {
		delete(c.items, email)
		return "", false, nil
	}
	return entry.userID, true, nil
}

func (c *memoryPrincipalCache) Remember(_ context.Context, email, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(email) == "" || strings.TrimSpace(userID) == "" {
		return nil
	}
	c.items[email] = memoryEntry{userID: userID, expiresAt: time.Now().UTC().Add(c.ttl)}
	return nil
}

func (c *memoryPrincipalCache) Forget(_ context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, email)
	return nil
}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisPrincipalCache struct {
	client redisKV
	ttl    time.Duration
	prefix string
}

func NewRedisPrincipalCache(client *redis.Client, ttl time.Duration) PrincipalCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultPrincipalTTL
	}
	return &redisPrincipalCache{
		client: client,
		ttl:    ttl,
		prefix: "auth:principal:",
	}
}

func (c *redisPrincipalCache) Lookup(ctx context.Context, email string) (string, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	userID, err := c.client.Get(ctx, c.prefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

func (c *redisPrincipalCache) Remember(ctx context.Context, email, userID string) error {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(userID) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return c.client.Set(ctx, c.prefix+email, userID, c.ttl).Err()
}

func (c *redisPrincipalCache) Forget(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return c.client.Del(ctx, c.prefix+email).Err()
}
