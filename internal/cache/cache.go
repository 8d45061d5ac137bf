package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trunov/rote-media/internal/redisholder"
)

// ErrMiss is returned by GetJSON when the key does not exist.
var ErrMiss = errors.New("cache miss")

type Cache struct {
	Redis     redisholder.Source
	Namespace string
}

func NewCache(namespace string, src redisholder.Source) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     src,
	}
}

func (c *Cache) key(k string) string { return c.Namespace + ":" + k }

// GetJSON loads key into v.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := c.Redis.Get().Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode cached %q: %w", key, err)
	}
	return nil
}

// StoreJSON writes v under key for ttl.
func (c *Cache) StoreJSON(ctx context.Context, key string, ttl time.Duration, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Redis.Get().Set(ctx, c.key(key), raw, ttl).Err()
}
