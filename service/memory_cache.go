package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"

	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// MemoryMaskCache 进程内掩码缓存，按掩码总字节数限制容量
type MemoryMaskCache struct {
	client *ristretto.Cache
	cache  *cache.Cache[*pipeline.Mask]
	ttl    time.Duration
}

func NewMemoryMaskCache(maxBytes int64, ttl time.Duration) (*MemoryMaskCache, error) {
	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	ristrettoStore := ristretto_store.NewRistretto(ristrettoCache)
	return &MemoryMaskCache{
		client: ristrettoCache,
		cache:  cache.New[*pipeline.Mask](ristrettoStore),
		ttl:    ttl,
	}, nil
}

func (c *MemoryMaskCache) Get(ctx context.Context, key string) (*pipeline.Mask, bool) {
	m, err := c.cache.Get(ctx, key)
	if err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func (c *MemoryMaskCache) Set(ctx context.Context, key string, m *pipeline.Mask) error {
	opts := []store.Option{store.WithCost(int64(len(m.Values) * 4))}
	if c.ttl > 0 {
		opts = append(opts, store.WithExpiration(c.ttl))
	}
	if err := c.cache.Set(ctx, key, m, opts...); err != nil {
		return err
	}
	// ristretto 异步写入
	c.client.Wait()
	return nil
}

func (c *MemoryMaskCache) Close() {
	c.client.Close()
}

// TieredMaskCache 先读进程内缓存再读共享缓存，写入两级；共享层失败不影响写入结果
type TieredMaskCache struct {
	local  pipeline.MaskCache
	shared pipeline.MaskCache
	onErr  func(error)
}

func NewTieredMaskCache(local, shared pipeline.MaskCache, onErr func(error)) *TieredMaskCache {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &TieredMaskCache{local: local, shared: shared, onErr: onErr}
}

func (c *TieredMaskCache) Get(ctx context.Context, key string) (*pipeline.Mask, bool) {
	if m, ok := c.local.Get(ctx, key); ok {
		return m, true
	}
	if c.shared == nil {
		return nil, false
	}
	m, ok := c.shared.Get(ctx, key)
	if ok {
		if err := c.local.Set(ctx, key, m); err != nil {
			c.onErr(err)
		}
	}
	return m, ok
}

func (c *TieredMaskCache) Set(ctx context.Context, key string, m *pipeline.Mask) error {
	if err := c.local.Set(ctx, key, m); err != nil {
		return err
	}
	if c.shared != nil {
		if err := c.shared.Set(ctx, key, m); err != nil {
			c.onErr(err)
		}
	}
	return nil
}
