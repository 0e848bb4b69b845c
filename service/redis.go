package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/config"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// RedisMaskCache 把分割掩码以 8 位灰度 PNG 存到 Redis
type RedisMaskCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisMaskCache(cfg *config.RedisConfig, log *zap.Logger) *RedisMaskCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisMaskCache{
		client: client,
		ttl:    cfg.TTL,
		log:    log,
	}
}

func (s *RedisMaskCache) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get 从缓存获取掩码，未命中或出错都视为 miss
func (s *RedisMaskCache) Get(ctx context.Context, key string) (*pipeline.Mask, bool) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("redis mask lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	m, err := decodeMask(data)
	if err != nil {
		s.log.Error("failed to decode cached mask", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return m, true
}

// Set 设置掩码到缓存
func (s *RedisMaskCache) Set(ctx context.Context, key string, m *pipeline.Mask) error {
	data, err := encodeMask(m)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisMaskCache) Close() error {
	return s.client.Close()
}

func encodeMask(m *pipeline.Mask) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, m.Gray()); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMask(data []byte) (*pipeline.Mask, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	return pipeline.MaskFromGray(img), nil
}
