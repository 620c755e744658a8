package providers

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"docchat/config"
	"docchat/logger"
)

// CachedProvider decorates a Provider with a Redis embedding cache.
// Embedding calls are deterministic and side-effect free, so caching
// by content hash is safe. Completions and transcription pass through
// untouched.
type CachedProvider struct {
	Provider
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedProvider(inner Provider, cfg config.RedisConfig) (*CachedProvider, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ttl := time.Duration(cfg.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	logger.Info("embedding cache enabled", zap.String("addr", cfg.Addr))
	return &CachedProvider{Provider: inner, rdb: rdb, ttl: ttl}, nil
}

func (c *CachedProvider) Close() error {
	return c.rdb.Close()
}

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.get(ctx, text); ok {
			vecs[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		fresh, err := c.Provider.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, i := range missIdx {
			vecs[i] = fresh[j]
			c.put(ctx, texts[i], fresh[j])
		}
	}

	logger.Debug("embedding batch served",
		zap.Int("total", len(texts)),
		zap.Int("cache_misses", len(missTexts)),
	)
	return vecs, nil
}

func (c *CachedProvider) get(ctx context.Context, text string) ([]float32, bool) {
	data, err := c.rdb.Get(ctx, embeddingKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *CachedProvider) put(ctx context.Context, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, embeddingKey(text), data, c.ttl).Err(); err != nil {
		logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

func embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%x", sum)
}

var _ Provider = (*CachedProvider)(nil)
