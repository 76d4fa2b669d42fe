package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"emaband-backtest/services/engine"
)

// Identified is implemented by sources that can name the data they read.
// Two sources with the same SourceID must return the same candles for a Query.
type Identified interface {
	SourceID() string
}

// CachingSource wraps a Source with a redis read-through cache of JSON candle slices.
// Keys carry a digest of the wrapped source's identity.
type CachingSource struct {
	rdb       *redis.Client
	ttl       time.Duration
	inner     Source
	namespace string
	source    string
	logger    *zap.Logger
}

func NewCachingSource(rdb *redis.Client, ttl time.Duration, inner Source, namespace string, logger *zap.Logger) *CachingSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if namespace == "" {
		namespace = "candles"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := fmt.Sprintf("%T", inner)
	if ident, ok := inner.(Identified); ok {
		id = ident.SourceID()
	}
	return &CachingSource{rdb: rdb, ttl: ttl, inner: inner, namespace: namespace, source: sourceDigest(id), logger: logger}
}

func sourceDigest(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}

func (c *CachingSource) Load(ctx context.Context, q Query) ([]engine.Candle, error) {
	if c.rdb == nil {
		return c.inner.Load(ctx, q)
	}
	key := c.cacheKey(q)

	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []engine.Candle
		if err := json.Unmarshal(b, &out); err == nil {
			c.logger.Debug("candle cache hit", zap.String("key", key), zap.Int("candles", len(out)))
			return out, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	}

	out, err := c.inner.Load(ctx, q)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.Warn("candle cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func (c *CachingSource) cacheKey(q Query) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d",
		c.namespace,
		c.source,
		safe(q.Symbol),
		safe(q.Interval),
		unixMilliOrZero(q.From),
		unixMilliOrZero(q.To),
	)
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, ":", "_")
}
