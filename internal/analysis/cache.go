package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castlight/chess-trainer/internal/obslog"
)

// Cache stores resolved analysis results in Redis, keyed by position and
// search options. A nil *Cache is valid and caches nothing.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache connects to Redis at redisURL. Entries expire after ttl.
func NewCache(redisURL string, ttl time.Duration) (*Cache, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required for analysis cache")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// NewCacheWithClient wraps an existing client. Used by tests.
func NewCacheWithClient(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, position string, opts Options) (*Result, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(position, opts)).Bytes()
	if err != nil {
		if err != redis.Nil {
			obslog.L().Warn("analysis_cache_get_failed", zap.Error(err))
		}
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		obslog.L().Warn("analysis_cache_decode_failed", zap.Error(err))
		return nil, false
	}
	return &res, true
}

func (c *Cache) Put(ctx context.Context, position string, opts Options, res *Result) {
	if c == nil || res == nil || res.TimedOut || res.Faulted {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(position, opts), raw, c.ttl).Err(); err != nil {
		obslog.L().Warn("analysis_cache_put_failed", zap.Error(err))
	}
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func cacheKey(position string, opts Options) string {
	return fmt.Sprintf("analysis:result:%s|d%d|mt%d|l%d", strings.TrimSpace(position), opts.Depth, opts.MoveTimeMillis, opts.Lines)
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
