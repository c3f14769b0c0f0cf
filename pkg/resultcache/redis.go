package resultcache

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	redis "github.com/go-redis/redis/v8"
)

// RedisConfig configures the redis-backed Provider.
type RedisConfig struct {
	Endpoint   string
	Password   string
	DB         int
	Timeout    time.Duration
	Expiration time.Duration
}

// RedisProvider is a Provider backed by go-redis. Reads and writes are
// best-effort: any redis error is logged and treated as a cache miss, per
// the cache is best-effort: read/write failures are logged and treated
// as a miss.
type RedisProvider struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger log.Logger
}

func NewRedisProvider(cfg RedisConfig, logger log.Logger) *RedisProvider {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Endpoint,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
		ReadTimeout: cfg.Timeout,
	})
	return &RedisProvider{client: client, ttl: cfg.Expiration, logger: logger}
}

func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := p.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			level.Warn(p.logger).Log("msg", "result cache get failed", "err", err)
		}
		return nil, false
	}
	return val, true
}

func (p *RedisProvider) Set(ctx context.Context, key string, value []byte) {
	if err := p.client.Set(ctx, key, value, p.ttl).Err(); err != nil {
		level.Warn(p.logger).Log("msg", "result cache set failed", "err", err)
	}
}

// Close releases the underlying connection pool.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
