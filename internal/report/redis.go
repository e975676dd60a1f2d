package report

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/die-net/tetherproxy/internal/logger"
)

const redisTimeout = time.Second

// redisHashes is the subset of redis.Cmdable the sink needs.
type redisHashes interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSink keeps per-client transfer totals in Redis hashes named
// "<prefix><client key>" with fields "to_internet" and "from_internet". Each
// write pushes the key's expiry out by TTL.
type RedisSink struct {
	client redisHashes
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisSink connects to the server described by opts. The connection is
// lazy; failures surface as logged write errors.
func NewRedisSink(opts RedisOptions) (*RedisSink, *redis.Client) {
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	return newRedisSink(rdb, opts.Prefix, opts.TTL), rdb
}

func newRedisSink(c redisHashes, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = "tetherproxy:transfer:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSink{client: c, prefix: prefix, ttl: ttl}
}

func (s *RedisSink) Report(ctx context.Context, sess Session, r ByteTransferReport) {
	if r.Empty() {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
	defer cancel()

	key := s.prefix + sess.Client.Key
	if r.ProxyToInternet > 0 {
		if err := s.client.HIncrBy(ctx, key, "to_internet", r.ProxyToInternet).Err(); err != nil {
			logger.Warnf("redis transfer report %s: %v", key, err)
			return
		}
	}
	if r.InternetToProxy > 0 {
		if err := s.client.HIncrBy(ctx, key, "from_internet", r.InternetToProxy).Err(); err != nil {
			logger.Warnf("redis transfer report %s: %v", key, err)
			return
		}
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		logger.Warnf("redis transfer expire %s: %v", key, err)
	}
}
