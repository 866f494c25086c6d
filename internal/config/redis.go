package config

// Redis backs the guest rate limiter and the ranking response cache.  Both
// degrade to pass-through when the server is unreachable at startup, so the
// reception desk keeps working without it.

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions reads connection settings from lookup.
// Supported variables are:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand, used when host/port are not both set
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS
// Enabled is false when REDIS_ENABLED=false.
func RedisOptions(lookup func(string) (string, bool)) (opts *redis.Options, enabled bool) {
	r := reader{lookup: lookup}
	addr := r.str("REDIS_ADDR", "localhost:6379")
	host, port := r.str("REDIS_HOST", ""), r.str("REDIS_PORT", "")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	opts = &redis.Options{
		Addr:     addr,
		Password: r.str("REDIS_PASSWORD", ""),
		DB:       r.num("REDIS_DB", 0),
	}
	if r.flag("REDIS_TLS", false) {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, r.flag("REDIS_ENABLED", true)
}

// NewRedisClient connects using the process environment.  It returns nil
// when Redis is disabled or does not answer a ping within two seconds;
// callers treat nil as "no cache, no rate limit".
func NewRedisClient(ctx context.Context) *redis.Client {
	opts, enabled := RedisOptions(os.LookupEnv)
	if !enabled {
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
