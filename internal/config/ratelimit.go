package config

import (
	"os"
	"time"
)

// RateLimitConfig drives the Redis token bucket in front of the guest
// endpoints.  Capacity is the burst size; RefillTokens are added every
// RefillInterval.  Keys expire after TTL of inactivity.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // ip, ip_route or ip_user_route
	Prefix         string
	Debug          bool // expose X-RateLimit-* headers
}

// LoadRateLimitConfig reads the RATE_LIMIT_* variables from the process
// environment.
func LoadRateLimitConfig() RateLimitConfig {
	return RateLimitFromEnv(os.LookupEnv)
}

// RateLimitFromEnv builds a RateLimitConfig from lookup and clamps the
// values into a usable range.
func RateLimitFromEnv(lookup func(string) (string, bool)) RateLimitConfig {
	r := reader{lookup: lookup}
	def := RateLimitConfig{
		Enabled:        r.flag("RATE_LIMIT_ENABLED", true),
		Capacity:       r.num("RATE_LIMIT_CAPACITY", 30),
		RefillTokens:   r.num("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: r.dur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            r.dur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    r.str("RATE_LIMIT_KEY_STRATEGY", "ip_route"),
		Prefix:         r.str("RATE_LIMIT_PREFIX", "reception-rl"),
		Debug:          r.flag("RATE_LIMIT_DEBUG", false),
	}
	if b := r.num("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	// a bucket must outlive a full refill or idle clients get a fresh burst early
	if minTTL := 5 * def.RefillInterval; def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}
