package config

import (
	"os"
	"strings"
	"time"
)

// CacheConfig defines settings for the response cache middleware.
// When Enabled is false or no Redis client is configured, caching is
// disabled.  Only the ranking endpoint is mounted behind the cache; a stopped
// game purges every entry under Prefix so a new time shows up at once.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string // route_query or route
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads the CACHE_* variables from the process environment.
func LoadCacheConfig() CacheConfig {
	return CacheFromEnv(os.LookupEnv)
}

// CacheFromEnv builds a CacheConfig from lookup.  Unparsable values fall back
// to their defaults.
func CacheFromEnv(lookup func(string) (string, bool)) CacheConfig {
	r := reader{lookup: lookup}
	cfg := CacheConfig{
		Enabled:      r.flag("CACHE_ENABLED", true),
		Methods:      parseMethods(r.str("CACHE_METHODS", "GET")),
		TTL:          r.dur("CACHE_TTL", 15*time.Second),
		KeyStrategy:  r.str("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       r.str("CACHE_PREFIX", "reception-cache"),
		MaxBodyBytes: r.num("CACHE_MAX_BODY_BYTES", 64<<10),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Second
	}
	return cfg
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
