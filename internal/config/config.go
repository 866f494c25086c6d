package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"strings"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/token"
)

// Storage backends.
const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env     string // application environment (e.g. "dev", "prod")
	Port    string // HTTP port to listen on
	Storage string // mysql or memory

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret      string // secret used to sign staff JWTs
	AccessTTLMin   int    // access token time‑to‑live in minutes
	RefreshTTLDays int    // refresh token time‑to‑live in days
	BcryptCost     int    // bcrypt cost for password hashing

	SessionSecret string        // secret mixed into guest check-in tokens
	TokenMode     token.Mode    // secure (HMAC) or legacy (base64)
	TokenWindow   time.Duration // coarse token validity bucket

	MaxGroupSize   int                  // guests admitted per slot
	CapacityPolicy model.CapacityPolicy // which reservations occupy a slot
	VenueTZ        *time.Location       // zone used to read HH:MM slots
	PublicBaseURL  string               // prefix of printed check-in URLs

	ForcedStop          time.Duration // game ceiling before automatic stop
	TickInterval        time.Duration // forced-stop sweep period
	CheckInPollInterval time.Duration // check-in watcher period

	RabbitMQURL   string // broker for reception events; empty disables publishing
	AuditLogPath  string // where the audit consumer appends events
	AuditConsumer bool   // run the audit consumer in-process
	LogLevel      string // debug, info, warn, error

	StaffBootstrapEmail    string // staff account created at startup when set
	StaffBootstrapPassword string
}

// Load reads configuration values from environment variables and returns a
// Config.  Missing or invalid values cause the program to exit with a fatal
// log message.
func Load() Config {
	cfg, err := FromEnv(os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnv builds a Config from lookup, reporting every problem at once.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		Env:     r.must("APP_ENV"),
		Port:    r.must("APP_PORT"),
		Storage: strings.ToLower(r.str("STORAGE", StorageMySQL)),

		JWTSecret:      r.must("JWT_SECRET"),
		AccessTTLMin:   r.mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: r.mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     r.mustInt("BCRYPT_COST"),

		SessionSecret: r.str("SESSION_SECRET", ""),
		TokenWindow:   r.dur("TOKEN_WINDOW", token.DefaultWindow),

		MaxGroupSize:   r.num("MAX_GROUP_SIZE", 8),
		CapacityPolicy: model.CapacityPolicy(strings.ToLower(r.str("CAPACITY_POLICY", string(model.PolicyBooked)))),
		PublicBaseURL:  r.str("PUBLIC_BASE_URL", "http://localhost:8080"),

		ForcedStop:          r.dur("FORCED_STOP_SECONDS", 600*time.Second),
		TickInterval:        r.dur("TICK_INTERVAL", time.Second),
		CheckInPollInterval: r.dur("CHECKIN_POLL_INTERVAL", 2*time.Second),

		RabbitMQURL:   r.str("RABBITMQ_URL", ""),
		AuditLogPath:  r.str("AUDIT_LOG_PATH", "logs/reception.log"),
		AuditConsumer: r.flag("AUDIT_CONSUMER_ENABLED", true),
		LogLevel:      r.str("LOG_LEVEL", "info"),

		StaffBootstrapEmail:    r.str("STAFF_BOOTSTRAP_EMAIL", ""),
		StaffBootstrapPassword: r.str("STAFF_BOOTSTRAP_PASSWORD", ""),
	}

	switch cfg.Storage {
	case StorageMySQL:
		cfg.DBUser = r.must("DB_USER")
		cfg.DBPass = r.str("DB_PASS", "") // empty allowed
		cfg.DBHost = r.must("DB_HOST")
		cfg.DBPort = r.must("DB_PORT")
		cfg.DBName = r.must("DB_NAME")
	case StorageMemory:
	default:
		r.fail("STORAGE must be mysql or memory, got %q", cfg.Storage)
	}

	mode, err := token.ParseMode(r.str("TOKEN_MODE", string(token.ModeSecure)))
	if err != nil {
		r.fail("TOKEN_MODE: %v", err)
	}
	cfg.TokenMode = mode
	if mode == token.ModeSecure && cfg.SessionSecret == "" {
		r.fail("SESSION_SECRET is required when TOKEN_MODE=secure")
	}

	if cfg.CapacityPolicy != model.PolicyBooked && cfg.CapacityPolicy != model.PolicyCheckedIn {
		r.fail("CAPACITY_POLICY must be booked or checked_in, got %q", cfg.CapacityPolicy)
	}
	if cfg.TokenWindow <= token.MinWindow {
		r.fail("TOKEN_WINDOW must be longer than %s, got %s", token.MinWindow, cfg.TokenWindow)
	}
	if cfg.MaxGroupSize < 1 {
		r.fail("MAX_GROUP_SIZE must be positive")
	}
	if cfg.TickInterval < time.Second || cfg.CheckInPollInterval < time.Second {
		r.fail("TICK_INTERVAL and CHECKIN_POLL_INTERVAL must be at least 1s")
	}

	tz := r.str("VENUE_TZ", "Asia/Tokyo")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.fail("VENUE_TZ %q: %v", tz, err)
		loc = time.UTC
	}
	cfg.VenueTZ = loc

	return cfg, errors.Join(r.errs...)
}

// reader collects lookup errors instead of exiting on the first one.
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) fail(format string, args ...any) {
	r.errs = append(r.errs, fmt.Errorf(format, args...))
}

// must retrieves the value of a required environment variable.
func (r *reader) must(key string) string {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		r.fail("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func (r *reader) mustInt(key string) int {
	s := r.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.fail("invalid int for %s: %q", key, s)
	}
	return n
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) num(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail("invalid int for %s: %q", key, v)
		return def
	}
	return n
}

func (r *reader) flag(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail("invalid bool for %s: %q", key, v)
		return def
	}
	return b
}

// dur accepts Go durations ("90s", "1h") or bare integers meaning seconds.
func (r *reader) dur(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail("invalid duration for %s: %q", key, v)
		return def
	}
	return d
}
