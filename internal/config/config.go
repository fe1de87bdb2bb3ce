package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateRule is the quota for one route class: at most Limit requests per
// Window for a single client.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	AdminUser     string
	AdminPassword string

	// DatabaseURL is a postgres:// URL in production. sqlite:// and file:
	// URLs are accepted for local development.
	DatabaseURL string

	RedisURL string

	// CounterTimeout bounds every counter-store round trip. A slower
	// operation is treated as a counter-store failure.
	CounterTimeout time.Duration

	// RetentionDays is how long visit rows are kept. 0 keeps them forever.
	RetentionDays int

	ListenAddr string

	// BootstrapSiteDomain, when set, makes sure a site for that domain
	// exists at startup. BootstrapSiteKey pins its API key; if empty a
	// key is generated the first time.
	BootstrapSiteDomain string
	BootstrapSiteKey    string

	GeoIPDB  string
	GeoIPCSV string

	// SiteCacheTTL enables an in-process cache of API key lookups.
	// Zero disables it.
	SiteCacheTTL time.Duration

	// TrustProxy makes the client IP come from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	SessionTTL time.Duration

	LogLevel  string
	LogFormat string

	TrackRate RateRule
	APIRate   RateRule
	LoginRate RateRule
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		AdminUser:           getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:       getenv("APP_ADMIN_PASSWORD", "changeme"),
		DatabaseURL:         os.Getenv("APP_DATABASE_URL"),
		RedisURL:            getenv("APP_REDIS_URL", "redis://localhost:6379/0"),
		CounterTimeout:      getduration("APP_COUNTER_TIMEOUT", 250*time.Millisecond),
		RetentionDays:       getint("APP_RETENTION_DAYS", 0),
		ListenAddr:          getenv("APP_LISTEN_ADDR", ":8080"),
		BootstrapSiteDomain: getenv("APP_BOOTSTRAP_SITE_DOMAIN", ""),
		BootstrapSiteKey:    getenv("APP_BOOTSTRAP_SITE_KEY", ""),
		GeoIPDB:             getenv("APP_GEOIP_DB", ""),
		GeoIPCSV:            getenv("APP_GEOIP_CSV", ""),
		SiteCacheTTL:        getduration("APP_SITE_CACHE_TTL", 0),
		TrustProxy:          getbool("APP_TRUST_PROXY", false),
		SessionTTL:          getduration("APP_SESSION_TTL", 24*time.Hour),
		LogLevel:            getenv("APP_LOG_LEVEL", "info"),
		LogFormat:           getenv("APP_LOG_FORMAT", "json"),
		TrackRate: RateRule{
			Limit:  getint("APP_RATE_TRACK_LIMIT", 1000),
			Window: getduration("APP_RATE_TRACK_WINDOW", time.Minute),
		},
		APIRate: RateRule{
			Limit:  getint("APP_RATE_API_LIMIT", 100),
			Window: getduration("APP_RATE_API_WINDOW", time.Minute),
		},
		LoginRate: RateRule{
			Limit:  getint("APP_RATE_LOGIN_LIMIT", 5),
			Window: getduration("APP_RATE_LOGIN_WINDOW", 15*time.Minute),
		},
	}

	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = 0
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// getduration accepts Go duration strings ("250ms", "15m") or a bare
// number of seconds.
func getduration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
