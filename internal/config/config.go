// Package config loads the service configuration from the environment once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Token transports accepted by PM_TOKEN_TRANSPORT.
const (
	TransportCookie = "cookie"
	TransportHeader = "header"
)

// Cache backends accepted by PM_CACHE_BACKEND.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is immutable after Load.
type Config struct {
	// Server
	HTTPAddr string
	GRPCAddr string

	// Database; empty selects the in-memory store.
	PostgresDSN string

	// Tokens
	AuthSecret     string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	TokenTransport string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// Cache
	CacheBackend string
	CacheTTL     time.Duration
	CacheSize    int
	RedisAddr    string
	RedisDB      int

	// E-mail queue; empty URL logs jobs instead of publishing them.
	AMQPURL    string
	EmailQueue string

	// Login rate limit. TrustProxyHeaders keys buckets by X-Forwarded-For.
	LoginRateBurst    int
	LoginRatePerSec   float64
	TrustProxyHeaders bool

	// Optional first administrator, created at startup when absent.
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// Load reads Config from the environment. Missing required variables and unparsable
// values are reported together, each naming its variable.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{}

	cfg.AuthSecret = strings.TrimSpace(os.Getenv("PM_AUTH_SECRET"))
	if cfg.AuthSecret == "" {
		errs = append(errs, errors.New("PM_AUTH_SECRET is required"))
	}

	cfg.HTTPAddr = getEnvString("PM_HTTP_ADDR", ":3000")
	cfg.GRPCAddr = getEnvString("PM_GRPC_ADDR", ":3001")
	cfg.PostgresDSN = getEnvString("PM_PG_DSN", "")
	cfg.AccessTTL = getEnvDuration(&errs, "PM_ACCESS_TTL", time.Hour)
	cfg.RefreshTTL = getEnvDuration(&errs, "PM_REFRESH_TTL", 7*24*time.Hour)
	cfg.TokenTransport = getEnvChoice(&errs, "PM_TOKEN_TRANSPORT", TransportCookie, TransportCookie, TransportHeader)
	cfg.CookieSecure = getEnvBool(&errs, "PM_COOKIE_SECURE", false)
	cfg.CookieDomain = getEnvString("PM_COOKIE_DOMAIN", "")
	cfg.CacheBackend = getEnvChoice(&errs, "PM_CACHE_BACKEND", CacheMemory, CacheMemory, CacheRedis, CacheNone)
	cfg.CacheTTL = getEnvDuration(&errs, "PM_CACHE_TTL", 10*time.Minute)
	cfg.CacheSize = getEnvInt(&errs, "PM_CACHE_SIZE", 1024)
	cfg.RedisAddr = getEnvString("PM_REDIS_ADDR", "localhost:6379")
	cfg.RedisDB = getEnvInt(&errs, "PM_REDIS_DB", 1)
	cfg.AMQPURL = getEnvString("PM_AMQP_URL", "")
	cfg.EmailQueue = getEnvString("PM_EMAIL_QUEUE", "emailQueue")
	cfg.LoginRateBurst = getEnvInt(&errs, "PM_LOGIN_RATE_BURST", 10)
	cfg.LoginRatePerSec = getEnvFloat(&errs, "PM_LOGIN_RATE_PER_SEC", 5)
	cfg.TrustProxyHeaders = getEnvBool(&errs, "PM_TRUST_PROXY_HEADERS", false)
	cfg.BootstrapAdminEmail = getEnvString("PM_BOOTSTRAP_ADMIN_EMAIL", "")
	cfg.BootstrapAdminPassword = os.Getenv("PM_BOOTSTRAP_ADMIN_PASSWORD")
	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword == "" {
		errs = append(errs, errors.New("PM_BOOTSTRAP_ADMIN_PASSWORD is required with PM_BOOTSTRAP_ADMIN_EMAIL"))
	}

	if cfg.AccessTTL > 0 && cfg.RefreshTTL > 0 && cfg.RefreshTTL <= cfg.AccessTTL {
		errs = append(errs, errors.New("PM_REFRESH_TTL must be longer than PM_ACCESS_TTL"))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(errs *[]error, key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid non-negative integer %q", key, v))
		return defaultVal
	}
	return i
}

func getEnvFloat(errs *[]error, key string, defaultVal float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid positive number %q", key, v))
		return defaultVal
	}
	return f
}

func getEnvBool(errs *[]error, key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func getEnvDuration(errs *[]error, key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid positive duration %q", key, v))
		return defaultVal
	}
	return d
}

func getEnvChoice(errs *[]error, key, defaultVal string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	*errs = append(*errs, fmt.Errorf("%s: %q is not one of %s", key, v, strings.Join(allowed, ", ")))
	return defaultVal
}
