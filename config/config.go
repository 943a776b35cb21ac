// Package config loads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	GitHub   GitHubConfig
	Azure    AzureConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Port        string
	Environment string
	Debug       bool
	// FrontendURL is where the OAuth callback sends the browser after login.
	FrontendURL string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL            string
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration
}

type AuthConfig struct {
	SessionSecret string
	SessionTTL    time.Duration
	CookieName    string
	CookieSecure  bool
	AdminEmails   []string
	// Optional external identity provider accepted for bearer tokens.
	JWKSURL  string
	Audience string
	Issuer   string
}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string
}

type AzureConfig struct {
	ConnectionString string
	ActivityQueue    string
	ActivityTable    string
}

type EventsConfig struct {
	Workers        int
	Buffer         int
	SendTimeout    time.Duration
	HandoffTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			Debug:       getEnvAsBool("DEBUG", false),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
			CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			DSN:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:            getEnv("REDIS_CONNECTION_STRING", "localhost:6379"),
			CacheTTL:       getEnvAsDuration("CACHE_TTL", time.Minute),
			IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Auth: AuthConfig{
			SessionSecret: getEnv("SESSION_SECRET", ""),
			SessionTTL:    getEnvAsDuration("SESSION_TTL", 7*24*time.Hour),
			CookieName:    getEnv("SESSION_COOKIE", "tandem_session"),
			CookieSecure:  getEnvAsBool("SESSION_COOKIE_SECURE", false),
			AdminEmails:   getEnvAsList("ADMIN_EMAILS", nil),
			JWKSURL:       getEnv("JWKS_URL", ""),
			Audience:      getEnv("JWT_AUDIENCE", ""),
			Issuer:        getEnv("JWT_ISSUER", ""),
		},
		GitHub: GitHubConfig{
			ClientID:     getEnv("GITHUB_CLIENT_ID", ""),
			ClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
			CallbackURL:  getEnv("GITHUB_CALLBACK_URL", "http://localhost:8080/api/auth/github/callback"),
			Scopes:       getEnvAsList("GITHUB_SCOPES", []string{"read:user", "user:email", "repo", "read:org"}),
		},
		Azure: AzureConfig{
			ConnectionString: getEnv("STORAGE_CONNECTION_STRING", ""),
			ActivityQueue:    getEnv("ACTIVITY_QUEUE", "board-events"),
			ActivityTable:    getEnv("ACTIVITY_TABLE", "activity"),
		},
		Events: EventsConfig{
			Workers:        getEnvAsInt("EVENT_WORKERS", 8),
			Buffer:         getEnvAsInt("EVENT_BUFFER", 1024),
			SendTimeout:    getEnvAsDuration("EVENT_SEND_TIMEOUT", 10*time.Second),
			HandoffTimeout: getEnvAsDuration("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.Auth.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.GitHub.ClientID == "" || c.GitHub.ClientSecret == "" {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required"))
	}
	if c.Auth.JWKSURL != "" && (c.Auth.Audience == "" || c.Auth.Issuer == "") {
		errs = append(errs, errors.New("JWT_AUDIENCE and JWT_ISSUER are required with JWKS_URL"))
	}
	if c.IsProduction() && !c.Auth.CookieSecure {
		errs = append(errs, errors.New("SESSION_COOKIE_SECURE must be enabled in production"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// ActivityEnabled reports whether the Azure activity pipeline is configured.
func (c *Config) ActivityEnabled() bool {
	return c.Azure.ConnectionString != ""
}

// RedisOptions accepts either a redis:// URL or the "host:port,password=...,ssl=true"
// form used by Azure Cache for Redis.
func (c *Config) RedisOptions() (*redis.Options, error) {
	return ParseRedis(c.Redis.URL)
}

func ParseRedis(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
