// Package config loads profileauth settings from the environment. Values
// are read once at startup and treated as immutable.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendFS        = "fs"
	BackendGorm      = "gorm"
	BackendDatastore = "datastore"
)

// KnownProviders are looked up as OAUTH2_<NAME>_CLIENT_ID/_CLIENT_SECRET.
var KnownProviders = []string{"google", "github", "discord"}

// ProviderCredentials are one provider's OAuth client credentials.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

type Config struct {
	// Server
	BaseURL    string
	ServerPort string

	// Storage
	StoreBackend       string
	DatabaseURL        string
	DatastoreProject   string
	DatastoreNamespace string
	FSStoragePath      string
	RedisURL           string

	// Session
	SessionCookieName  string
	SessionLifetime    time.Duration
	SessionIdleTimeout time.Duration
	CookieSecure       bool
	JWTSecretKey       string

	// Password reset
	ResetTokenTTL        time.Duration
	ResetCleanupInterval time.Duration
	EmailTimeout         time.Duration
	ForgotPasswordFloor  time.Duration
	SMTPAddr             string
	SMTPUsername         string
	SMTPPassword         string
	SMTPFrom             string

	// OAuth
	OAuthTimeout    time.Duration
	LoginSuccessURL string
	LoginFailureURL string
	Providers       map[string]ProviderCredentials

	// Policy
	MinPasswordLength  int
	RateLimitAuth      int
	CORSAllowedOrigins []string

	LogLevel slog.Level
}

// Load reads a .env file when present, then the environment. It fails
// when a required variable is missing or a value cannot be parsed.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var missing, invalid []string

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.StoreBackend = getEnvString("STORE_BACKEND", BackendFS)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DatastoreProject = os.Getenv("DATASTORE_PROJECT")
	cfg.DatastoreNamespace = os.Getenv("DATASTORE_NAMESPACE")
	cfg.FSStoragePath = getEnvString("FS_STORAGE_PATH", "./data")
	switch cfg.StoreBackend {
	case BackendFS:
	case BackendGorm:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendDatastore:
		if cfg.DatastoreProject == "" {
			missing = append(missing, "DATASTORE_PROJECT")
		}
	default:
		invalid = append(invalid, "STORE_BACKEND")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "profileauth_session")
	cfg.SessionLifetime = getEnvDuration("SESSION_LIFETIME", 24*time.Hour, &invalid)
	cfg.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", 0, &invalid)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.JWTSecretKey = os.Getenv("JWT_SECRET_KEY")

	cfg.ResetTokenTTL = getEnvDuration("RESET_TOKEN_TTL", time.Hour, &invalid)
	cfg.ResetCleanupInterval = getEnvDuration("RESET_CLEANUP_INTERVAL", 15*time.Minute, &invalid)
	cfg.EmailTimeout = getEnvDuration("EMAIL_TIMEOUT", 10*time.Second, &invalid)
	cfg.ForgotPasswordFloor = getEnvDuration("FORGOT_PASSWORD_MIN_DURATION", time.Second, &invalid)
	cfg.SMTPAddr = os.Getenv("SMTP_ADDR")
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "no-reply@localhost")

	cfg.OAuthTimeout = getEnvDuration("OAUTH_TIMEOUT", 10*time.Second, &invalid)
	cfg.LoginSuccessURL = getEnvString("LOGIN_SUCCESS_URL", "/")
	cfg.LoginFailureURL = getEnvString("LOGIN_FAILURE_URL", "/login")
	cfg.Providers = map[string]ProviderCredentials{}
	for _, name := range KnownProviders {
		prefix := "OAUTH2_" + strings.ToUpper(name)
		id := os.Getenv(prefix + "_CLIENT_ID")
		if id == "" {
			continue
		}
		cfg.Providers[name] = ProviderCredentials{
			ClientID:     id,
			ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		}
	}

	cfg.MinPasswordLength = getEnvInt("MIN_PASSWORD_LENGTH", 6, &invalid)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20, &invalid)
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			invalid = append(invalid, "LOG_LEVEL")
		}
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalid)
	}
	return cfg, nil
}

// Addr is the listen address for ServerPort.
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int, invalid *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		*invalid = append(*invalid, key)
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration, invalid *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*invalid = append(*invalid, key)
		return defaultVal
	}
	return d
}
