package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("BASE_URL", "https://auth.example.com/")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://auth.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if !cfg.CookieSecure {
		t.Error("https base url should mark cookies secure")
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"ServerPort", cfg.ServerPort, "8080"},
		{"StoreBackend", cfg.StoreBackend, BackendFS},
		{"SessionCookieName", cfg.SessionCookieName, "profileauth_session"},
		{"SessionLifetime", cfg.SessionLifetime, 24 * time.Hour},
		{"SessionIdleTimeout", cfg.SessionIdleTimeout, time.Duration(0)},
		{"ResetTokenTTL", cfg.ResetTokenTTL, time.Hour},
		{"ResetCleanupInterval", cfg.ResetCleanupInterval, 15 * time.Minute},
		{"OAuthTimeout", cfg.OAuthTimeout, 10 * time.Second},
		{"EmailTimeout", cfg.EmailTimeout, 10 * time.Second},
		{"ForgotPasswordFloor", cfg.ForgotPasswordFloor, time.Second},
		{"RateLimitAuth", cfg.RateLimitAuth, 20},
		{"MinPasswordLength", cfg.MinPasswordLength, 6},
		{"LoginSuccessURL", cfg.LoginSuccessURL, "/"},
		{"LoginFailureURL", cfg.LoginFailureURL, "/login"},
		{"LogLevel", cfg.LogLevel, slog.LevelInfo},
		{"Providers", len(cfg.Providers), 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestFromEnvMissingRequired(t *testing.T) {
	t.Setenv("BASE_URL", "")
	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "BASE_URL") {
		t.Fatalf("expected BASE_URL error, got %v", err)
	}

	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("STORE_BACKEND", BackendGorm)
	t.Setenv("DATABASE_URL", "")
	_, err = FromEnv()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}

	t.Setenv("STORE_BACKEND", BackendDatastore)
	_, err = FromEnv()
	if err == nil || !strings.Contains(err.Error(), "DATASTORE_PROJECT") {
		t.Fatalf("expected DATASTORE_PROJECT error, got %v", err)
	}
}

func TestFromEnvInvalidValues(t *testing.T) {
	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("SESSION_LIFETIME", "forever")
	t.Setenv("RATE_LIMIT_AUTH", "-3")
	t.Setenv("STORE_BACKEND", "mongo")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"SESSION_LIFETIME", "RATE_LIMIT_AUTH", "STORE_BACKEND"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
}

func TestProvidersAndOrigins(t *testing.T) {
	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("OAUTH2_GITHUB_CLIENT_ID", "gh-id")
	t.Setenv("OAUTH2_GITHUB_CLIENT_SECRET", "gh-secret")
	t.Setenv("OAUTH2_GOOGLE_CLIENT_ID", "")
	t.Setenv("OAUTH2_GOOGLE_CLIENT_SECRET", "orphan-secret")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com/, ,https://b.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CookieSecure {
		t.Error("http base url must not force secure cookies")
	}
	if got := cfg.Providers["github"]; got.ClientID != "gh-id" || got.ClientSecret != "gh-secret" {
		t.Errorf("github credentials = %+v", got)
	}
	if _, ok := cfg.Providers["google"]; ok {
		t.Error("provider without client id should be absent")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example.com" {
		t.Errorf("origins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BASE_URL=http://from-dotenv:9000\nSERVER_PORT=9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	// Registered with t.Setenv so the values godotenv sets are restored.
	t.Setenv("BASE_URL", "")
	t.Setenv("SERVER_PORT", "")
	os.Unsetenv("BASE_URL")
	os.Unsetenv("SERVER_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "http://from-dotenv:9000" || cfg.Addr() != ":9000" {
		t.Errorf("got %q %q", cfg.BaseURL, cfg.Addr())
	}
}
