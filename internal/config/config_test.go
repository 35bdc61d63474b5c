package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv() {
	os.Setenv("SESSION_AUTH_KEY", "test-auth-key-32-characters-ok!!")
	os.Setenv("DEVICE_COOKIE_SECRET", "test-device-secret-32-chars-ok!!")
	os.Setenv("DB_PASSWORD", "test")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv()
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.WebAdminURL != "/admin" {
		t.Errorf("WebAdminURL: got %q, want /admin", cfg.Server.WebAdminURL)
	}
	if cfg.Server.WebWebmailURL != "/webmail" {
		t.Errorf("WebWebmailURL: got %q, want /webmail", cfg.Server.WebWebmailURL)
	}
	if !cfg.Server.AdminEnabled || !cfg.Server.WebmailEnabled {
		t.Error("both destinations should be enabled by default")
	}
	if cfg.RateLimit.MaxAttemptsPerUser != 5 {
		t.Errorf("MaxAttemptsPerUser: got %d, want 5", cfg.RateLimit.MaxAttemptsPerUser)
	}
	if cfg.RateLimit.MaxAttemptsPerIP != 20 {
		t.Errorf("MaxAttemptsPerIP: got %d, want 20", cfg.RateLimit.MaxAttemptsPerIP)
	}
	if cfg.RateLimit.Window != 15*time.Minute {
		t.Errorf("Window: got %v, want 15m", cfg.RateLimit.Window)
	}
	if cfg.Proxy.TrustHeader != "X-Auth-Email" {
		t.Errorf("TrustHeader: got %q, want X-Auth-Email", cfg.Proxy.TrustHeader)
	}
	if cfg.Proxy.AutoCreate {
		t.Error("proxy auto-create should default to off")
	}
	if cfg.OIDC.Enabled {
		t.Error("OIDC should default to off")
	}
	if len(cfg.Proxy.AllowList) != 0 {
		t.Errorf("AllowList should default empty, got %d entries", len(cfg.Proxy.AllowList))
	}
}

func TestLoadRequiresSessionAuthKey(t *testing.T) {
	os.Setenv("DEVICE_COOKIE_SECRET", "test-device-secret-32-chars-ok!!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail without SESSION_AUTH_KEY")
	}
}

func TestLoadRequiresDeviceCookieSecret(t *testing.T) {
	os.Setenv("SESSION_AUTH_KEY", "test-auth-key-32-characters-ok!!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail without DEVICE_COOKIE_SECRET")
	}
}

func TestLoadRejectsShortKeys(t *testing.T) {
	os.Setenv("SESSION_AUTH_KEY", "short")
	os.Setenv("DEVICE_COOKIE_SECRET", "test-device-secret-32-chars-ok!!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject a short SESSION_AUTH_KEY")
	}
}

func TestValidateSessionKeys(t *testing.T) {
	good := &SessionConfig{
		AuthKey:            "test-auth-key-32-characters-ok!!",
		DeviceCookieSecret: "test-device-secret-32-chars-ok!!",
	}
	if err := validateSessionKeys(good, "production"); err != nil {
		t.Errorf("validateSessionKeys() = %v, want nil", err)
	}

	short := &SessionConfig{
		AuthKey:            "test-auth-key-32-characters-ok!!",
		DeviceCookieSecret: "short",
	}
	if err := validateSessionKeys(short, "development"); err == nil {
		t.Error("validateSessionKeys() should reject a short device cookie secret")
	}
}

func TestLoadProductionRequiresLongerKeys(t *testing.T) {
	os.Setenv("ENV", "production")
	os.Setenv("SESSION_AUTH_KEY", "sixteen-chars-ok")
	os.Setenv("DEVICE_COOKIE_SECRET", "test-device-secret-32-chars-ok!!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should require 32-char keys in production")
	}
}

func TestLoadParsesAllowList(t *testing.T) {
	setRequiredEnv()
	os.Setenv("PROXY_AUTH_WHITELIST", "10.0.0.0/8, 192.168.1.5, 2001:db8::1")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if len(cfg.Proxy.AllowList) != 3 {
		t.Fatalf("AllowList: got %d entries, want 3", len(cfg.Proxy.AllowList))
	}
	// Bare addresses become single-host ranges
	if got := cfg.Proxy.AllowList[1].String(); got != "192.168.1.5/32" {
		t.Errorf("bare IPv4: got %q, want 192.168.1.5/32", got)
	}
	if got := cfg.Proxy.AllowList[2].String(); got != "2001:db8::1/128" {
		t.Errorf("bare IPv6: got %q, want 2001:db8::1/128", got)
	}
}

func TestLoadRejectsInvalidAllowList(t *testing.T) {
	setRequiredEnv()
	os.Setenv("PROXY_AUTH_WHITELIST", "not-an-address")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject an unparseable allow-list entry")
	}
}

func TestLoadOIDCRequiresCredentials(t *testing.T) {
	setRequiredEnv()
	os.Setenv("OIDC_ENABLED", "true")
	os.Setenv("OIDC_ISSUER", "https://idp.example")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should require client credentials when OIDC is enabled")
	}
}

func TestLoadEmailRequiresFromAddress(t *testing.T) {
	setRequiredEnv()
	os.Setenv("WELCOME_EMAIL_ENABLED", "true")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should require EMAIL_FROM_ADDRESS when welcome email is enabled")
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: 5432, User: "postern", Password: "pw",
		Name: "postern", SSLMode: "require",
	}
	want := "host=db port=5432 user=postern password=pw dbname=postern sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN(): got %q, want %q", got, want)
	}
}
