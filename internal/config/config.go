package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	OIDC      OIDCConfig
	Proxy     ProxyConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	WebAdminURL    string
	WebWebmailURL  string
	AdminEnabled   bool
	WebmailEnabled bool
}

type SessionConfig struct {
	// AuthKey signs session cookies, EncryptionKey (optional) encrypts them.
	AuthKey       string
	EncryptionKey string
	SecureCookies bool
	// DeviceCookieSecret signs the long-lived device-correlation cookie.
	DeviceCookieSecret string
	CSRFKey            string
}

type RateLimitConfig struct {
	MaxAttemptsPerUser int
	MaxAttemptsPerIP   int
	Window             time.Duration
	CleanupInterval    time.Duration
}

type OIDCConfig struct {
	Enabled               bool
	Issuer                string
	ClientID              string
	ClientSecret          string
	RedirectURL           string
	PostLogoutRedirectURL string
}

type ProxyConfig struct {
	// AllowList holds CIDR ranges trusted to assert identity via TrustHeader
	AllowList   []*net.IPNet
	TrustHeader string
	AutoCreate  bool
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	SiteName    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	authKey := getEnv("SESSION_AUTH_KEY", "")
	if authKey == "" {
		return nil, fmt.Errorf("SESSION_AUTH_KEY is required")
	}

	deviceSecret := getEnv("DEVICE_COOKIE_SECRET", "")
	if deviceSecret == "" {
		return nil, fmt.Errorf("DEVICE_COOKIE_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "postern"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			WebAdminURL:    getEnv("WEB_ADMIN", "/admin"),
			WebWebmailURL:  getEnv("WEB_WEBMAIL", "/webmail"),
			AdminEnabled:   getEnvAsBool("ADMIN_ENABLED", true),
			WebmailEnabled: getEnvAsBool("WEBMAIL_ENABLED", true),
		},
		Session: SessionConfig{
			AuthKey:            authKey,
			EncryptionKey:      getEnv("SESSION_ENCRYPTION_KEY", ""),
			SecureCookies:      getEnvAsBool("SESSION_COOKIE_SECURE", env == "production"),
			DeviceCookieSecret: deviceSecret,
			CSRFKey:            getEnv("CSRF_KEY", authKey),
		},
		RateLimit: RateLimitConfig{
			MaxAttemptsPerUser: getEnvAsInt("RATE_LIMIT_MAX_PER_USER", 5),
			MaxAttemptsPerIP:   getEnvAsInt("RATE_LIMIT_MAX_PER_IP", 20),
			Window:             getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			CleanupInterval:    getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 1*time.Hour),
		},
		OIDC: OIDCConfig{
			Enabled:               getEnvAsBool("OIDC_ENABLED", false),
			Issuer:                getEnv("OIDC_ISSUER", ""),
			ClientID:              getEnv("OIDC_CLIENT_ID", ""),
			ClientSecret:          getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURL:           getEnv("OIDC_REDIRECT_URL", ""),
			PostLogoutRedirectURL: getEnv("OIDC_POST_LOGOUT_REDIRECT_URL", ""),
		},
		Proxy: ProxyConfig{
			TrustHeader: getEnv("PROXY_AUTH_HEADER", "X-Auth-Email"),
			AutoCreate:  getEnvAsBool("PROXY_AUTH_CREATE", false),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("WELCOME_EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			SiteName:    getEnv("SITE_NAME", "Postern"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSessionKeys(&cfg.Session, env); err != nil {
		return nil, err
	}

	allowList, err := parseAllowList(getEnv("PROXY_AUTH_WHITELIST", ""))
	if err != nil {
		return nil, err
	}
	cfg.Proxy.AllowList = allowList

	if cfg.OIDC.Enabled {
		if cfg.OIDC.Issuer == "" || cfg.OIDC.ClientID == "" || cfg.OIDC.ClientSecret == "" {
			return nil, fmt.Errorf("OIDC_ISSUER, OIDC_CLIENT_ID and OIDC_CLIENT_SECRET are required when OIDC_ENABLED=true")
		}
	}

	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when WELCOME_EMAIL_ENABLED=true")
	}

	return cfg, nil
}

// validateSessionKeys enforces minimum strength for cookie signing secrets
func validateSessionKeys(s *SessionConfig, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(s.AuthKey) < minLength {
		return fmt.Errorf("SESSION_AUTH_KEY must be at least %d characters in %s environment (got %d)",
			minLength, env, len(s.AuthKey))
	}
	if len(s.DeviceCookieSecret) < minLength {
		return fmt.Errorf("DEVICE_COOKIE_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(s.DeviceCookieSecret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}
	for _, weak := range weakSecrets {
		if strings.EqualFold(s.AuthKey, weak) || strings.EqualFold(s.DeviceCookieSecret, weak) {
			return fmt.Errorf("session secrets cannot be a common weak value")
		}
	}

	return nil
}

// parseAllowList parses a comma-separated list of CIDR ranges.
// Bare addresses are accepted and treated as single-host ranges.
func parseAllowList(raw string) ([]*net.IPNet, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var nets []*net.IPNet
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				if ip.To4() != nil {
					entry += "/32"
				} else {
					entry += "/128"
				}
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid PROXY_AUTH_WHITELIST entry %q: %w", entry, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
