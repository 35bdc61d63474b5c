package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/posternhq/postern/internal/auth"
	"github.com/posternhq/postern/internal/models"
)

// LoginAttemptRepository defines the interface for the attempt store
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedByUsername(ctx context.Context, username string, since time.Time) (int, error)
	CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

// LimiterConfig holds thresholds for brute-force throttling
type LimiterConfig struct {
	MaxAttemptsPerUser int
	MaxAttemptsPerIP   int
	Window             time.Duration
}

// Limiter implements login throttling with two buckets: per client IP and
// per username. Separating them defeats both distributed brute force (many
// IPs, one account) and credential stuffing (one IP, many accounts). A
// signed device cookie bound to the last successfully authenticated
// username keeps a legitimate user's own retries from locking them out.
type Limiter struct {
	repo    LoginAttemptRepository
	config  LimiterConfig
	devices *auth.DeviceCookieManager
	logger  *slog.Logger
}

// NewLimiter creates a new Limiter
func NewLimiter(repo LoginAttemptRepository, config LimiterConfig, devices *auth.DeviceCookieManager, logger *slog.Logger) *Limiter {
	return &Limiter{
		repo:    repo,
		config:  config,
		devices: devices,
		logger:  logger,
	}
}

// ParseDeviceCookie decodes a raw device cookie into (deviceID, username).
// It fails soft: malformed or absent input yields ("", "").
func (l *Limiter) ParseDeviceCookie(raw string) (string, string) {
	return l.devices.Parse(raw)
}

// DeviceCookie produces a signed token binding a fresh device ID to the
// username, for client-side storage with a one-year expiry.
func (l *Limiter) DeviceCookie(username string) (string, error) {
	return l.devices.Issue(username)
}

// ShouldRateLimitIP reports whether the IP's recent-failure count exceeds
// the configured threshold within the sliding window.
func (l *Limiter) ShouldRateLimitIP(ctx context.Context, ip string) bool {
	since := time.Now().Add(-l.config.Window)

	count, err := l.repo.CountFailedByIP(ctx, ip, since)
	if err != nil {
		// Fail open for availability: store errors must not lock out
		// legitimate users.
		l.logger.Error("failed to check IP rate limit", slog.Any("error", err))
		return false
	}

	if count >= l.config.MaxAttemptsPerIP {
		l.logger.Warn("IP rate limited",
			slog.String("ip_address", ip),
			slog.Int("failed_attempts", count))
		return true
	}
	return false
}

// ShouldRateLimitUser reports whether failures for this username exceed the
// threshold. The check is exempted when the request carries a device cookie
// bound to the same username: a device that recently completed a successful
// login for the account is trusted not to be the attacker. This is a
// deliberate policy choice; the IP bucket still applies independently.
func (l *Limiter) ShouldRateLimitUser(ctx context.Context, username, ip, deviceID, deviceUsername string) bool {
	if deviceUsername != "" && deviceUsername == username {
		return false
	}

	since := time.Now().Add(-l.config.Window)

	count, err := l.repo.CountFailedByUsername(ctx, username, since)
	if err != nil {
		l.logger.Error("failed to check user rate limit", slog.Any("error", err))
		return false
	}

	if count >= l.config.MaxAttemptsPerUser {
		l.logger.Warn("user rate limited",
			slog.String("username", username),
			slog.String("ip_address", ip),
			slog.String("device_id", deviceID),
			slog.Int("failed_attempts", count))
		return true
	}
	return false
}

// RateLimitIP records a failed attempt against the IP bucket
func (l *Limiter) RateLimitIP(ctx context.Context, ip string) {
	l.record(ctx, &models.LoginAttempt{
		IPAddress: ip,
	})
}

// RateLimitUser records a failed attempt against the username bucket
func (l *Limiter) RateLimitUser(ctx context.Context, username, ip, deviceID, deviceUsername string) {
	l.record(ctx, &models.LoginAttempt{
		Username:  username,
		IPAddress: ip,
		DeviceID:  deviceID,
	})
}

func (l *Limiter) record(ctx context.Context, attempt *models.LoginAttempt) {
	attempt.Success = false
	attempt.AttemptTime = time.Now()
	// Keep rows for twice the window so counting never races expiry
	attempt.ExpiresAt = attempt.AttemptTime.Add(l.config.Window * 2)

	if err := l.repo.RecordAttempt(ctx, attempt); err != nil {
		l.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}
