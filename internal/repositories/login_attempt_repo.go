package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/posternhq/postern/internal/database"
	"github.com/posternhq/postern/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: db.Pool}
}

// RecordAttempt records a login attempt. Each attempt is an independent
// insert, so two concurrent failures for the same bucket are both counted.
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.AttemptTime.IsZero() {
		attempt.AttemptTime = time.Now()
	}

	query := `
		INSERT INTO login_attempts (id, username, ip_address, device_id, success, attempt_time, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.Username,
		attempt.IPAddress,
		attempt.DeviceID,
		attempt.Success,
		attempt.AttemptTime,
		attempt.ExpiresAt,
	)

	return err
}

// CountFailedByUsername returns the number of failed attempts for a username within a time window
func (r *LoginAttemptRepository) CountFailedByUsername(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE username = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.pool.QueryRow(ctx, query, username, since).Scan(&count)
	return count, err
}

// CountFailedByIP returns the number of failed attempts from an IP within a time window
func (r *LoginAttemptRepository) CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, err
}

// DeleteExpiredAttempts removes login attempts past their retention time
func (r *LoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
