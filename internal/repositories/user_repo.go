package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/posternhq/postern/internal/database"
	"github.com/posternhq/postern/internal/models"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows (single row or result set)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles the nullable password hash and populates a User model
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash,
		&user.Localpart, &user.DomainName,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}

	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, localpart, domain_name, created_at, updated_at
		FROM users WHERE email = $1
	`

	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, password_hash, localpart, domain_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, email, password_hash, localpart, domain_name, created_at, updated_at
	`

	// NULL hash = no usable local password (federated / proxy-provisioned account)
	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, passwordHash,
		user.Localpart, user.DomainName,
		user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *UserRepository) CountByDomain(ctx context.Context, domainName string) (int, error) {
	query := `SELECT COUNT(*) FROM users WHERE domain_name = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, domainName).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count domain users: %w", err)
	}
	return count, nil
}
