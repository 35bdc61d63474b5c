package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/posternhq/postern/internal/database"
	"github.com/posternhq/postern/internal/models"
)

type DomainRepository struct {
	pool *pgxpool.Pool
}

func NewDomainRepository(db *database.DB) *DomainRepository {
	return &DomainRepository{pool: db.Pool}
}

func (r *DomainRepository) GetByName(ctx context.Context, name string) (*models.Domain, error) {
	query := `SELECT name, max_users, created_at FROM domains WHERE name = $1`

	var domain models.Domain
	err := r.pool.QueryRow(ctx, query, name).Scan(&domain.Name, &domain.MaxUsers, &domain.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &domain, nil
}

func (r *DomainRepository) Create(ctx context.Context, domain *models.Domain) (*models.Domain, error) {
	domain.CreatedAt = time.Now()

	query := `
		INSERT INTO domains (name, max_users, created_at)
		VALUES ($1, $2, $3)
		RETURNING name, max_users, created_at
	`

	var created models.Domain
	err := r.pool.QueryRow(ctx, query, domain.Name, domain.MaxUsers, domain.CreatedAt).
		Scan(&created.Name, &created.MaxUsers, &created.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &created, nil
}
