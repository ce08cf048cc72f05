package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/memcrypt/console-gateway/models"
	"github.com/memcrypt/console-gateway/repositories"
	"go.uber.org/zap"
)

// OrganizationRepository implements the repositories.OrganizationRepository interface
type OrganizationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB, logger *zap.Logger) repositories.OrganizationRepository {
	return &OrganizationRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `
		SELECT id, name, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	org := &models.Organization{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return org, nil
}
