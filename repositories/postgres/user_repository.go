package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/memcrypt/console-gateway/models"
	"github.com/memcrypt/console-gateway/repositories"
	"go.uber.org/zap"
)

const userColumns = `u.id, u.username, u.email, u.first_name, u.last_name, u.org_id, u.status, u.enabled, u.created_at, u.updated_at`

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner, extra ...interface{}) (*models.User, error) {
	user := &models.User{}
	var orgID sql.NullString
	dest := append([]interface{}{
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&orgID,
		&user.Status,
		&user.Enabled,
		&user.CreatedAt,
		&user.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	user.OrgID = orgID.String
	return user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate retrieves a user by ID and locks the row. Only
// meaningful inside TransactionManager.InTransaction.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) getOne(ctx context.Context, query, id string) (*models.User, error) {
	executor := GetExecutor(ctx, r.db)
	user, err := scanUser(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetOrgID returns the organization id of a user
func (r *UserRepository) GetOrgID(ctx context.Context, id string) (string, error) {
	query := `SELECT org_id FROM users WHERE id = $1`

	var orgID sql.NullString
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, id).Scan(&orgID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get user organization: %w", err)
	}
	return orgID.String, nil
}

// whereClause renders the filter conditions and their arguments
func whereClause(filter repositories.UserFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.OrgID != "" {
		args = append(args, filter.OrgID)
		conds = append(conds, fmt.Sprintf("u.org_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("u.status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List retrieves users joined with their organization
func (r *UserRepository) List(ctx context.Context, filter repositories.UserFilter) ([]*models.UserWithOrg, error) {
	where, args := whereClause(filter)
	query := `SELECT ` + userColumns + `, o.id, o.name, o.created_at, o.updated_at
		FROM users u
		LEFT JOIN organizations o ON o.id = u.org_id` + where + `
		ORDER BY u.created_at DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []*models.UserWithOrg{}
	for rows.Next() {
		var (
			orgID, orgName         sql.NullString
			orgCreated, orgUpdated sql.NullTime
		)
		user, err := scanUser(rows, &orgID, &orgName, &orgCreated, &orgUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		entry := &models.UserWithOrg{User: *user}
		if orgID.Valid {
			entry.Organization = &models.Organization{
				ID:        orgID.String,
				Name:      orgName.String,
				CreatedAt: orgCreated.Time,
				UpdatedAt: orgUpdated.Time,
			}
		}
		users = append(users, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

// Count returns the number of users matching filter
func (r *UserRepository) Count(ctx context.Context, filter repositories.UserFilter) (int, error) {
	where, args := whereClause(filter)
	query := `SELECT COUNT(*) FROM users u` + where

	var total int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, nil
}

// Update persists the mutable user fields
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET first_name = $2,
		    last_name = $3,
		    status = $4,
		    enabled = $5,
		    updated_at = $6
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Status,
		user.Enabled,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user %s: %w", user.ID, repositories.ErrNotFound)
	}

	r.logger.Debug("user updated", zap.String("id", user.ID), zap.String("status", string(user.Status)))
	return nil
}
