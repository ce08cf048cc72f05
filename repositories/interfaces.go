package repositories

import (
	"context"
	"errors"

	"github.com/memcrypt/console-gateway/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserFilter narrows a user listing. Zero values match everything.
type UserFilter struct {
	OrgID  string
	Status models.UserStatus
	Limit  int
	Offset int
}

// UserRepository handles user data operations
type UserRepository interface {
	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByIDForUpdate retrieves a user and locks its row until the
	// surrounding transaction ends
	GetByIDForUpdate(ctx context.Context, id string) (*models.User, error)

	// GetOrgID returns the organization a user belongs to, empty if none
	GetOrgID(ctx context.Context, id string) (string, error)

	// List retrieves users joined with their organization, newest first
	List(ctx context.Context, filter UserFilter) ([]*models.UserWithOrg, error)

	// Count returns how many users match filter, ignoring Limit and Offset
	Count(ctx context.Context, filter UserFilter) (int, error)

	// Update persists names, status and enabled flag
	Update(ctx context.Context, user *models.User) error
}

// OrganizationRepository handles organization data operations
type OrganizationRepository interface {
	// GetByID retrieves an organization by ID
	GetByID(ctx context.Context, id string) (*models.Organization, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByRequestID retrieves audit logs by request ID
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditLog, error)

	// GetBySubjectID retrieves audit logs for a subject with pagination
	GetBySubjectID(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Organizations OrganizationRepository
	Users         UserRepository
	AuditLogs     AuditRepository
}
