package postgres

import (
	"context"
	"fmt"

	"github.com/memcrypt/console-gateway/models"
	"github.com/memcrypt/console-gateway/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, subject_id, org_id, method, path, outcome, reason, status_code, request_id, ip_address, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.SubjectID,
		log.OrgID,
		log.Method,
		log.Path,
		log.Outcome,
		log.Reason,
		log.StatusCode,
		log.RequestID,
		log.IPAddress,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("reason", log.Reason))
	return nil
}

// GetByRequestID retrieves audit logs by request ID
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE request_id = $1 ORDER BY timestamp ASC`
	return r.query(ctx, query, requestID)
}

// GetBySubjectID retrieves audit logs for a subject, newest first
func (r *AuditRepository) GetBySubjectID(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE subject_id = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`
	return r.query(ctx, query, subjectID, limit, offset)
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		err := rows.Scan(
			&log.ID,
			&log.SubjectID,
			&log.OrgID,
			&log.Method,
			&log.Path,
			&log.Outcome,
			&log.Reason,
			&log.StatusCode,
			&log.RequestID,
			&log.IPAddress,
			&log.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
