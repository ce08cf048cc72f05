package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditOutcome is the result recorded for an audited request
type AuditOutcome string

const (
	AuditOutcomeDenied AuditOutcome = "denied"
)

// AuditLog is one access-control decision written to the audit trail
type AuditLog struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	SubjectID  *string      `json:"subjectId,omitempty" db:"subject_id"`
	OrgID      *string      `json:"orgId,omitempty" db:"org_id"`
	Method     string       `json:"method" db:"method"`
	Path       string       `json:"path" db:"path"`
	Outcome    AuditOutcome `json:"outcome" db:"outcome"`
	Reason     string       `json:"reason" db:"reason"`
	StatusCode int          `json:"statusCode" db:"status_code"`
	RequestID  string       `json:"requestId" db:"request_id"`
	IPAddress  string       `json:"ipAddress" db:"ip_address"`
	Timestamp  time.Time    `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewDenialAuditLog creates an audit entry for a rejected request
func NewDenialAuditLog(method, path, reason string, statusCode int) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		Method:     method,
		Path:       path,
		Outcome:    AuditOutcomeDenied,
		Reason:     reason,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}

// WithPrincipal sets the subject and organization, skipping empty values
func (a *AuditLog) WithPrincipal(subjectID, orgID string) *AuditLog {
	if subjectID != "" {
		a.SubjectID = &subjectID
	}
	if orgID != "" {
		a.OrgID = &orgID
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	return a
}
