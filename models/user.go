package models

import (
	"strings"
	"time"
)

// UserStatus tracks where a user is in the onboarding approval flow
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusApproved UserStatus = "approved"
	UserStatusRejected UserStatus = "rejected"
)

// Valid reports whether s is a known status
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusPending, UserStatusApproved, UserStatusRejected:
		return true
	}
	return false
}

// User is an identity-provider account mirrored into the console directory.
// ID is the identity provider subject, so it matches the token's sub claim.
type User struct {
	ID        string     `json:"id" db:"id"`
	Username  string     `json:"username" db:"username"`
	Email     string     `json:"email" db:"email"`
	FirstName string     `json:"firstName" db:"first_name"`
	LastName  string     `json:"lastName" db:"last_name"`
	OrgID     string     `json:"orgId,omitempty" db:"org_id"`
	Status    UserStatus `json:"status" db:"status"`
	Enabled   bool       `json:"enabled" db:"enabled"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// UserWithOrg is a user joined with its organization, as returned by listings
type UserWithOrg struct {
	User
	Organization *Organization `json:"organization"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a pending, disabled user awaiting approval
func NewUser(id, username, email, orgID string) *User {
	now := time.Now()
	return &User{
		ID:        id,
		Username:  username,
		Email:     email,
		OrgID:     orgID,
		Status:    UserStatusPending,
		Enabled:   false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPending returns true if the user still awaits an approval decision
func (u *User) IsPending() bool {
	return u.Status == UserStatusPending
}

// BelongsTo reports whether the user is a member of orgID.
// A user without an organization belongs to none.
func (u *User) BelongsTo(orgID string) bool {
	return u.OrgID != "" && strings.EqualFold(u.OrgID, orgID)
}

// Approve marks the user approved and enables the account
func (u *User) Approve() {
	u.Status = UserStatusApproved
	u.Enabled = true
	u.UpdatedAt = time.Now()
}

// Reject marks the user rejected and disables the account
func (u *User) Reject() {
	u.Status = UserStatusRejected
	u.Enabled = false
	u.UpdatedAt = time.Now()
}

// Touch records a modification
func (u *User) Touch() {
	u.UpdatedAt = time.Now()
}
