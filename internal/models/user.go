package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleOwner      UserRole = "OWNER"
	RoleManager    UserRole = "MANAGER"
	RoleStaff      UserRole = "STAFF"
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleStudent    UserRole = "STUDENT"
)

// UserStatus tracks the account lifecycle.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInvited   UserStatus = "INVITED"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// RoleList is a JSONB-backed set of roles.
type RoleList []UserRole

// Value implements driver.Valuer.
func (r RoleList) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal roles: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (r *RoleList) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// Has reports whether the list contains the role, case-insensitively.
func (r RoleList) Has(role UserRole) bool {
	for _, candidate := range r {
		if strings.EqualFold(string(candidate), string(role)) {
			return true
		}
	}
	return false
}

// User represents an application account stored in the users table.
// Username doubles as the login identity and, by convention, the email address.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Roles        RoleList   `db:"roles" json:"roles"`
	Status       UserStatus `db:"status" json:"status"`
	InstructorID *string    `db:"instructor_id" json:"instructor_id,omitempty"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Status    *UserStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
