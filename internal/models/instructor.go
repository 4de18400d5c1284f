package models

import "time"

// Instructor is a tenant-owned instructor profile. Email is unique per owner.
// UserID links the profile to at most one account for self-service access.
type Instructor struct {
	ID        string     `db:"id" json:"id"`
	OwnerID   string     `db:"owner_id" json:"owner_id"`
	UserID    *string    `db:"user_id" json:"user_id,omitempty"`
	Email     string     `db:"email" json:"email"`
	FullName  string     `db:"full_name" json:"full_name"`
	Bio       string     `db:"bio" json:"bio"`
	Phone     string     `db:"phone" json:"phone"`
	PhotoURL  string     `db:"photo_url" json:"photo_url"`
	Skills    StringList `db:"skills" json:"skills"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// InstructorFilter captures listing criteria.
type InstructorFilter struct {
	OwnerID  string
	Search   string
	Page     int
	PageSize int
}

// CreateInstructorRequest is the owner-facing creation payload.
type CreateInstructorRequest struct {
	Email    string   `json:"email" validate:"required,email"`
	FullName string   `json:"full_name" validate:"required"`
	Bio      string   `json:"bio"`
	Phone    string   `json:"phone"`
	PhotoURL string   `json:"photo_url" validate:"omitempty,url"`
	Skills   []string `json:"skills"`
}

// LinkInstructorRequest attaches a user account to an instructor profile.
type LinkInstructorRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// UpdateInstructorRequest carries partial updates. Nil fields are untouched.
// Owners may set every field; a linked instructor editing their own profile
// is restricted to the self-service subset.
type UpdateInstructorRequest struct {
	Email    *string   `json:"email" validate:"omitempty,email"`
	FullName *string   `json:"full_name"`
	Bio      *string   `json:"bio"`
	Phone    *string   `json:"phone"`
	PhotoURL *string   `json:"photo_url" validate:"omitempty,url"`
	Skills   *[]string `json:"skills"`
}
