package models

import "time"

// InviteToken is a hashed single-use secret bound to (user, instructor, owner).
// Only the SHA-256 hash of the secret is ever stored; expired rows are swept
// by a background job and sibling tokens are purged when one is consumed.
type InviteToken struct {
	ID           string     `db:"id" json:"id"`
	TokenHash    string     `db:"token_hash" json:"-"`
	UserID       string     `db:"user_id" json:"user_id"`
	InstructorID string     `db:"instructor_id" json:"instructor_id"`
	OwnerID      string     `db:"owner_id" json:"owner_id"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt       *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Consumed reports whether the token has already been used.
func (t *InviteToken) Consumed() bool {
	return t.UsedAt != nil
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *InviteToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// CreateInviteRequest asks for an invite link for one instructor profile.
type CreateInviteRequest struct {
	InstructorID string `json:"instructor_id" validate:"required"`
}

// CreateInviteResponse returns the one-time invite link. The raw secret
// appears here and nowhere else.
type CreateInviteResponse struct {
	InviteURL string    `json:"invite_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcceptInviteRequest consumes an invite link and activates the account.
type AcceptInviteRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name"`
}
