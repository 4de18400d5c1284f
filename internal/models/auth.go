package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username  string `json:"username" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// SignupRequest registers a new account. New accounts default to the STUDENT role.
type SignupRequest struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"required"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	FullName string   `json:"full_name"`
	Roles    RoleList `json:"roles"`
}

// NestedSubject is the historical nested payload shape carried by tokens
// issued before the claims flattening.
type NestedSubject struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Roles    RoleList `json:"roles"`
}

// JWTClaims represents the access token payload. Two historical shapes are
// supported: the current flat fields (user_id, username, roles) and the legacy
// nested user object. Identity() is the single place both are reconciled.
type JWTClaims struct {
	UserID   string         `json:"user_id,omitempty"`
	Username string         `json:"username,omitempty"`
	Roles    RoleList       `json:"roles,omitempty"`
	User     *NestedSubject `json:"user,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the canonical caller identity attached to request contexts.
type Identity struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    RoleList `json:"roles"`
}

// Identity normalises either payload shape into the canonical structure.
// The flat shape wins when both are present.
func (c *JWTClaims) Identity() Identity {
	id := Identity{
		UserID:   c.UserID,
		Username: c.Username,
		Roles:    c.Roles,
	}
	if c.User != nil {
		if id.UserID == "" {
			id.UserID = c.User.ID
		}
		if id.Username == "" {
			id.Username = c.User.Username
		}
		if len(id.Roles) == 0 {
			id.Roles = c.User.Roles
		}
	}
	return id
}
