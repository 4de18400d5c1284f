package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

type mockAuthRepo struct {
	users         map[string]models.User
	refreshTokens map[string]models.RefreshToken
	revokedAll    []string
	audits        []models.AuditLog
}

func (m *mockAuthRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, user := range m.users {
		if user.Username == username {
			copied := user
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copied := user
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := m.FindByUsername(ctx, username)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = make(map[string]models.User)
	}
	m.users[user.ID] = *user
	return nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	user := m.users[id]
	user.LastLogin = &ts
	m.users[id] = user
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	m.users[id] = user
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedAll = append(m.revokedAll, userID)
	for id, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
			m.refreshTokens[id] = token
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]models.RefreshToken)
	}
	m.refreshTokens[token.ID] = *token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	for _, stored := range m.refreshTokens {
		if stored.Token == token {
			copied := stored
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	token, ok := m.refreshTokens[id]
	if !ok {
		return sql.ErrNoRows
	}
	token.Revoked = true
	m.refreshTokens[id] = token
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func newAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "tutorstack-test",
	})
}

func seedUser(repo *mockAuthRepo, password string) models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := models.User{
		ID:           "user-1",
		Username:     "sam@example.com",
		PasswordHash: string(hash),
		FullName:     "Sam Rivera",
		Roles:        models.RoleList{models.RoleStudent},
		Status:       models.UserStatusActive,
	}
	if repo.users == nil {
		repo.users = make(map[string]models.User)
	}
	repo.users[user.ID] = user
	return user
}

func TestAuthServiceSignup(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newAuthService(repo)

	user, err := svc.Signup(context.Background(), models.SignupRequest{
		Username: "new@example.com",
		Password: "correct horse battery",
		FullName: "New User",
	})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, user.Status)
	assert.Equal(t, models.RoleList{models.RoleStudent}, user.Roles)
	assert.NotEqual(t, "correct horse battery", user.PasswordHash)

	_, err = svc.Signup(context.Background(), models.SignupRequest{
		Username: "new@example.com",
		Password: "correct horse battery",
		FullName: "Imposter",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogin(t *testing.T) {
	repo := &mockAuthRepo{}
	seedUser(repo, "correct horse battery")
	svc := newAuthService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "sam@example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "user-1", resp.User.ID)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionLogin, repo.audits[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	identity := claims.Identity()
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "sam@example.com", identity.Username)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := &mockAuthRepo{}
	seedUser(repo, "correct horse battery")
	svc := newAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "sam@example.com",
		Password: "wrong password",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	repo := &mockAuthRepo{}
	user := seedUser(repo, "correct horse battery")
	user.Status = models.UserStatusInvited
	repo.users[user.ID] = user
	svc := newAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "sam@example.com",
		Password: "correct horse battery",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := &mockAuthRepo{}
	seedUser(repo, "correct horse battery")
	svc := newAuthService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "sam@example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The used token is revoked and cannot be replayed.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	repo := &mockAuthRepo{}
	seedUser(repo, "correct horse battery")
	svc := newAuthService(repo)

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "correct horse battery",
		NewPassword: "even better secret",
	})
	require.NoError(t, err)
	assert.Contains(t, repo.revokedAll, "user-1")

	err = svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "correct horse battery",
		NewPassword: "whatever else here",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsForeignSignature(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{})

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{UserID: "user-1"})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestJWTClaimsIdentityShapes(t *testing.T) {
	t.Run("flat wins over nested", func(t *testing.T) {
		claims := models.JWTClaims{
			UserID:   "flat-id",
			Username: "flat@example.com",
			Roles:    models.RoleList{models.RoleAdmin},
			User:     &models.NestedSubject{ID: "nested-id", Username: "nested@example.com"},
		}
		identity := claims.Identity()
		assert.Equal(t, "flat-id", identity.UserID)
		assert.Equal(t, "flat@example.com", identity.Username)
	})

	t.Run("nested fills gaps", func(t *testing.T) {
		claims := models.JWTClaims{
			User: &models.NestedSubject{ID: "nested-id", Username: "nested@example.com", Roles: models.RoleList{models.RoleInstructor}},
		}
		identity := claims.Identity()
		assert.Equal(t, "nested-id", identity.UserID)
		assert.True(t, identity.Roles.Has(models.RoleInstructor))
	})
}
