package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tutorstack/tutorstack-api/internal/access"
	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

type inviteRepository interface {
	Create(ctx context.Context, token *models.InviteToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.InviteToken, error)
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error
	PurgeForInstructor(ctx context.Context, instructorID, keepID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type inviteUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	LinkInstructor(ctx context.Context, userID, instructorID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type inviteInstructorRepository interface {
	FindByID(ctx context.Context, id string) (*models.Instructor, error)
	LinkUser(ctx context.Context, instructorID, userID string) error
}

// InviteConfig governs invite link construction and lifetime.
type InviteConfig struct {
	TTL     time.Duration
	BaseURL string
}

// InviteService onboards instructors through single-use invite links. Only
// the SHA-256 hash of an invite secret is stored; the raw secret exists only
// in the returned URL.
type InviteService struct {
	invites     inviteRepository
	users       inviteUserRepository
	instructors inviteInstructorRepository
	validator   *validator.Validate
	logger      *zap.Logger
	config      InviteConfig
}

// NewInviteService constructs an InviteService instance.
func NewInviteService(invites inviteRepository, users inviteUserRepository, instructors inviteInstructorRepository, validate *validator.Validate, logger *zap.Logger, config InviteConfig) *InviteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &InviteService{
		invites:     invites,
		users:       users,
		instructors: instructors,
		validator:   validate,
		logger:      logger,
		config:      config,
	}
}

// Create issues an invite link for an instructor profile. The owning tenant
// only. A placeholder account in the INVITED state is created under the
// instructor's email when none exists yet; an already active account means
// the instructor can simply log in and is a conflict here.
func (s *InviteService) Create(ctx context.Context, identity models.Identity, req models.CreateInviteRequest) (*models.CreateInviteResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invite payload")
	}

	instructor, err := s.instructors.FindByID(ctx, req.InstructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}

	if !access.CanWriteInstructor(identity, instructor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner may invite this instructor")
	}

	user, err := s.users.FindByUsername(ctx, instructor.Email)
	switch {
	case err == nil:
		if user.Status != models.UserStatusInvited {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an account for this email already exists")
		}
	case errors.Is(err, sql.ErrNoRows):
		user = &models.User{
			Username: instructor.Email,
			FullName: instructor.FullName,
			Roles:    models.RoleList{models.RoleInstructor},
			Status:   models.UserStatusInvited,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invited account")
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up account")
	}

	secret, err := generateInviteSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate invite secret")
	}

	token := &models.InviteToken{
		TokenHash:    hashInviteSecret(secret),
		UserID:       user.ID,
		InstructorID: instructor.ID,
		OwnerID:      instructor.OwnerID,
		ExpiresAt:    time.Now().UTC().Add(s.config.TTL),
	}
	if err := s.invites.Create(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist invite token")
	}

	return &models.CreateInviteResponse{
		InviteURL: fmt.Sprintf("%s?token=%s", s.config.BaseURL, secret),
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Accept consumes an invite link: the account gets its password, becomes
// active, and is linked to the instructor profile. Consumed, expired and
// unknown tokens are indistinguishable to the caller.
func (s *InviteService) Accept(ctx context.Context, req models.AcceptInviteRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invite payload")
	}

	token, err := s.invites.FindByHash(ctx, hashInviteSecret(req.Token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInviteInvalid, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invite token")
	}

	now := time.Now().UTC()
	if token.Consumed() || token.Expired(now) {
		return nil, appErrors.Clone(appErrors.ErrInviteInvalid, "")
	}

	// Single-use gate: the first accept wins, concurrent accepts see a
	// consumed token.
	if err := s.invites.MarkUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInviteInvalid, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume invite token")
	}

	user, err := s.users.FindByID(ctx, token.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invited account")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set password")
	}

	user.PasswordHash = string(hash)
	user.Status = models.UserStatusActive
	if req.FullName != "" {
		user.FullName = req.FullName
	}
	if !user.Roles.Has(models.RoleInstructor) {
		user.Roles = append(user.Roles, models.RoleInstructor)
	}
	user.InstructorID = &token.InstructorID
	if err := s.users.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate account")
	}

	if err := s.instructors.LinkUser(ctx, token.InstructorID, user.ID); err != nil {
		s.logger.Warn("failed to link instructor profile",
			zap.String("instructor_id", token.InstructorID), zap.Error(err))
	}

	if err := s.invites.PurgeForInstructor(ctx, token.InstructorID, token.ID); err != nil {
		s.logger.Warn("failed to purge sibling invites",
			zap.String("instructor_id", token.InstructorID), zap.Error(err))
	}

	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionInviteAccept,
		Resource:   "invite",
		ResourceID: &token.ID,
		NewValues:  []byte(`{"status":"accepted"}`),
	}); err != nil {
		s.logger.Warn("failed to record invite audit log", zap.Error(err))
	}

	return user, nil
}

// SweepExpired removes invite tokens past their expiry. Run periodically by
// the background job queue.
func (s *InviteService) SweepExpired(ctx context.Context) error {
	swept, err := s.invites.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if swept > 0 {
		s.logger.Info("swept expired invite tokens", zap.Int64("count", swept))
	}
	return nil
}

func generateInviteSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashInviteSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
