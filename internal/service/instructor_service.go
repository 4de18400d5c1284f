package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutorstack/tutorstack-api/internal/access"
	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

type instructorRepository interface {
	FindByID(ctx context.Context, id string) (*models.Instructor, error)
	FindCandidates(ctx context.Context, userID, username string) ([]models.Instructor, error)
	ExistsByEmail(ctx context.Context, ownerID, email, excludeID string) (bool, error)
	List(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, int, error)
	Create(ctx context.Context, instructor *models.Instructor) error
	Update(ctx context.Context, instructor *models.Instructor) error
	LinkUser(ctx context.Context, instructorID, userID string) error
	Delete(ctx context.Context, id string) error
}

type instructorUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	LinkInstructor(ctx context.Context, userID, instructorID string) error
}

// InstructorService manages tenant-owned instructor profiles and the lazy
// linkage between profiles and self-service accounts.
type InstructorService struct {
	repo      instructorRepository
	users     instructorUserRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewInstructorService constructs an InstructorService instance.
func NewInstructorService(repo instructorRepository, users instructorUserRepository, validate *validator.Validate, logger *zap.Logger) *InstructorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &InstructorService{repo: repo, users: users, validator: validate, logger: logger}
}

// Resolve maps the caller to their instructor profile. When the match came
// through the email fallback the linkage is persisted so subsequent requests
// resolve directly. Persistence failures degrade to the unlinked resolution.
func (s *InstructorService) Resolve(ctx context.Context, identity models.Identity) (access.Resolution, error) {
	candidates, err := s.repo.FindCandidates(ctx, identity.UserID, identity.Username)
	if err != nil {
		return access.Resolution{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor candidates")
	}

	resolution, err := access.ResolveInstructor(identity, candidates)
	if err != nil {
		return access.Resolution{}, err
	}

	if resolution.Kind == access.ResolutionFallback && resolution.Instructor != nil {
		if err := s.repo.LinkUser(ctx, resolution.Instructor.ID, identity.UserID); err != nil {
			s.logger.Warn("failed to persist instructor linkage",
				zap.String("instructor_id", resolution.Instructor.ID), zap.Error(err))
		} else if err := s.users.LinkInstructor(ctx, identity.UserID, resolution.Instructor.ID); err != nil {
			s.logger.Warn("failed to persist user back-reference",
				zap.String("instructor_id", resolution.Instructor.ID), zap.Error(err))
		}
	}

	return resolution, nil
}

// List returns instructor profiles visible to the caller. Owners see their
// own tenant; elevated roles see everything.
func (s *InstructorService) List(ctx context.Context, identity models.Identity, filter models.InstructorFilter) ([]models.Instructor, *models.Pagination, error) {
	if !access.IsElevated(identity.Roles) {
		filter.OwnerID = identity.UserID
	}

	instructors, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructors")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return instructors, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one instructor profile after an access check. Missing records
// report not found before any permission verdict.
func (s *InstructorService) Get(ctx context.Context, identity models.Identity, id string) (*models.Instructor, error) {
	instructor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}

	if !access.CanReadInstructor(identity, instructor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this instructor")
	}

	return instructor, nil
}

// Create adds an instructor profile under the caller's tenant. Email is
// unique per owner.
func (s *InstructorService) Create(ctx context.Context, identity models.Identity, req models.CreateInstructorRequest) (*models.Instructor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instructor payload")
	}

	taken, err := s.repo.ExistsByEmail(ctx, identity.UserID, req.Email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check instructor email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an instructor with this email already exists")
	}

	instructor := &models.Instructor{
		OwnerID:  identity.UserID,
		Email:    req.Email,
		FullName: req.FullName,
		Bio:      req.Bio,
		Phone:    req.Phone,
		PhotoURL: req.PhotoURL,
		Skills:   models.StringList(req.Skills),
	}

	if err := s.repo.Create(ctx, instructor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create instructor")
	}

	return instructor, nil
}

// Update applies a partial update. The owner may change every field; a
// linked instructor editing their own profile is limited to the self-service
// subset and any out-of-scope field in the payload is rejected.
func (s *InstructorService) Update(ctx context.Context, identity models.Identity, id string, req models.UpdateInstructorRequest) (*models.Instructor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instructor payload")
	}

	instructor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}

	isOwner := access.CanWriteInstructor(identity, instructor)
	isSelf := instructor.UserID != nil && *instructor.UserID == identity.UserID
	if !isOwner && !isSelf {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this instructor")
	}

	if !isOwner {
		for _, field := range submittedInstructorFields(req) {
			if !access.AllowedSelfUpdateField(field) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "field "+field+" is not self-editable")
			}
		}
	}

	if req.Email != nil && *req.Email != instructor.Email {
		taken, err := s.repo.ExistsByEmail(ctx, instructor.OwnerID, *req.Email, instructor.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check instructor email")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an instructor with this email already exists")
		}
		instructor.Email = *req.Email
	}
	if req.FullName != nil {
		instructor.FullName = *req.FullName
	}
	if req.Bio != nil {
		instructor.Bio = *req.Bio
	}
	if req.Phone != nil {
		instructor.Phone = *req.Phone
	}
	if req.PhotoURL != nil {
		instructor.PhotoURL = *req.PhotoURL
	}
	if req.Skills != nil {
		instructor.Skills = models.StringList(*req.Skills)
	}

	if err := s.repo.Update(ctx, instructor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update instructor")
	}

	return instructor, nil
}

// Link attaches a user account to an instructor profile explicitly. Owner
// only. An instructor already linked to a different account, or an account
// already linked to a different instructor, is a conflict.
func (s *InstructorService) Link(ctx context.Context, identity models.Identity, id string, req models.LinkInstructorRequest) (*models.Instructor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link payload")
	}

	instructor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}

	if !access.CanWriteInstructor(identity, instructor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner may link this instructor")
	}

	if instructor.UserID != nil && *instructor.UserID != req.UserID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "instructor is already linked to another account")
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.InstructorID != nil && *user.InstructorID != instructor.ID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "account is already linked to another instructor")
	}

	instructor.UserID = &user.ID
	if err := s.repo.Update(ctx, instructor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link instructor")
	}
	if err := s.users.LinkInstructor(ctx, user.ID, instructor.ID); err != nil {
		s.logger.Warn("failed to persist user back-reference",
			zap.String("instructor_id", instructor.ID), zap.Error(err))
	}

	return instructor, nil
}

// Delete removes an instructor profile. Owner only.
func (s *InstructorService) Delete(ctx context.Context, identity models.Identity, id string) error {
	instructor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}

	if !access.CanWriteInstructor(identity, instructor) {
		return appErrors.Clone(appErrors.ErrForbidden, "no access to this instructor")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete instructor")
	}

	return nil
}

// submittedInstructorFields lists the json field names present in a partial
// update payload.
func submittedInstructorFields(req models.UpdateInstructorRequest) []string {
	var fields []string
	if req.Email != nil {
		fields = append(fields, "email")
	}
	if req.FullName != nil {
		fields = append(fields, "full_name")
	}
	if req.Bio != nil {
		fields = append(fields, "bio")
	}
	if req.Phone != nil {
		fields = append(fields, "phone")
	}
	if req.PhotoURL != nil {
		fields = append(fields, "photo_url")
	}
	if req.Skills != nil {
		fields = append(fields, "skills")
	}
	return fields
}
