package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutorstack/tutorstack-api/internal/access"
	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

type mockInstructorRepo struct {
	instructors map[string]models.Instructor
	linked      map[string]string
	linkErr     error
	updated     *models.Instructor
	deleted     []string
}

func (m *mockInstructorRepo) FindByID(ctx context.Context, id string) (*models.Instructor, error) {
	if inst, ok := m.instructors[id]; ok {
		copied := inst
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInstructorRepo) FindCandidates(ctx context.Context, userID, username string) ([]models.Instructor, error) {
	var out []models.Instructor
	for _, inst := range m.instructors {
		if inst.UserID != nil && *inst.UserID == userID {
			out = append(out, inst)
			continue
		}
		if inst.Email == username {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *mockInstructorRepo) ExistsByEmail(ctx context.Context, ownerID, email, excludeID string) (bool, error) {
	for _, inst := range m.instructors {
		if inst.OwnerID == ownerID && inst.Email == email && inst.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockInstructorRepo) List(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, int, error) {
	var out []models.Instructor
	for _, inst := range m.instructors {
		if filter.OwnerID != "" && inst.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, inst)
	}
	return out, len(out), nil
}

func (m *mockInstructorRepo) Create(ctx context.Context, instructor *models.Instructor) error {
	if m.instructors == nil {
		m.instructors = make(map[string]models.Instructor)
	}
	if instructor.ID == "" {
		instructor.ID = "new-instructor"
	}
	m.instructors[instructor.ID] = *instructor
	return nil
}

func (m *mockInstructorRepo) Update(ctx context.Context, instructor *models.Instructor) error {
	m.instructors[instructor.ID] = *instructor
	m.updated = instructor
	return nil
}

func (m *mockInstructorRepo) LinkUser(ctx context.Context, instructorID, userID string) error {
	if m.linkErr != nil {
		return m.linkErr
	}
	if m.linked == nil {
		m.linked = make(map[string]string)
	}
	m.linked[instructorID] = userID
	inst := m.instructors[instructorID]
	inst.UserID = &userID
	m.instructors[instructorID] = inst
	return nil
}

func (m *mockInstructorRepo) Delete(ctx context.Context, id string) error {
	delete(m.instructors, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockLinkUserRepo struct {
	users    map[string]models.User
	backrefs map[string]string
}

func (m *mockLinkUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copied := user
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLinkUserRepo) LinkInstructor(ctx context.Context, userID, instructorID string) error {
	if m.backrefs == nil {
		m.backrefs = make(map[string]string)
	}
	m.backrefs[userID] = instructorID
	return nil
}

func strPtr(s string) *string { return &s }

func newInstructorService(repo *mockInstructorRepo) (*InstructorService, *mockLinkUserRepo) {
	users := &mockLinkUserRepo{}
	return NewInstructorService(repo, users, validator.New(), zap.NewNop()), users
}

func TestInstructorServiceResolveDirectLinkWins(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", UserID: strPtr("user-1"), Email: "other@example.com"},
		"inst-2": {ID: "inst-2", OwnerID: "owner-1", Email: "sam@example.com"},
	}}
	svc, _ := newInstructorService(repo)

	resolution, err := svc.Resolve(context.Background(), models.Identity{UserID: "user-1", Username: "sam@example.com"})
	require.NoError(t, err)
	assert.Equal(t, access.ResolutionLinked, resolution.Kind)
	assert.Equal(t, "inst-1", resolution.Instructor.ID)
	assert.Empty(t, repo.linked)
}

func TestInstructorServiceResolveFallbackPersistsLink(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", Email: "sam@example.com"},
	}}
	svc, users := newInstructorService(repo)

	resolution, err := svc.Resolve(context.Background(), models.Identity{UserID: "user-1", Username: "sam@example.com"})
	require.NoError(t, err)
	assert.Equal(t, access.ResolutionFallback, resolution.Kind)
	assert.Equal(t, "user-1", repo.linked["inst-1"])
	assert.Equal(t, "inst-1", users.backrefs["user-1"])
}

func TestInstructorServiceResolveLinkFailureDegrades(t *testing.T) {
	repo := &mockInstructorRepo{
		instructors: map[string]models.Instructor{
			"inst-1": {ID: "inst-1", OwnerID: "owner-1", Email: "sam@example.com"},
		},
		linkErr: errors.New("db down"),
	}
	svc, _ := newInstructorService(repo)

	resolution, err := svc.Resolve(context.Background(), models.Identity{UserID: "user-1", Username: "sam@example.com"})
	require.NoError(t, err)
	assert.Equal(t, access.ResolutionFallback, resolution.Kind)
	assert.Equal(t, "inst-1", resolution.Instructor.ID)
}

func TestInstructorServiceResolveAmbiguous(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", Email: "sam@example.com"},
		"inst-2": {ID: "inst-2", OwnerID: "owner-2", Email: "sam@example.com"},
	}}
	svc, _ := newInstructorService(repo)

	_, err := svc.Resolve(context.Background(), models.Identity{UserID: "user-1", Username: "sam@example.com"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAmbiguousInstructor.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.linked)
}

func TestInstructorServiceResolveNone(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{}}
	svc, _ := newInstructorService(repo)

	resolution, err := svc.Resolve(context.Background(), models.Identity{UserID: "user-1", Username: "sam@example.com"})
	require.NoError(t, err)
	assert.Equal(t, access.ResolutionNone, resolution.Kind)
	assert.Nil(t, resolution.Instructor)
}

func TestInstructorServiceGetNotFoundBeforeForbidden(t *testing.T) {
	svc, _ := newInstructorService(&mockInstructorRepo{instructors: map[string]models.Instructor{}})

	_, err := svc.Get(context.Background(), models.Identity{UserID: "stranger"}, "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestInstructorServiceGetForbiddenForStranger(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", Email: "sam@example.com"},
	}}
	svc, _ := newInstructorService(repo)

	_, err := svc.Get(context.Background(), models.Identity{UserID: "stranger", Username: "other@example.com"}, "inst-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestInstructorServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", Email: "sam@example.com"},
	}}
	svc, _ := newInstructorService(repo)

	_, err := svc.Create(context.Background(), models.Identity{UserID: "owner-1"}, models.CreateInstructorRequest{
		Email:    "sam@example.com",
		FullName: "Sam Rivera",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	// Same email under another tenant is fine.
	inst, err := svc.Create(context.Background(), models.Identity{UserID: "owner-2"}, models.CreateInstructorRequest{
		Email:    "sam@example.com",
		FullName: "Sam Rivera",
	})
	require.NoError(t, err)
	assert.Equal(t, "owner-2", inst.OwnerID)
}

func TestInstructorServiceUpdateSelfServiceSubset(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", UserID: strPtr("user-1"), Email: "sam@example.com"},
	}}
	svc, _ := newInstructorService(repo)
	self := models.Identity{UserID: "user-1", Roles: models.RoleList{models.RoleInstructor}}

	t.Run("allowed fields pass", func(t *testing.T) {
		inst, err := svc.Update(context.Background(), self, "inst-1", models.UpdateInstructorRequest{
			Bio:   strPtr("Throws pots since 2010."),
			Phone: strPtr("+31 6 1234 5678"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Throws pots since 2010.", inst.Bio)
	})

	t.Run("email change rejected", func(t *testing.T) {
		_, err := svc.Update(context.Background(), self, "inst-1", models.UpdateInstructorRequest{
			Email: strPtr("new@example.com"),
		})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	})

	t.Run("owner changes everything", func(t *testing.T) {
		inst, err := svc.Update(context.Background(), models.Identity{UserID: "owner-1"}, "inst-1", models.UpdateInstructorRequest{
			Email: strPtr("new@example.com"),
		})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", inst.Email)
	})
}

func TestInstructorServiceLink(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", Email: "sam@example.com"},
		"inst-2": {ID: "inst-2", OwnerID: "owner-1", Email: "kim@example.com"},
	}}
	svc, users := newInstructorService(repo)
	users.users = map[string]models.User{
		"user-1": {ID: "user-1", Username: "sam@example.com"},
	}

	t.Run("owner links account", func(t *testing.T) {
		inst, err := svc.Link(context.Background(), models.Identity{UserID: "owner-1"}, "inst-1", models.LinkInstructorRequest{UserID: "user-1"})
		require.NoError(t, err)
		require.NotNil(t, inst.UserID)
		assert.Equal(t, "user-1", *inst.UserID)
		assert.Equal(t, "inst-1", users.backrefs["user-1"])
	})

	t.Run("non-owner forbidden", func(t *testing.T) {
		_, err := svc.Link(context.Background(), models.Identity{UserID: "owner-2"}, "inst-1", models.LinkInstructorRequest{UserID: "user-1"})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	})

	t.Run("already linked elsewhere conflicts", func(t *testing.T) {
		users.users["user-2"] = models.User{ID: "user-2", InstructorID: strPtr("inst-other")}
		_, err := svc.Link(context.Background(), models.Identity{UserID: "owner-1"}, "inst-2", models.LinkInstructorRequest{UserID: "user-2"})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	})

	t.Run("unknown user not found", func(t *testing.T) {
		_, err := svc.Link(context.Background(), models.Identity{UserID: "owner-1"}, "inst-2", models.LinkInstructorRequest{UserID: "ghost"})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	})
}

func TestInstructorServiceDeleteOwnerOnly(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", UserID: strPtr("user-1"), Email: "sam@example.com"},
	}}
	svc, _ := newInstructorService(repo)

	err := svc.Delete(context.Background(), models.Identity{UserID: "user-1"}, "inst-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Delete(context.Background(), models.Identity{UserID: "owner-1"}, "inst-1"))
	assert.Contains(t, repo.deleted, "inst-1")
}

func TestInstructorServiceListScoping(t *testing.T) {
	repo := &mockInstructorRepo{instructors: map[string]models.Instructor{
		"inst-1": {ID: "inst-1", OwnerID: "owner-1", Email: "a@example.com"},
		"inst-2": {ID: "inst-2", OwnerID: "owner-2", Email: "b@example.com"},
	}}
	svc, _ := newInstructorService(repo)

	own, _, err := svc.List(context.Background(), models.Identity{UserID: "owner-1"}, models.InstructorFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "inst-1", own[0].ID)

	all, _, err := svc.List(context.Background(), models.Identity{UserID: "admin-1", Roles: models.RoleList{models.RoleAdmin}}, models.InstructorFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
