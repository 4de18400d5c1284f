package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutorstack/tutorstack-api/internal/access"
	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

type mockCourseRepo struct {
	courses         map[string]models.Course
	updated         *models.Course
	attendanceSaved models.AttendanceMap
	conflictOnce    bool
	deleted         []string
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range m.courses {
		if filter.OwnerID != "" && c.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *mockCourseRepo) ListByInstructor(ctx context.Context, instructorID string) ([]models.Course, error) {
	var out []models.Course
	for _, c := range m.courses {
		if c.InstructorIDs.Contains(instructorID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCourseRepo) ListByEnrolledUser(ctx context.Context, userID string) ([]models.Course, error) {
	var out []models.Course
	for _, c := range m.courses {
		if c.EnrolledUserIDs.Contains(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]models.Course)
	}
	if course.ID == "" {
		course.ID = "new-course"
	}
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	m.courses[course.ID] = *course
	m.updated = course
	return nil
}

func (m *mockCourseRepo) UpdateAttendance(ctx context.Context, id string, attendance models.AttendanceMap, expectedUpdatedAt time.Time) error {
	if m.conflictOnce {
		m.conflictOnce = false
		return sql.ErrNoRows
	}
	c := m.courses[id]
	c.Attendance = attendance
	m.courses[id] = c
	m.attendanceSaved = attendance
	return nil
}

func (m *mockCourseRepo) Delete(ctx context.Context, id string) error {
	delete(m.courses, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockResolver struct {
	resolution access.Resolution
	err        error
}

func (m *mockResolver) Resolve(ctx context.Context, identity models.Identity) (access.Resolution, error) {
	return m.resolution, m.err
}

func newCourseService(repo *mockCourseRepo, resolver instructorResolver) *CourseService {
	if resolver == nil {
		resolver = &mockResolver{}
	}
	return NewCourseService(repo, resolver, nil, CourseCacheConfig{}, validator.New(), zap.NewNop())
}

func fixtureCourse() models.Course {
	return models.Course{
		ID:             "course-1",
		OwnerID:        "owner-1",
		Title:          "Wheel Throwing",
		Location:       models.LocationStudio,
		StartDate:      "2025-03-03",
		EndDate:        "2025-03-14",
		RangeStartTime: "10:00",
		RangeEndTime:   "12:30",
		Weekdays:       models.IntList{1},
		Sessions: models.SessionList{
			{Date: "2025-03-03", StartTime: "10:00", EndTime: "12:30"},
			{Date: "2025-03-10", StartTime: "10:00", EndTime: "12:30"},
		},
		InstructorIDs:   models.StringList{"inst-1"},
		InstructorRates: models.RateMap{"inst-1": 20, "inst-2": 10},
		CostPerStudent:  100,
		StudentCount:    10,
		MaterialsCost:   50,
		EnrolledUserIDs: models.StringList{"student-1"},
		Attendance:      models.AttendanceMap{},
		UpdatedAt:       time.Now().UTC(),
	}
}

func TestComputeFinancials(t *testing.T) {
	course := fixtureCourse()
	course.Sessions = models.SessionList{
		{Date: "2025-03-03", StartTime: "10:00", EndTime: "12:30"},
		{Date: "2025-03-10", StartTime: "10:00", EndTime: "12:30"},
	}
	fin := ComputeFinancials(&course)

	assert.Equal(t, 2, fin.TotalSessions)
	assert.InDelta(t, 5.0, fin.TotalHours, 1e-9)
	assert.InDelta(t, 1000.0, fin.Revenue, 1e-9)
	assert.InDelta(t, 150.0, fin.InstructorExpense, 1e-9)
	assert.InDelta(t, 800.0, fin.Profit, 1e-9)
}

func TestComputeFinancialsCrossMidnight(t *testing.T) {
	course := fixtureCourse()
	course.Sessions = models.SessionList{{Date: "2025-03-03", StartTime: "23:00", EndTime: "01:00"}}
	fin := ComputeFinancials(&course)
	assert.InDelta(t, 2.0, fin.TotalHours, 1e-9)
}

func TestCourseServiceGetNotFoundBeforeForbidden(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]models.Course{}}
	svc := newCourseService(repo, nil)

	_, err := svc.Get(context.Background(), models.Identity{UserID: "stranger"}, "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceGetAccess(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}

	t.Run("owner reads", func(t *testing.T) {
		svc := newCourseService(repo, nil)
		view, err := svc.Get(context.Background(), models.Identity{UserID: "owner-1"}, course.ID)
		require.NoError(t, err)
		assert.Equal(t, course.ID, view.ID)
	})

	t.Run("enrolled student reads", func(t *testing.T) {
		svc := newCourseService(repo, nil)
		_, err := svc.Get(context.Background(), models.Identity{UserID: "student-1", Roles: models.RoleList{models.RoleStudent}}, course.ID)
		require.NoError(t, err)
	})

	t.Run("assigned instructor reads", func(t *testing.T) {
		inst := models.Instructor{ID: "inst-1", OwnerID: "owner-1"}
		svc := newCourseService(repo, &mockResolver{resolution: access.Resolution{Kind: access.ResolutionLinked, Instructor: &inst}})
		_, err := svc.Get(context.Background(), models.Identity{UserID: "user-9", Roles: models.RoleList{models.RoleInstructor}}, course.ID)
		require.NoError(t, err)
	})

	t.Run("stranger forbidden", func(t *testing.T) {
		svc := newCourseService(repo, nil)
		_, err := svc.Get(context.Background(), models.Identity{UserID: "stranger", Roles: models.RoleList{models.RoleStudent}}, course.ID)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	})

	t.Run("ambiguous resolution surfaces", func(t *testing.T) {
		svc := newCourseService(repo, &mockResolver{err: appErrors.ErrAmbiguousInstructor})
		_, err := svc.Get(context.Background(), models.Identity{UserID: "user-9", Username: "dup@example.com"}, course.ID)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrAmbiguousInstructor.Code, appErrors.FromError(err).Code)
	})
}

func TestCourseServiceCreateGeneratesSessions(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := newCourseService(repo, nil)

	view, err := svc.Create(context.Background(), models.Identity{UserID: "owner-1"}, models.CreateCourseRequest{
		Title:     "Evening Pottery",
		Location:  models.LocationStudio,
		StartDate: "2025-03-03",
		EndDate:   "2025-03-14",
		Weekdays:  []int{1, 3},
	})
	require.NoError(t, err)
	require.Len(t, view.Sessions, 4)
	// Defaults apply when the daily window is omitted.
	assert.Equal(t, "16:00", view.Sessions[0].StartTime)
	assert.Equal(t, "18:00", view.Sessions[0].EndTime)
	assert.Equal(t, "owner-1", view.OwnerID)
}

func TestCourseServiceCreateRejectsBadRange(t *testing.T) {
	svc := newCourseService(&mockCourseRepo{}, nil)

	_, err := svc.Create(context.Background(), models.Identity{UserID: "owner-1"}, models.CreateCourseRequest{
		Title:     "Backwards",
		Location:  models.LocationOnline,
		StartDate: "2025-03-14",
		EndDate:   "2025-03-03",
		Weekdays:  []int{1},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceUpdateRegeneratesOnRecurrenceChange(t *testing.T) {
	course := fixtureCourse()
	course.Attendance = models.AttendanceMap{"inst-1": {"2025-03-03", "2025-03-10"}}
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}
	svc := newCourseService(repo, nil)

	endDate := "2025-03-07"
	view, err := svc.Update(context.Background(), models.Identity{UserID: "owner-1"}, course.ID, models.UpdateCourseRequest{
		EndDate: &endDate,
	})
	require.NoError(t, err)
	require.Len(t, view.Sessions, 1)
	assert.Equal(t, "2025-03-03", view.Sessions[0].Date)
	// The session on 03-10 no longer exists, so its attendance key is dropped.
	assert.Equal(t, []string{"2025-03-03"}, view.Attendance["inst-1"])
}

func TestCourseServiceUpdateOwnerOnly(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}
	svc := newCourseService(repo, nil)

	title := "Hijacked"
	_, err := svc.Update(context.Background(), models.Identity{UserID: "admin-1", Roles: models.RoleList{models.RoleAdmin}}, course.ID, models.UpdateCourseRequest{Title: &title})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceUpdateAttendanceOwnerWholeMap(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}
	svc := newCourseService(repo, nil)

	view, err := svc.UpdateAttendance(context.Background(), models.Identity{UserID: "owner-1"}, course.ID, models.UpdateAttendanceRequest{
		Attendance: map[string][]string{
			"inst-1": {"2025-03-03", "2099-01-01", "1"},
		},
	})
	require.NoError(t, err)
	// Unknown dates drop; index "1" resolves to the second session.
	assert.Equal(t, []string{"2025-03-03", "2025-03-10"}, view.Attendance["inst-1"])
}

func TestCourseServiceUpdateAttendanceInstructorScope(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}
	inst := models.Instructor{ID: "inst-1", OwnerID: "owner-1"}
	svc := newCourseService(repo, &mockResolver{resolution: access.Resolution{Kind: access.ResolutionLinked, Instructor: &inst}})
	identity := models.Identity{UserID: "user-9", Roles: models.RoleList{models.RoleInstructor}}

	t.Run("own entry allowed", func(t *testing.T) {
		view, err := svc.UpdateAttendance(context.Background(), identity, course.ID, models.UpdateAttendanceRequest{
			Attendance: map[string][]string{"inst-1": {"2025-03-03"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"2025-03-03"}, view.Attendance["inst-1"])
	})

	t.Run("foreign entry rejected", func(t *testing.T) {
		_, err := svc.UpdateAttendance(context.Background(), identity, course.ID, models.UpdateAttendanceRequest{
			Attendance: map[string][]string{"inst-2": {"2025-03-03"}},
		})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	})
}

func TestCourseServiceUpdateAttendanceRetriesOnConflict(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}, conflictOnce: true}
	svc := newCourseService(repo, nil)

	view, err := svc.UpdateAttendance(context.Background(), models.Identity{UserID: "owner-1"}, course.ID, models.UpdateAttendanceRequest{
		Attendance: map[string][]string{"inst-1": {"2025-03-03"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-03"}, view.Attendance["inst-1"])
}

func TestCourseServiceElevatedRolesCannotWriteAttendance(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}
	svc := newCourseService(repo, nil)

	_, err := svc.UpdateAttendance(context.Background(), models.Identity{UserID: "admin-1", Roles: models.RoleList{models.RoleAdmin}}, course.ID, models.UpdateAttendanceRequest{
		Attendance: map[string][]string{"inst-1": {"2025-03-03"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceListByAudience(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}

	t.Run("instructor sees assignments", func(t *testing.T) {
		inst := models.Instructor{ID: "inst-1", OwnerID: "owner-1"}
		svc := newCourseService(repo, &mockResolver{resolution: access.Resolution{Kind: access.ResolutionLinked, Instructor: &inst}})
		views, _, err := svc.List(context.Background(), models.Identity{UserID: "user-9", Roles: models.RoleList{models.RoleInstructor}}, models.CourseFilter{})
		require.NoError(t, err)
		require.Len(t, views, 1)
	})

	t.Run("student sees enrollments", func(t *testing.T) {
		svc := newCourseService(repo, nil)
		views, _, err := svc.List(context.Background(), models.Identity{UserID: "student-1", Roles: models.RoleList{models.RoleStudent}}, models.CourseFilter{})
		require.NoError(t, err)
		require.Len(t, views, 1)
	})

	t.Run("stranger sees nothing", func(t *testing.T) {
		svc := newCourseService(repo, nil)
		views, _, err := svc.List(context.Background(), models.Identity{UserID: "stranger", Roles: models.RoleList{models.RoleStudent}}, models.CourseFilter{})
		require.NoError(t, err)
		assert.Empty(t, views)
	})
}

func TestCourseServiceDelete(t *testing.T) {
	course := fixtureCourse()
	repo := &mockCourseRepo{courses: map[string]models.Course{course.ID: course}}
	svc := newCourseService(repo, nil)

	require.NoError(t, svc.Delete(context.Background(), models.Identity{UserID: "owner-1"}, course.ID))
	assert.Contains(t, repo.deleted, course.ID)
}
