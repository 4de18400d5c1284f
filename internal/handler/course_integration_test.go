package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorstack-api/internal/access"
	"github.com/tutorstack/tutorstack-api/internal/middleware"
	"github.com/tutorstack/tutorstack-api/internal/models"
	"github.com/tutorstack/tutorstack-api/internal/service"
)

func TestCourseRoutesIntegration(t *testing.T) {
	router := buildCourseRouter()

	t.Run("list as owner", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/courses", nil)
		req.Header.Set("X-Test-User", "owner-1")
		req.Header.Set("X-Test-Roles", string(models.RoleOwner))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"title":"Wheel Throwing"`)
		require.Contains(t, resp.Body.String(), `"financials"`)
	})

	t.Run("get unauthenticated", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/courses/course-1", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("get missing reports not found before forbidden", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/courses/missing", nil)
		req.Header.Set("X-Test-User", "stranger")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("get forbidden for stranger", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/courses/course-1", nil)
		req.Header.Set("X-Test-User", "stranger")
		req.Header.Set("X-Test-Roles", string(models.RoleStudent))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("create generates sessions", func(t *testing.T) {
		payload := `{"title":"Evening Pottery","location":"STUDIO","start_date":"2025-03-03","end_date":"2025-03-14","weekdays":[1,3]}`
		req, _ := http.NewRequest(http.MethodPost, "/courses", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", "owner-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Equal(t, 4, strings.Count(resp.Body.String(), `"start_time":"16:00"`))
	})

	t.Run("create rejects bad payload", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/courses", bytes.NewBufferString(`{"title":""}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", "owner-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("attendance update by owner", func(t *testing.T) {
		payload := `{"attendance":{"inst-1":["2025-03-03"]}}`
		req, _ := http.NewRequest(http.MethodPut, "/courses/course-1/attendance", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", "owner-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"inst-1":["2025-03-03"]`)
	})

	t.Run("attendance forbidden for elevated roles", func(t *testing.T) {
		payload := `{"attendance":{"inst-1":["2025-03-03"]}}`
		req, _ := http.NewRequest(http.MethodPut, "/courses/course-1/attendance", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", "admin-1")
		req.Header.Set("X-Test-Roles", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})
}

func buildCourseRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID := c.GetHeader("X-Test-User"); userID != "" {
			identity := models.Identity{UserID: userID, Username: userID + "@example.com"}
			if roles := c.GetHeader("X-Test-Roles"); roles != "" {
				identity.Roles = models.RoleList{models.UserRole(roles)}
			}
			c.Set(middleware.ContextUserKey, identity)
		}
		c.Next()
	})

	repo := &courseRepoIntegrationMock{courses: map[string]models.Course{
		"course-1": {
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
			InstructorRates: models.RateMap{"inst-1": 20},
			Attendance:      models.AttendanceMap{},
			UpdatedAt:       time.Now().UTC(),
		},
	}}
	svc := service.NewCourseService(repo, courseResolverIntegrationMock{}, nil, service.CourseCacheConfig{}, nil, nil)
	courseHandler := NewCourseHandler(svc)

	courses := router.Group("/courses")
	courses.GET("", courseHandler.List)
	courses.GET("/:id", courseHandler.Get)
	courses.POST("", courseHandler.Create)
	courses.PUT("/:id/attendance", courseHandler.UpdateAttendance)

	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type courseRepoIntegrationMock struct {
	courses map[string]models.Course
}

func (m *courseRepoIntegrationMock) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if course, ok := m.courses[id]; ok {
		copied := course
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *courseRepoIntegrationMock) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, course := range m.courses {
		if filter.OwnerID != "" && course.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, course)
	}
	return out, len(out), nil
}

func (m *courseRepoIntegrationMock) ListByInstructor(ctx context.Context, instructorID string) ([]models.Course, error) {
	return nil, nil
}

func (m *courseRepoIntegrationMock) ListByEnrolledUser(ctx context.Context, userID string) ([]models.Course, error) {
	return nil, nil
}

func (m *courseRepoIntegrationMock) Create(ctx context.Context, course *models.Course) error {
	course.ID = "course-new"
	m.courses[course.ID] = *course
	return nil
}

func (m *courseRepoIntegrationMock) Update(ctx context.Context, course *models.Course) error {
	m.courses[course.ID] = *course
	return nil
}

func (m *courseRepoIntegrationMock) UpdateAttendance(ctx context.Context, id string, attendance models.AttendanceMap, expectedUpdatedAt time.Time) error {
	course := m.courses[id]
	course.Attendance = attendance
	m.courses[id] = course
	return nil
}

func (m *courseRepoIntegrationMock) Delete(ctx context.Context, id string) error {
	delete(m.courses, id)
	return nil
}

type courseResolverIntegrationMock struct{}

func (courseResolverIntegrationMock) Resolve(ctx context.Context, identity models.Identity) (access.Resolution, error) {
	return access.Resolution{Kind: access.ResolutionNone}, nil
}
