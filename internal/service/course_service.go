package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutorstack/tutorstack-api/internal/access"
	"github.com/tutorstack/tutorstack-api/internal/models"
	"github.com/tutorstack/tutorstack-api/internal/schedule"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	ListByInstructor(ctx context.Context, instructorID string) ([]models.Course, error)
	ListByEnrolledUser(ctx context.Context, userID string) ([]models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	UpdateAttendance(ctx context.Context, id string, attendance models.AttendanceMap, expectedUpdatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type instructorResolver interface {
	Resolve(ctx context.Context, identity models.Identity) (access.Resolution, error)
}

type courseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CourseCacheConfig tunes the read-through cache on single-course reads.
type CourseCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// CourseService manages courses, their generated session calendars, derived
// financials and attendance.
type CourseService struct {
	repo        courseRepository
	instructors instructorResolver
	cache       courseCache
	cacheCfg    CourseCacheConfig
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs a CourseService instance.
func NewCourseService(repo courseRepository, instructors instructorResolver, cache courseCache, cacheCfg CourseCacheConfig, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{
		repo:        repo,
		instructors: instructors,
		cache:       cache,
		cacheCfg:    cacheCfg,
		validator:   validate,
		logger:      logger,
	}
}

// ComputeFinancials derives the virtual financial fields from stored inputs.
// Values are recomputed on every read and never persisted. Non-finite inputs
// contribute zero.
func ComputeFinancials(course *models.Course) models.CourseFinancials {
	totalHours := schedule.TotalHours(course.Sessions)

	revenue := finite(course.CostPerStudent) * float64(course.StudentCount)

	var rateSum float64
	for _, rate := range course.InstructorRates {
		rateSum += finite(rate)
	}
	expense := rateSum * totalHours

	return models.CourseFinancials{
		TotalSessions:     len(course.Sessions),
		TotalHours:        totalHours,
		Revenue:           revenue,
		InstructorExpense: expense,
		Profit:            revenue - expense - finite(course.MaterialsCost),
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// List returns the courses visible to the caller with computed financials.
// Owners and elevated roles list by filter; instructors get their assigned
// courses; everyone else gets their enrollments.
func (s *CourseService) List(ctx context.Context, identity models.Identity, filter models.CourseFilter) ([]models.CourseView, *models.Pagination, error) {
	if identity.Roles.Has(models.RoleOwner) || access.IsElevated(identity.Roles) {
		if !access.IsElevated(identity.Roles) {
			filter.OwnerID = identity.UserID
		}
		courses, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
		}
		page := filter.Page
		if page < 1 {
			page = 1
		}
		pageSize := filter.PageSize
		if pageSize <= 0 || pageSize > 100 {
			pageSize = 20
		}
		return toViews(courses), &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
	}

	resolution, err := s.instructors.Resolve(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	var courses []models.Course
	if resolution.Instructor != nil {
		courses, err = s.repo.ListByInstructor(ctx, resolution.Instructor.ID)
	} else {
		courses, err = s.repo.ListByEnrolledUser(ctx, identity.UserID)
	}
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	return toViews(courses), &models.Pagination{Page: 1, PageSize: len(courses), TotalCount: len(courses)}, nil
}

// Get returns one course with computed financials. A missing course reports
// not found before any permission verdict.
func (s *CourseService) Get(ctx context.Context, identity models.Identity, id string) (*models.CourseView, error) {
	course, err := s.loadCourse(ctx, id)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveForCourse(ctx, identity, course)
	if err != nil {
		return nil, err
	}

	if !access.CanReadCourse(identity, course, resolved) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this course")
	}

	view := &models.CourseView{Course: *course, Financials: ComputeFinancials(course)}
	return view, nil
}

// Create adds a course under the caller's tenant and generates its session
// calendar from the recurrence rule.
func (s *CourseService) Create(ctx context.Context, identity models.Identity, req models.CreateCourseRequest) (*models.CourseView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if !models.ValidLocation(req.Location) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown course location")
	}
	if err := validateRecurrence(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	if err := validateRates(req.InstructorRates); err != nil {
		return nil, err
	}

	course := &models.Course{
		OwnerID:         identity.UserID,
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		RangeStartTime:  req.RangeStartTime,
		RangeEndTime:    req.RangeEndTime,
		Weekdays:        models.IntList(req.Weekdays),
		InstructorIDs:   models.StringList(req.InstructorIDs),
		InstructorRates: models.RateMap(req.InstructorRates),
		CostPerStudent:  req.CostPerStudent,
		StudentCount:    req.StudentCount,
		MaterialsCost:   req.MaterialsCost,
		EnrolledUserIDs: models.StringList(req.EnrolledUserIDs),
		Attendance:      models.AttendanceMap{},
	}
	course.Sessions = schedule.Generate(course.StartDate, course.EndDate, course.Weekdays, course.RangeStartTime, course.RangeEndTime)

	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	view := &models.CourseView{Course: *course, Financials: ComputeFinancials(course)}
	return view, nil
}

// Update applies a partial update. Owner only. Changing any recurrence field
// regenerates the session calendar and re-filters attendance against it.
func (s *CourseService) Update(ctx context.Context, identity models.Identity, id string, req models.UpdateCourseRequest) (*models.CourseView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.loadCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanWriteCourse(identity, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner may modify this course")
	}

	recurrenceChanged := false
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Location != nil {
		if !models.ValidLocation(*req.Location) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown course location")
		}
		course.Location = *req.Location
	}
	if req.StartDate != nil && *req.StartDate != course.StartDate {
		course.StartDate = *req.StartDate
		recurrenceChanged = true
	}
	if req.EndDate != nil && *req.EndDate != course.EndDate {
		course.EndDate = *req.EndDate
		recurrenceChanged = true
	}
	if req.RangeStartTime != nil && *req.RangeStartTime != course.RangeStartTime {
		course.RangeStartTime = *req.RangeStartTime
		recurrenceChanged = true
	}
	if req.RangeEndTime != nil && *req.RangeEndTime != course.RangeEndTime {
		course.RangeEndTime = *req.RangeEndTime
		recurrenceChanged = true
	}
	if req.Weekdays != nil {
		course.Weekdays = models.IntList(*req.Weekdays)
		recurrenceChanged = true
	}
	if req.InstructorIDs != nil {
		course.InstructorIDs = models.StringList(*req.InstructorIDs)
	}
	if req.InstructorRates != nil {
		if err := validateRates(*req.InstructorRates); err != nil {
			return nil, err
		}
		course.InstructorRates = models.RateMap(*req.InstructorRates)
	}
	if req.CostPerStudent != nil {
		course.CostPerStudent = *req.CostPerStudent
	}
	if req.StudentCount != nil {
		course.StudentCount = *req.StudentCount
	}
	if req.MaterialsCost != nil {
		course.MaterialsCost = *req.MaterialsCost
	}
	if req.EnrolledUserIDs != nil {
		course.EnrolledUserIDs = models.StringList(*req.EnrolledUserIDs)
	}

	if recurrenceChanged {
		if err := validateRecurrence(course.StartDate, course.EndDate); err != nil {
			return nil, err
		}
		course.Sessions = schedule.Generate(course.StartDate, course.EndDate, course.Weekdays, course.RangeStartTime, course.RangeEndTime)
		course.Attendance = filterAttendance(course.Attendance, course.Sessions)
	}

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.invalidate(ctx, course.ID)

	view := &models.CourseView{Course: *course, Financials: ComputeFinancials(course)}
	return view, nil
}

// Regenerate rebuilds the session calendar from the stored recurrence rule.
// Owner only. Attendance keys no longer matching a session are dropped.
func (s *CourseService) Regenerate(ctx context.Context, identity models.Identity, id string) (*models.CourseView, error) {
	course, err := s.loadCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanWriteCourse(identity, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner may modify this course")
	}

	course.Sessions = schedule.Generate(course.StartDate, course.EndDate, course.Weekdays, course.RangeStartTime, course.RangeEndTime)
	course.Attendance = filterAttendance(course.Attendance, course.Sessions)

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to regenerate sessions")
	}
	s.invalidate(ctx, course.ID)

	view := &models.CourseView{Course: *course, Financials: ComputeFinancials(course)}
	return view, nil
}

// UpdateAttendance replaces attendance entries within the caller's scope.
// The owner may replace the whole map; an assigned instructor only their own
// entry. Submitted keys are filtered against the session calendar and
// canonicalised to dates. Writes are retried once on optimistic-concurrency
// conflicts.
func (s *CourseService) UpdateAttendance(ctx context.Context, identity models.Identity, id string, req models.UpdateAttendanceRequest) (*models.CourseView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	for attempt := 0; attempt < 2; attempt++ {
		course, err := s.loadCourse(ctx, id)
		if err != nil {
			return nil, err
		}

		resolved, err := s.resolveForCourse(ctx, identity, course)
		if err != nil {
			return nil, err
		}

		scope, ok := access.ResolveAttendanceScope(identity, course, resolved)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no attendance access to this course")
		}

		next := course.Attendance
		if next == nil {
			next = models.AttendanceMap{}
		}
		if scope.WholeMap {
			next = models.AttendanceMap{}
			for instructorID, keys := range req.Attendance {
				next[instructorID] = schedule.FilterSessionKeys(keys, course.Sessions)
			}
		} else {
			keys, present := req.Attendance[scope.InstructorID]
			if !present || len(req.Attendance) != 1 {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "instructors may only update their own attendance entry")
			}
			next[scope.InstructorID] = schedule.FilterSessionKeys(keys, course.Sessions)
		}

		err = s.repo.UpdateAttendance(ctx, course.ID, next, course.UpdatedAt)
		if err == nil {
			course.Attendance = next
			s.invalidate(ctx, course.ID)
			view := &models.CourseView{Course: *course, Financials: ComputeFinancials(course)}
			return view, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance")
		}
		// Lost the optimistic-concurrency race; reload and retry once.
	}

	return nil, appErrors.Clone(appErrors.ErrConflict, "attendance was modified concurrently, retry")
}

// Delete removes a course. Owner only.
func (s *CourseService) Delete(ctx context.Context, identity models.Identity, id string) error {
	course, err := s.loadCourse(ctx, id)
	if err != nil {
		return err
	}
	if !access.CanWriteCourse(identity, course) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner may delete this course")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CourseService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	if s.cacheCfg.Enabled && s.cache != nil {
		var cached models.Course
		if err := s.cache.Get(ctx, courseCacheKey(id), &cached); err == nil {
			return &cached, nil
		}
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if s.cacheCfg.Enabled && s.cache != nil {
		if err := s.cache.Set(ctx, courseCacheKey(course.ID), course, s.cacheCfg.TTL); err != nil {
			s.logger.Warn("failed to cache course", zap.String("course_id", course.ID), zap.Error(err))
		}
	}

	return course, nil
}

// resolveForCourse resolves the caller's instructor profile when it could
// matter for the access decision. Ambiguity is surfaced, not swallowed.
func (s *CourseService) resolveForCourse(ctx context.Context, identity models.Identity, course *models.Course) (*models.Instructor, error) {
	if identity.UserID == course.OwnerID || access.IsElevated(identity.Roles) {
		return nil, nil
	}
	resolution, err := s.instructors.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	return resolution.Instructor, nil
}

func (s *CourseService) invalidate(ctx context.Context, id string) {
	if !s.cacheCfg.Enabled || s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, courseCacheKey(id)); err != nil {
		s.logger.Warn("failed to invalidate course cache", zap.String("course_id", id), zap.Error(err))
	}
}

func courseCacheKey(id string) string {
	return fmt.Sprintf("course:%s", id)
}

func toViews(courses []models.Course) []models.CourseView {
	views := make([]models.CourseView, 0, len(courses))
	for i := range courses {
		views = append(views, models.CourseView{Course: courses[i], Financials: ComputeFinancials(&courses[i])})
	}
	return views
}

func validateRecurrence(startDate, endDate string) error {
	start, err := time.Parse(schedule.DateLayout, startDate)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(schedule.DateLayout, endDate)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "end_date must be YYYY-MM-DD")
	}
	if start.After(end) {
		return appErrors.Clone(appErrors.ErrValidation, "end_date must not precede start_date")
	}
	return nil
}

func validateRates(rates map[string]float64) error {
	for id, rate := range rates {
		if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
			return appErrors.Clone(appErrors.ErrValidation, "invalid hourly rate for instructor "+id)
		}
	}
	return nil
}

// filterAttendance re-validates every stored attendance entry against a fresh
// session calendar.
func filterAttendance(attendance models.AttendanceMap, sessions models.SessionList) models.AttendanceMap {
	next := models.AttendanceMap{}
	for instructorID, keys := range attendance {
		next[instructorID] = schedule.FilterSessionKeys(keys, sessions)
	}
	return next
}
