package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutorstack/tutorstack-api/internal/models"
)

// CourseRepository provides database access for courses. Sessions, weekday
// sets, rates, enrollment and attendance live in JSONB columns so every
// write stays a single-row atomic update.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository creates a new instance of CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, owner_id, title, description, location, start_date, end_date, range_start_time, range_end_time, weekdays, sessions, instructor_ids, instructor_rates, cost_per_student, student_count, materials_cost, enrolled_user_ids, attendance, created_at, updated_at`

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1 LIMIT 1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// List returns courses matching the filter with total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	baseQuery := `FROM courses WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.Location != nil {
		conditions = append(conditions, fmt.Sprintf("location = $%d", len(args)+1))
		args = append(args, *filter.Location)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", courseColumns, baseQuery, pageSize, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	return courses, total, nil
}

// ListByInstructor returns courses referencing the instructor id.
func (r *CourseRepository) ListByInstructor(ctx context.Context, instructorID string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE instructor_ids::jsonb ? $1 ORDER BY created_at DESC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, instructorID); err != nil {
		return nil, fmt.Errorf("list courses by instructor: %w", err)
	}
	return courses, nil
}

// ListByEnrolledUser returns courses whose enrollment list contains the user.
func (r *CourseRepository) ListByEnrolledUser(ctx context.Context, userID string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE enrolled_user_ids::jsonb ? $1 ORDER BY created_at DESC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, userID); err != nil {
		return nil, fmt.Errorf("list courses by enrollment: %w", err)
	}
	return courses, nil
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	const query = `INSERT INTO courses (id, owner_id, title, description, location, start_date, end_date, range_start_time, range_end_time, weekdays, sessions, instructor_ids, instructor_rates, cost_per_student, student_count, materials_cost, enrolled_user_ids, attendance, created_at, updated_at)
		VALUES (:id, :owner_id, :title, :description, :location, :start_date, :end_date, :range_start_time, :range_end_time, :weekdays, :sessions, :instructor_ids, :instructor_rates, :cost_per_student, :student_count, :materials_cost, :enrolled_user_ids, :attendance, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update replaces mutable fields of a course in one atomic row update.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, location = :location, start_date = :start_date, end_date = :end_date, range_start_time = :range_start_time, range_end_time = :range_end_time, weekdays = :weekdays, sessions = :sessions, instructor_ids = :instructor_ids, instructor_rates = :instructor_rates, cost_per_student = :cost_per_student, student_count = :student_count, materials_cost = :materials_cost, enrolled_user_ids = :enrolled_user_ids, attendance = :attendance, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// UpdateAttendance replaces only the attendance column, guarded by the
// previous updated_at value so concurrent read-modify-write cycles cannot
// silently drop each other's entries.
func (r *CourseRepository) UpdateAttendance(ctx context.Context, id string, attendance models.AttendanceMap, expectedUpdatedAt time.Time) error {
	const query = `UPDATE courses SET attendance = $2, updated_at = $3 WHERE id = $1 AND updated_at = $4`
	res, err := r.db.ExecContext(ctx, query, id, attendance, time.Now().UTC(), expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("update attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attendance rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a course.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}
