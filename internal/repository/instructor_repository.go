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

// InstructorRepository provides database access for instructor profiles.
type InstructorRepository struct {
	db *sqlx.DB
}

// NewInstructorRepository creates a new instance of InstructorRepository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{db: db}
}

const instructorColumns = `id, owner_id, user_id, email, full_name, bio, phone, photo_url, skills, created_at, updated_at`

// FindByID returns an instructor by identifier.
func (r *InstructorRepository) FindByID(ctx context.Context, id string) (*models.Instructor, error) {
	query := fmt.Sprintf(`SELECT %s FROM instructors WHERE id = $1 LIMIT 1`, instructorColumns)
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find instructor by id: %w", err)
	}
	return &instructor, nil
}

// FindCandidates returns every profile that could resolve to the caller:
// directly linked rows plus unlinked rows sharing the caller's email.
func (r *InstructorRepository) FindCandidates(ctx context.Context, userID, username string) ([]models.Instructor, error) {
	query := fmt.Sprintf(`SELECT %s FROM instructors WHERE user_id = $1 OR (user_id IS NULL AND LOWER(email) = LOWER($2)) ORDER BY created_at`, instructorColumns)
	var instructors []models.Instructor
	if err := r.db.SelectContext(ctx, &instructors, query, userID, username); err != nil {
		return nil, fmt.Errorf("find instructor candidates: %w", err)
	}
	return instructors, nil
}

// ExistsByEmail reports whether the owner already has an instructor with the
// email, excluding the given id on updates.
func (r *InstructorRepository) ExistsByEmail(ctx context.Context, ownerID, email, excludeID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM instructors WHERE owner_id = $1 AND LOWER(email) = LOWER($2) AND id <> $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, ownerID, email, excludeID); err != nil {
		return false, fmt.Errorf("check instructor email: %w", err)
	}
	return count > 0, nil
}

// List returns instructors for an owner with total count.
func (r *InstructorRepository) List(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, int, error) {
	baseQuery := `FROM instructors WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(full_name) LIKE $%d)", len(args)+1, len(args)+1))
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", instructorColumns, baseQuery, pageSize, offset)

	var instructors []models.Instructor
	if err := r.db.SelectContext(ctx, &instructors, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list instructors: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count instructors: %w", err)
	}

	return instructors, total, nil
}

// Create inserts a new instructor profile.
func (r *InstructorRepository) Create(ctx context.Context, instructor *models.Instructor) error {
	if instructor.ID == "" {
		instructor.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if instructor.CreatedAt.IsZero() {
		instructor.CreatedAt = now
	}
	instructor.UpdatedAt = now

	const query = `INSERT INTO instructors (id, owner_id, user_id, email, full_name, bio, phone, photo_url, skills, created_at, updated_at)
		VALUES (:id, :owner_id, :user_id, :email, :full_name, :bio, :phone, :photo_url, :skills, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, instructor); err != nil {
		return fmt.Errorf("create instructor: %w", err)
	}
	return nil
}

// Update updates mutable fields of an instructor profile.
func (r *InstructorRepository) Update(ctx context.Context, instructor *models.Instructor) error {
	instructor.UpdatedAt = time.Now().UTC()
	const query = `UPDATE instructors SET email = :email, full_name = :full_name, bio = :bio, phone = :phone, photo_url = :photo_url, skills = :skills, user_id = :user_id, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, instructor); err != nil {
		return fmt.Errorf("update instructor: %w", err)
	}
	return nil
}

// LinkUser sets the user linkage only when the row is still unlinked,
// keeping lazy linkage idempotent under concurrent self-service access.
func (r *InstructorRepository) LinkUser(ctx context.Context, instructorID, userID string) error {
	const query = `UPDATE instructors SET user_id = $2, updated_at = $3 WHERE id = $1 AND user_id IS NULL`
	if _, err := r.db.ExecContext(ctx, query, instructorID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("link instructor user: %w", err)
	}
	return nil
}

// Delete removes an instructor profile.
func (r *InstructorRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM instructors WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete instructor: %w", err)
	}
	return nil
}
