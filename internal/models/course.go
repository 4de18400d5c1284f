package models

import (
	"database/sql/driver"
	"time"
)

// CourseLocation is the fixed category set for where a course runs.
type CourseLocation string

const (
	LocationOnline     CourseLocation = "ONLINE"
	LocationStudio     CourseLocation = "STUDIO"
	LocationOnLocation CourseLocation = "ON_LOCATION"
)

// Session is a single calendar occurrence owned by its course. The date is a
// bare "YYYY-MM-DD" string with no time-of-day component and no timezone.
type Session struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// SessionList is the JSONB-backed generated session calendar.
type SessionList []Session

func (l SessionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON(l)
}

func (l *SessionList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Course is a tenant-owned course definition with its generated calendar,
// instructor assignments, enrollment and financial inputs.
type Course struct {
	ID          string         `db:"id" json:"id"`
	OwnerID     string         `db:"owner_id" json:"owner_id"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	Location    CourseLocation `db:"location" json:"location"`

	StartDate      string  `db:"start_date" json:"start_date"`
	EndDate        string  `db:"end_date" json:"end_date"`
	RangeStartTime string  `db:"range_start_time" json:"range_start_time"`
	RangeEndTime   string  `db:"range_end_time" json:"range_end_time"`
	Weekdays       IntList `db:"weekdays" json:"weekdays"`

	Sessions SessionList `db:"sessions" json:"sessions"`

	InstructorIDs   StringList `db:"instructor_ids" json:"instructor_ids"`
	InstructorRates RateMap    `db:"instructor_rates" json:"instructor_rates"`

	CostPerStudent float64 `db:"cost_per_student" json:"cost_per_student"`
	StudentCount   int     `db:"student_count" json:"student_count"`
	MaterialsCost  float64 `db:"materials_cost" json:"materials_cost"`

	EnrolledUserIDs StringList    `db:"enrolled_user_ids" json:"enrolled_user_ids"`
	Attendance      AttendanceMap `db:"attendance" json:"attendance"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFinancials are derived values recomputed on every read, never stored.
type CourseFinancials struct {
	TotalSessions     int     `json:"total_sessions"`
	TotalHours        float64 `json:"total_hours"`
	Revenue           float64 `json:"revenue"`
	InstructorExpense float64 `json:"instructor_expense"`
	Profit            float64 `json:"profit"`
}

// CourseView embeds a course together with its computed financials.
type CourseView struct {
	Course
	Financials CourseFinancials `json:"financials"`
}

// CourseFilter captures listing criteria.
type CourseFilter struct {
	OwnerID  string
	Search   string
	Location *CourseLocation
	Page     int
	PageSize int
}

// CreateCourseRequest is the owner-facing creation payload. The session
// calendar is derived from the recurrence fields, never submitted directly.
type CreateCourseRequest struct {
	Title           string             `json:"title" validate:"required"`
	Description     string             `json:"description"`
	Location        CourseLocation     `json:"location" validate:"required"`
	StartDate       string             `json:"start_date" validate:"required"`
	EndDate         string             `json:"end_date" validate:"required"`
	RangeStartTime  string             `json:"range_start_time"`
	RangeEndTime    string             `json:"range_end_time"`
	Weekdays        []int              `json:"weekdays" validate:"required,min=1,dive,gte=0,lte=6"`
	InstructorIDs   []string           `json:"instructor_ids"`
	InstructorRates map[string]float64 `json:"instructor_rates"`
	CostPerStudent  float64            `json:"cost_per_student" validate:"gte=0"`
	StudentCount    int                `json:"student_count" validate:"gte=0"`
	MaterialsCost   float64            `json:"materials_cost" validate:"gte=0"`
	EnrolledUserIDs []string           `json:"enrolled_user_ids"`
}

// UpdateCourseRequest carries partial updates. Nil fields are untouched.
// Changing any recurrence field regenerates the session calendar.
type UpdateCourseRequest struct {
	Title           *string             `json:"title"`
	Description     *string             `json:"description"`
	Location        *CourseLocation     `json:"location"`
	StartDate       *string             `json:"start_date"`
	EndDate         *string             `json:"end_date"`
	RangeStartTime  *string             `json:"range_start_time"`
	RangeEndTime    *string             `json:"range_end_time"`
	Weekdays        *[]int              `json:"weekdays" validate:"omitempty,min=1,dive,gte=0,lte=6"`
	InstructorIDs   *[]string           `json:"instructor_ids"`
	InstructorRates *map[string]float64 `json:"instructor_rates"`
	CostPerStudent  *float64            `json:"cost_per_student" validate:"omitempty,gte=0"`
	StudentCount    *int                `json:"student_count" validate:"omitempty,gte=0"`
	MaterialsCost   *float64            `json:"materials_cost" validate:"omitempty,gte=0"`
	EnrolledUserIDs *[]string           `json:"enrolled_user_ids"`
}

// UpdateAttendanceRequest replaces attendance entries. Keys may be session
// dates or legacy positional indexes; both canonicalise to dates.
type UpdateAttendanceRequest struct {
	Attendance map[string][]string `json:"attendance" validate:"required"`
}

// ValidLocation reports whether the location belongs to the fixed category set.
func ValidLocation(loc CourseLocation) bool {
	switch loc {
	case LocationOnline, LocationStudio, LocationOnLocation:
		return true
	default:
		return false
	}
}
