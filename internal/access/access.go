// Package access decides whether a caller may read or write tenant-owned
// resources. All checks are pure functions over plain data: the caller's
// canonical identity, the target record and, where relevant, the instructor
// profile the caller resolves to. Repositories never appear here.
package access

import (
	"strings"

	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

// elevated roles get unrestricted read access across tenants, but never
// implicit write access to a specific record.
var elevatedRoles = map[string]struct{}{
	string(models.RoleAdmin):   {},
	string(models.RoleOwner):   {},
	string(models.RoleManager): {},
	string(models.RoleStaff):   {},
}

// IsElevated reports whether any role grants cross-tenant read access.
// Role comparison is case-insensitive.
func IsElevated(roles models.RoleList) bool {
	for _, role := range roles {
		if _, ok := elevatedRoles[strings.ToUpper(string(role))]; ok {
			return true
		}
	}
	return false
}

// ResolutionKind tags the outcome of instructor identity resolution.
type ResolutionKind string

const (
	// ResolutionLinked means an instructor record references the caller's user id.
	ResolutionLinked ResolutionKind = "linked"
	// ResolutionFallback means the caller matched an instructor by email only.
	ResolutionFallback ResolutionKind = "fallback"
	// ResolutionNone means no instructor record matches the caller.
	ResolutionNone ResolutionKind = "none"
)

// Resolution is the tagged result of ResolveInstructor.
type Resolution struct {
	Kind       ResolutionKind
	Instructor *models.Instructor
}

// ResolveInstructor maps a caller to an instructor profile. A direct user
// link wins; failing that, an instructor whose email equals the caller's
// username (case-insensitive) matches as a fallback. More than one fallback
// candidate is an ambiguity that must be resolved manually, never guessed.
func ResolveInstructor(identity models.Identity, candidates []models.Instructor) (Resolution, error) {
	for i := range candidates {
		if candidates[i].UserID != nil && *candidates[i].UserID == identity.UserID {
			return Resolution{Kind: ResolutionLinked, Instructor: &candidates[i]}, nil
		}
	}

	var fallback *models.Instructor
	for i := range candidates {
		if !strings.EqualFold(candidates[i].Email, identity.Username) {
			continue
		}
		if fallback != nil {
			return Resolution{Kind: ResolutionNone}, appErrors.ErrAmbiguousInstructor
		}
		fallback = &candidates[i]
	}
	if fallback != nil {
		return Resolution{Kind: ResolutionFallback, Instructor: fallback}, nil
	}
	return Resolution{Kind: ResolutionNone}, nil
}

// CanReadCourse grants read access to the owner, elevated roles, the
// resolved instructor when assigned to the course within the same tenant,
// and enrolled students.
func CanReadCourse(identity models.Identity, course *models.Course, resolved *models.Instructor) bool {
	if course == nil {
		return false
	}
	if identity.UserID != "" && identity.UserID == course.OwnerID {
		return true
	}
	if IsElevated(identity.Roles) {
		return true
	}
	if resolved != nil && course.InstructorIDs.Contains(resolved.ID) && resolved.OwnerID == course.OwnerID {
		return true
	}
	return course.EnrolledUserIDs.Contains(identity.UserID)
}

// CanWriteCourse grants update/delete only to the exact recorded owner.
func CanWriteCourse(identity models.Identity, course *models.Course) bool {
	return course != nil && identity.UserID != "" && identity.UserID == course.OwnerID
}

// CanReadInstructor grants read to the owner, elevated roles, and the
// linked user themselves.
func CanReadInstructor(identity models.Identity, instructor *models.Instructor) bool {
	if instructor == nil {
		return false
	}
	if identity.UserID != "" && identity.UserID == instructor.OwnerID {
		return true
	}
	if IsElevated(identity.Roles) {
		return true
	}
	if instructor.UserID != nil && *instructor.UserID == identity.UserID {
		return true
	}
	return strings.EqualFold(instructor.Email, identity.Username)
}

// CanWriteInstructor grants update/delete only to the exact recorded owner.
func CanWriteInstructor(identity models.Identity, instructor *models.Instructor) bool {
	return instructor != nil && identity.UserID != "" && identity.UserID == instructor.OwnerID
}

// selfUpdateFields is the allow-listed subset an instructor may change on
// their own profile. Ownership and linkage fields are never included.
var selfUpdateFields = map[string]struct{}{
	"full_name": {},
	"bio":       {},
	"phone":     {},
	"photo_url": {},
	"skills":    {},
}

// AllowedSelfUpdateField reports whether a linked instructor may modify the
// named field on their own profile.
func AllowedSelfUpdateField(field string) bool {
	_, ok := selfUpdateFields[field]
	return ok
}

// AttendanceScope describes what part of the attendance map a caller may replace.
type AttendanceScope struct {
	// WholeMap is true for the owner, who may replace every entry.
	WholeMap bool
	// InstructorID names the single entry an assigned instructor may replace.
	InstructorID string
}

// ResolveAttendanceScope returns the attendance mutation rights of a caller,
// or false when they have none. Elevated roles carry no implicit attendance
// rights on foreign tenants.
func ResolveAttendanceScope(identity models.Identity, course *models.Course, resolved *models.Instructor) (AttendanceScope, bool) {
	if course == nil {
		return AttendanceScope{}, false
	}
	if identity.UserID != "" && identity.UserID == course.OwnerID {
		return AttendanceScope{WholeMap: true}, true
	}
	if resolved != nil && course.InstructorIDs.Contains(resolved.ID) && resolved.OwnerID == course.OwnerID {
		return AttendanceScope{InstructorID: resolved.ID}, true
	}
	return AttendanceScope{}, false
}
