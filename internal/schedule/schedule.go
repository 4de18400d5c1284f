// Package schedule holds the pure calendar math behind course session
// generation: weekly recurrence expansion, clock arithmetic and attendance
// key normalisation. Everything here is deterministic and side-effect free.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/tutorstack/tutorstack-api/internal/models"
)

const (
	// DateLayout is the bare calendar date carried by sessions.
	DateLayout = "2006-01-02"

	defaultStartTime = "16:00"
	defaultEndTime   = "18:00"
)

// Generate expands a weekly recurrence rule into the ordered session calendar.
// Weekdays use 0=Sunday..6=Saturday. Missing or malformed inputs yield an
// empty calendar rather than an error; callers validate at the API boundary.
func Generate(startDate, endDate string, weekdays []int, dailyStart, dailyEnd string) models.SessionList {
	if startDate == "" || endDate == "" || len(weekdays) == 0 {
		return models.SessionList{}
	}

	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return models.SessionList{}
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return models.SessionList{}
	}
	if start.After(end) {
		return models.SessionList{}
	}

	if dailyStart == "" {
		dailyStart = defaultStartTime
	}
	if dailyEnd == "" {
		dailyEnd = defaultEndTime
	}

	wanted := make(map[int]struct{}, len(weekdays))
	for _, wd := range weekdays {
		if wd >= 0 && wd <= 6 {
			wanted[wd] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return models.SessionList{}
	}

	sessions := models.SessionList{}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if _, ok := wanted[int(day.Weekday())]; !ok {
			continue
		}
		sessions = append(sessions, models.Session{
			Date:      day.Format(DateLayout),
			StartTime: dailyStart,
			EndTime:   dailyEnd,
		})
	}
	return sessions
}

// ClockMinutes parses an "HH:MM" string into minutes since midnight.
func ClockMinutes(clock string) (int, bool) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, false
	}
	return hours*60 + minutes, true
}

// SessionHours returns the duration of one session in hours. A window that
// ends before it starts is treated as crossing midnight. Malformed time
// strings contribute zero.
func SessionHours(startTime, endTime string) float64 {
	start, ok := ClockMinutes(startTime)
	if !ok {
		return 0
	}
	end, ok := ClockMinutes(endTime)
	if !ok {
		return 0
	}
	if end < start {
		end += 24 * 60
	}
	return float64(end-start) / 60
}

// TotalHours sums the duration of every session in the calendar.
func TotalHours(sessions models.SessionList) float64 {
	var total float64
	for _, s := range sessions {
		total += SessionHours(s.StartTime, s.EndTime)
	}
	return total
}

// NormalizeDate reduces a session key to the bare calendar date. Keys that
// carry a time component (RFC3339 or "date time") are truncated; anything
// unparseable comes back unchanged.
func NormalizeDate(key string) string {
	if len(key) >= len(DateLayout) {
		if _, err := time.Parse(DateLayout, key[:len(DateLayout)]); err == nil {
			return key[:len(DateLayout)]
		}
	}
	return key
}

// FilterSessionKeys keeps only the submitted attendance keys that resolve to
// an existing session, by normalized date or positional index fallback, and
// canonicalises each kept key to the session date. Unknown keys are dropped
// silently; duplicates collapse to one entry. Order follows the calendar.
func FilterSessionKeys(submitted []string, sessions models.SessionList) []string {
	if len(submitted) == 0 || len(sessions) == 0 {
		return []string{}
	}

	byDate := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		byDate[NormalizeDate(s.Date)] = struct{}{}
	}

	kept := make(map[string]struct{}, len(submitted))
	for _, key := range submitted {
		date := NormalizeDate(key)
		if _, ok := byDate[date]; ok {
			kept[date] = struct{}{}
			continue
		}
		// Positional index fallback for legacy clients.
		if idx, err := strconv.Atoi(key); err == nil && idx >= 0 && idx < len(sessions) {
			kept[NormalizeDate(sessions[idx].Date)] = struct{}{}
		}
	}

	result := make([]string, 0, len(kept))
	for _, s := range sessions {
		date := NormalizeDate(s.Date)
		if _, ok := kept[date]; ok {
			result = append(result, date)
			delete(kept, date)
		}
	}
	return result
}
