package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// scanJSON decodes a JSONB column into dest, tolerating NULL.
func scanJSON(src interface{}, dest interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return string(b), nil
}

// StringList is a JSONB-backed list of identifiers.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON(l)
}

func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Contains reports exact membership.
func (l StringList) Contains(s string) bool {
	for _, candidate := range l {
		if candidate == s {
			return true
		}
	}
	return false
}

// IntList is a JSONB-backed list of integers (weekday sets).
type IntList []int

func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON(l)
}

func (l *IntList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// RateMap maps instructor id to hourly rate.
type RateMap map[string]float64

func (m RateMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return valueJSON(m)
}

func (m *RateMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// AttendanceMap maps instructor id to the session keys they attended.
type AttendanceMap map[string][]string

func (m AttendanceMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return valueJSON(m)
}

func (m *AttendanceMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}
