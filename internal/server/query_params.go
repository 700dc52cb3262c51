package server

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errInvalidTime = errors.New("invalid_time")

// parseOptionalBool returns nil for an absent parameter.
func parseOptionalBool(value string) (*bool, error) {
	if value = strings.TrimSpace(value); value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// parseOptionalTime accepts RFC3339 or a bare YYYY-MM-DD. A bare date covers
// the whole UTC day, so upper bounds resolve to its last nanosecond.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	if value = strings.TrimSpace(value); value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if err != nil {
		return nil, errInvalidTime
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}
