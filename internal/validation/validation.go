package validation

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidID is returned when an entity id is not a positive integer.
var ErrInvalidID = errors.New("id must be a positive integer")

// ErrInvalidLimit is returned when a row limit is outside the allowed range.
var ErrInvalidLimit = errors.New("limit out of range")

// ErrInvalidDate is returned when a date is not a valid YYYY-MM-DD string.
var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

// ErrInvertedRange is returned when the start date is after the end date.
var ErrInvertedRange = errors.New("start date is after end date")

// ValidateID parses an entity id path parameter.
func ValidateID(input string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

// ValidateLimit parses an optional row limit. Empty input returns 0 (caller
// default). maxLimit of 0 means unbounded.
func ValidateLimit(input string, maxLimit int) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, ErrInvalidLimit
	}
	if maxLimit > 0 && n > maxLimit {
		return 0, ErrInvalidLimit
	}
	return n, nil
}

// ValidateDate parses an optional day-precision ISO date. Empty input is
// allowed and returns "".
func ValidateDate(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", ErrInvalidDate
	}
	return s, nil
}

// ValidateDateRange parses an optional start/end pair and enforces ordering.
func ValidateDateRange(startInput, endInput string) (start, end string, err error) {
	start, err = ValidateDate(startInput)
	if err != nil {
		return "", "", err
	}
	end, err = ValidateDate(endInput)
	if err != nil {
		return "", "", err
	}
	if start != "" && end != "" && start > end {
		return "", "", ErrInvertedRange
	}
	return start, end, nil
}

// ValidateIDList parses a comma-separated id list (e.g. "1,2,3"), dropping
// duplicates while preserving order.
func ValidateIDList(input string) ([]int64, error) {
	parts := strings.Split(input, ",")
	seen := make(map[int64]struct{}, len(parts))
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := ValidateID(p)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrInvalidID
	}
	return ids, nil
}
