package disclosure

import (
	"fmt"
	"regexp"
	"time"
)

// DateLayout is the compact date form used in listing URLs and manifest keys.
const DateLayout = "20060102"

var compactDate = regexp.MustCompile(`^\d{8}$`)

// ParseDate parses a YYYYMMDD string in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if !compactDate.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYYMMDD", ErrInvalidDate, s)
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	return t, nil
}

// FormatDate renders t as YYYYMMDD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Today returns the calendar date of now in loc, truncated to midnight.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DateRange returns every date from start to end inclusive.
func DateRange(start, end time.Time) ([]time.Time, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidDate, FormatDate(end), FormatDate(start))
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}
