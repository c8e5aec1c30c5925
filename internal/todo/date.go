package todo

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ErrDateFormat means the input does not look like YYYY-MM-DD at all.
var ErrDateFormat = errors.New("date must match yyyy-mm-dd")

// Date truncates t to its calendar date in t's own location and returns it
// as UTC midnight, so that dates compare and subtract independent of zones.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns the whole number of calendar days from today to date.
func DaysUntil(today, date time.Time) int {
	return int(Date(date).Sub(Date(today)).Hours() / 24)
}

// ParseDate parses a YYYY-MM-DD deadline. Input that does not match the
// pattern returns ErrDateFormat; input that matches but is not a real
// calendar date (month 13, day 32, Feb 30) returns a parse error.
func ParseDate(s string) (time.Time, error) {
	if !datePattern.MatchString(s) {
		return time.Time{}, ErrDateFormat
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
