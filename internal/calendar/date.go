// Package calendar provides the civil-date arithmetic used by the reading plan.
//
// All functions work on calendar days in a given location rather than on
// elapsed 24-hour blocks, so a plan started at 23:50 and a date checked at
// 00:10 the next morning are one day apart.
package calendar

import (
	"time"
)

// DateLayout is the YYYY-MM-DD layout used on the wire and on the command line.
const DateLayout = "2006-01-02"

// ParseDateString parses a date string in YYYY-MM-DD format
func ParseDateString(dateStr string) (time.Time, error) {
	return time.Parse(DateLayout, dateStr)
}

// ParseDateIn parses a YYYY-MM-DD date as midnight in loc.
func ParseDateIn(dateStr string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, dateStr, loc)
}

// FormatDate formats a date as YYYY-MM-DD
func FormatDate(date time.Time) string {
	return date.Format(DateLayout)
}

// civil returns the UTC midnight carrying the same year/month/day that t has in loc.
func civil(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from start to end in loc.
// The result is negative when end falls on an earlier day than start.
func DaysBetween(start, end time.Time, loc *time.Location) int {
	// Both values are UTC midnights, so the difference is an exact multiple of 24h.
	return int(civil(end, loc).Sub(civil(start, loc)).Hours() / 24)
}

// AddDays moves t by n calendar days in loc, keeping the wall-clock time.
func AddDays(t time.Time, n int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).AddDate(0, 0, n)
}

// IsLeapDay reports whether t falls on February 29 in loc.
func IsLeapDay(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	_, m, d := t.In(loc).Date()
	return m == time.February && d == 29
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
