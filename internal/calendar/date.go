// Package calendar is the pure calendar engine behind the month view: date
// arithmetic, the fixed 42-cell month grid and the navigation cursor.
//
// Months are 0-based throughout (0 = January … 11 = December) so that month
// offsets compose with plain integer arithmetic. Nothing in this package does
// I/O or holds state; every function is safe to call concurrently.
package calendar

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidDate is returned when a (year, month, day) triple or a DateKey
	// does not name a real calendar day.
	ErrInvalidDate = errors.New("calendar: invalid date")

	// ErrDayOutOfRange is returned by SelectDay when the day does not exist in
	// the displayed month.
	ErrDayOutOfRange = errors.New("calendar: day out of range for month")
)

const (
	// MinYear and MaxYear bound the years a DateKey can represent with a
	// four-digit year field.
	MinYear = 0
	MaxYear = 9999

	keyLayout     = "2006-01-02"
	displayLayout = "02/01/2006"
)

var monthNames = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// MonthName returns the English month name for a 0-based month; out of range
// months are normalized first (-1 -> December).
func MonthName(month int) string {
	_, m := normalizeMonth(0, month)
	return monthNames[m]
}

// normalizeMonth folds any month offset into [0, 11], carrying whole years.
func normalizeMonth(year, month int) (int, int) {
	abs := year*12 + month
	y := floorDiv(abs, 12)
	return y, abs - y*12
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// DaysInMonth returns the number of days of the given 0-based month. Months
// outside [0, 11] resolve to the neighbouring year, so DaysInMonth(2024, -1)
// is December 2023.
func DaysInMonth(year, month int) int {
	y, m := normalizeMonth(year, month)
	// Day 0 of the next month is the last day of this one.
	return time.Date(y, time.Month(m+2), 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsLeapYear reports Gregorian leap years.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// FirstWeekdayOffset returns how many days the first of the month sits after
// Monday (0 = Monday … 6 = Sunday).
func FirstWeekdayOffset(year, month int) int {
	y, m := normalizeMonth(year, month)
	native := int(time.Date(y, time.Month(m+1), 1, 0, 0, 0, 0, time.UTC).Weekday())
	return (native + 6) % 7
}

// ISOWeekNumber returns the ISO-8601 week of the given day. The date is moved
// to the Thursday of its week; the week number is then counted from January 1
// of the Thursday's year. All arithmetic is done on UTC midnights so local DST
// transitions cannot shift the day count.
func ISOWeekNumber(year, month, day int) int {
	t := time.Date(year, time.Month(month+1), day, 0, 0, 0, 0, time.UTC)
	isoWeekday := int(t.Weekday())
	if isoWeekday == 0 {
		isoWeekday = 7
	}
	thursday := t.AddDate(0, 0, 4-isoWeekday)
	yearStart := time.Date(thursday.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	days := thursday.Sub(yearStart).Hours() / 24
	return int(math.Ceil((days + 1) / 7))
}

// DateKey addresses one calendar day in the note and image maps. Its text form
// is YYYY-MM-DD with a 1-based, zero-padded month.
type DateKey string

// NewDateKey formats a key for a 0-based month. It does not validate; use
// Date.Valid or ParseDateKey when the inputs are untrusted.
func NewDateKey(day, month, year int) DateKey {
	return DateKey(fmt.Sprintf("%04d-%02d-%02d", year, month+1, day))
}

// ParseDateKey is the strict inverse of NewDateKey.
func ParseDateKey(s string) (Date, error) {
	if len(s) != len(keyLayout) {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.Parse(keyLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return FromTime(t), nil
}

// Date parses the key.
func (k DateKey) Date() (Date, error) {
	return ParseDateKey(string(k))
}

// Valid reports whether the key is a well-formed key of a real day.
func (k DateKey) Valid() bool {
	_, err := ParseDateKey(string(k))
	return err == nil
}

func (k DateKey) String() string { return string(k) }

// DisplayDate formats a day as DD/MM/YYYY (UK order).
func DisplayDate(day, month, year int) string {
	return fmt.Sprintf("%02d/%02d/%04d", day, month+1, year)
}

// ParseDisplayDate reads DD/MM/YYYY. Single-digit day and month fields are
// accepted since hand-edited CSV files often drop the padding.
func ParseDisplayDate(s string) (Date, error) {
	var d, m, y int
	if _, err := fmt.Sscanf(s, "%d/%d/%d", &d, &m, &y); err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	date := Date{Year: y, Month: m - 1, Day: d}
	if !date.Valid() {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return date, nil
}

// Date is a calendar day with a 0-based month.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// FromTime takes the wall-clock date of t in t's own location.
func FromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()) - 1, Day: t.Day()}
}

// Valid reports whether d is a real day inside the supported year range.
func (d Date) Valid() bool {
	if d.Year < MinYear || d.Year > MaxYear {
		return false
	}
	if d.Month < 0 || d.Month > 11 {
		return false
	}
	return d.Day >= 1 && d.Day <= DaysInMonth(d.Year, d.Month)
}

func (d Date) Key() DateKey {
	return NewDateKey(d.Day, d.Month, d.Year)
}

func (d Date) Display() string {
	return DisplayDate(d.Day, d.Month, d.Year)
}

// Time returns midnight of d in loc (UTC when loc is nil).
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, time.Month(d.Month+1), d.Day, 0, 0, 0, 0, loc)
}

// AddDays moves by whole calendar days, independent of DST.
func (d Date) AddDays(n int) Date {
	return FromTime(d.Time(time.UTC).AddDate(0, 0, n))
}

// ISOWeek is ISOWeekNumber for d.
func (d Date) ISOWeek() int {
	return ISOWeekNumber(d.Year, d.Month, d.Day)
}

func (d Date) String() string { return string(d.Key()) }
