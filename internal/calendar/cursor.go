package calendar

import (
	"fmt"
	"time"
)

// Cursor is the whole navigation state of the month view: the displayed
// month and the selected day inside it.
//
// Transitions return a new Cursor and never touch the receiver. Every
// transition keeps 1 <= Day <= DaysInMonth(Year, Month).
type Cursor struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"selectedDay"`
}

// NewCursor validates an untrusted triple.
func NewCursor(year, month, day int) (Cursor, error) {
	c := Cursor{Year: year, Month: month, Day: day}
	if err := c.Validate(); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// Today is the cursor on now's wall-clock date.
func Today(now time.Time) Cursor {
	d := FromTime(now)
	return Cursor{Year: d.Year, Month: d.Month, Day: d.Day}
}

func (c Cursor) Validate() error {
	if !c.Date().Valid() {
		return fmt.Errorf("%w: year=%d month=%d day=%d", ErrInvalidDate, c.Year, c.Month, c.Day)
	}
	return nil
}

func (c Cursor) mustBeValid() {
	if err := c.Validate(); err != nil {
		panic(err.Error())
	}
}

// Date is the selected day.
func (c Cursor) Date() Date {
	return Date{Year: c.Year, Month: c.Month, Day: c.Day}
}

// Key is the DateKey of the selected day.
func (c Cursor) Key() DateKey {
	return c.Date().Key()
}

// GoToMonth moves offset months and selects day in the target month. day is
// clamped into the target month, so day 31 in February lands on the 28th or
// 29th and day < 1 lands on the 1st.
func (c Cursor) GoToMonth(offset, day int) Cursor {
	y, m := normalizeMonth(c.Year, c.Month+offset)
	next := Cursor{Year: y, Month: m, Day: clamp(day, 1, DaysInMonth(y, m))}
	next.mustBeValid()
	return next
}

// GoToYear moves whole years and selects the 1st.
func (c Cursor) GoToYear(offset int) Cursor {
	return c.GoToMonth(offset*12, 1)
}

// GoToWeek moves the selected day by offset weeks, crossing month and year
// boundaries as needed.
func (c Cursor) GoToWeek(offset int) Cursor {
	d := c.Date().AddDays(offset * weekLength)
	next := Cursor{Year: d.Year, Month: d.Month, Day: d.Day}
	next.mustBeValid()
	return next
}

// SelectDay picks another day of the displayed month.
func (c Cursor) SelectDay(day int) (Cursor, error) {
	if day < 1 || day > DaysInMonth(c.Year, c.Month) {
		return c, fmt.Errorf("%w: %d in %04d-%02d", ErrDayOutOfRange, day, c.Year, c.Month+1)
	}
	return Cursor{Year: c.Year, Month: c.Month, Day: day}, nil
}

// GoToToday jumps to now's date.
func (c Cursor) GoToToday(now time.Time) Cursor {
	return Today(now)
}

// Click applies a click on a grid cell: a filler cell navigates to its month
// and selects its day, a current cell only changes the selection.
func (c Cursor) Click(cell Cell) (Cursor, error) {
	switch cell.Membership {
	case Previous:
		return c.GoToMonth(-1, cell.Day), nil
	case Next:
		return c.GoToMonth(1, cell.Day), nil
	default:
		return c.SelectDay(cell.Day)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
