package calendar

import "fmt"

// GridSize is the fixed number of cells in a month grid: 6 rows of 7 days.
const GridSize = 42

const weekLength = 7

// Membership tags which month a cell's day number belongs to, relative to the
// displayed month.
type Membership int

const (
	Previous Membership = iota - 1
	Current
	Next
)

func (m Membership) String() string {
	switch m {
	case Previous:
		return "previous"
	case Current:
		return "current"
	case Next:
		return "next"
	default:
		return fmt.Sprintf("membership(%d)", int(m))
	}
}

func (m Membership) MarshalText() ([]byte, error) {
	switch m {
	case Previous, Current, Next:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("calendar: unknown membership %d", int(m))
}

func (m *Membership) UnmarshalText(b []byte) error {
	switch string(b) {
	case "previous", "prev":
		*m = Previous
	case "current", "curr", "":
		*m = Current
	case "next":
		*m = Next
	default:
		return fmt.Errorf("calendar: unknown membership %q", string(b))
	}
	return nil
}

// Cell is one position of the month grid. Cells are rebuilt on every render
// and carry no identity between builds.
type Cell struct {
	Day        int        `json:"day"`
	Membership Membership `json:"membership"`
	HasContent bool       `json:"hasContent"`
	IsSelected bool       `json:"isSelected"`

	// Year and Month are the absolute month the day belongs to.
	Year  int     `json:"year"`
	Month int     `json:"month"`
	Key   DateKey `json:"key"`
}

// Date returns the absolute day of the cell.
func (c Cell) Date() Date {
	return Date{Year: c.Year, Month: c.Month, Day: c.Day}
}

// ContentProbe reports whether a day has something to show (a note, an
// overlay event). A nil probe means "nothing anywhere".
type ContentProbe func(DateKey) bool

// BuildGrid lays out the Monday-start grid for the cursor's month: the tail of
// the previous month, every day of the current month, then the head of the
// next month until GridSize cells exist.
//
// The cursor must be valid; callers validate untrusted cursors with
// Cursor.Validate first. An invalid cursor or an impossible layout panics.
func BuildGrid(cur Cursor, probe ContentProbe) []Cell {
	cur.mustBeValid()

	offset := FirstWeekdayOffset(cur.Year, cur.Month)
	current := DaysInMonth(cur.Year, cur.Month)
	trailing := GridSize - (offset + current)
	if trailing < 0 {
		panic(fmt.Sprintf("calendar: month %04d-%02d needs %d cells, grid has %d",
			cur.Year, cur.Month+1, offset+current, GridSize))
	}

	prevYear, prevMonth := normalizeMonth(cur.Year, cur.Month-1)
	nextYear, nextMonth := normalizeMonth(cur.Year, cur.Month+1)
	prevDays := DaysInMonth(cur.Year, cur.Month-1)

	cells := make([]Cell, 0, GridSize)
	add := func(day int, m Membership, year, month int) {
		key := NewDateKey(day, month, year)
		cells = append(cells, Cell{
			Day:        day,
			Membership: m,
			HasContent: probe != nil && probe(key),
			IsSelected: m == Current && day == cur.Day,
			Year:       year,
			Month:      month,
			Key:        key,
		})
	}

	for i := 0; i < offset; i++ {
		add(prevDays-offset+1+i, Previous, prevYear, prevMonth)
	}
	for day := 1; day <= current; day++ {
		add(day, Current, cur.Year, cur.Month)
	}
	for day := 1; day <= trailing; day++ {
		add(day, Next, nextYear, nextMonth)
	}
	return cells
}

// WeekNumbers returns the ISO week of every grid row, read from the row's
// Monday cell.
func WeekNumbers(cells []Cell) []int {
	weeks := make([]int, 0, len(cells)/weekLength)
	for i := 0; i+weekLength <= len(cells); i += weekLength {
		c := cells[i]
		weeks = append(weeks, ISOWeekNumber(c.Year, c.Month, c.Day))
	}
	return weeks
}
