package web

import (
	"context"
	"net/http"
	"time"

	"pictocal/internal/calendar"
	"pictocal/internal/diary"
	"pictocal/internal/model"
)

// monthView is everything the month page needs for one cursor.
type monthView struct {
	Cursor      calendar.Cursor    `json:"cursor"`
	MonthName   string             `json:"monthName"`
	DisplayDate string             `json:"displayDate"`
	ISOWeek     int                `json:"isoWeek"`
	Today       calendar.DateKey   `json:"today"`
	Cells       []calendar.Cell    `json:"cells"`
	Weeks       []int              `json:"weeks"`
	MonthImage  string             `json:"monthImage"`
	Entry       *model.Entry       `json:"entry"`
	Events      []model.Occurrence `json:"events"`

	// Overlay holds the overlay events of every grid day; the page uses it,
	// the JSON API leaves it out.
	Overlay map[calendar.DateKey][]model.Occurrence `json:"-"`
	Notes   model.NoteMap                           `json:"-"`
}

// buildView assembles the month view of cur for owner.
func (s *Server) buildView(ctx context.Context, owner string, cur calendar.Cursor) (monthView, error) {
	d, err := s.deps.Diary.Diary(ctx, owner)
	if err != nil {
		return monthView{}, err
	}

	var overlay map[calendar.DateKey][]model.Occurrence
	if s.deps.Overlay.Enabled() {
		overlay = s.deps.Overlay.ForGrid(calendar.BuildGrid(cur, nil))
	}
	cells := calendar.BuildGrid(cur, diary.ContentProbe(d.Notes, overlay))

	v := monthView{
		Cursor:      cur,
		MonthName:   calendar.MonthName(cur.Month),
		DisplayDate: cur.Date().Display(),
		ISOWeek:     cur.Date().ISOWeek(),
		Today:       calendar.Today(s.today()).Key(),
		Cells:       cells,
		Weeks:       calendar.WeekNumbers(cells),
		MonthImage:  s.deps.Diary.MonthImage(d, cur.Year, cur.Month),
		Events:      overlay[cur.Key()],
		Overlay:     overlay,
		Notes:       d.Notes,
	}
	if e, ok := d.Entry(cur.Key()); ok {
		v.Entry = &e
	}
	if v.Events == nil {
		v.Events = []model.Occurrence{}
	}
	return v, nil
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	cur, err := s.cursorFromQuery(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	v, err := s.buildView(r.Context(), owner(r), cur)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// navigateRequest is the body of POST /api/calendar/navigate.
type navigateRequest struct {
	Cursor calendar.Cursor `json:"cursor"`
	// Action is one of month, year, week, select, today, click.
	Action string `json:"action"`
	Offset int    `json:"offset"`
	// Day is the target day for month (default 1), select and click.
	Day        int                 `json:"day"`
	Membership calendar.Membership `json:"membership"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(w, r, 4<<10, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	next, err := s.navigate(req, s.today())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	v, err := s.buildView(r.Context(), owner(r), next)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// navigate applies one transition to an untrusted cursor. The cursor and
// the target month are checked before the engine sees them.
func (s *Server) navigate(req navigateRequest, now time.Time) (calendar.Cursor, error) {
	cur := req.Cursor
	if err := cur.Validate(); err != nil {
		return calendar.Cursor{}, err
	}

	switch req.Action {
	case "month":
		day := req.Day
		if day == 0 {
			day = 1
		}
		if err := checkMonthOffset(cur, req.Offset); err != nil {
			return calendar.Cursor{}, err
		}
		return cur.GoToMonth(req.Offset, day), nil
	case "year":
		if err := checkMonthOffset(cur, req.Offset*12); err != nil {
			return calendar.Cursor{}, err
		}
		return cur.GoToYear(req.Offset), nil
	case "week":
		target := cur.Date().AddDays(req.Offset * 7)
		if !target.Valid() {
			return calendar.Cursor{}, badRequest("week offset %d leaves the calendar", req.Offset)
		}
		return cur.GoToWeek(req.Offset), nil
	case "select":
		return cur.SelectDay(req.Day)
	case "today":
		return cur.GoToToday(now), nil
	case "click":
		if err := checkMonthOffset(cur, int(req.Membership)); err != nil {
			return calendar.Cursor{}, err
		}
		return cur.Click(calendar.Cell{Day: req.Day, Membership: req.Membership})
	default:
		return calendar.Cursor{}, badRequest("unknown action %q", req.Action)
	}
}

// checkMonthOffset rejects moves past the supported years.
func checkMonthOffset(cur calendar.Cursor, offset int) error {
	abs := cur.Year*12 + cur.Month + offset
	if abs < calendar.MinYear*12 || abs > calendar.MaxYear*12+11 {
		return badRequest("offset %d leaves the calendar", offset)
	}
	return nil
}
