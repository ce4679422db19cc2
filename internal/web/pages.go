package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"pictocal/internal/calendar"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"membership": func(m calendar.Membership) string { return m.String() },
}).ParseFS(templateFS, "templates/*.html"))

var weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

type cellView struct {
	calendar.Cell
	Note    string
	Events  int
	IsToday bool
	Link    string
}

type gridRow struct {
	Week  int
	Cells []cellView
}

type pageData struct {
	monthView
	Print     bool
	Weekdays  []string
	Rows      []gridRow
	PrevMonth string
	NextMonth string
	PrevYear  string
	NextYear  string
	TodayLink string
	Owner     string
}

func cursorLink(path string, c calendar.Cursor) string {
	q := url.Values{}
	q.Set("year", strconv.Itoa(c.Year))
	q.Set("month", strconv.Itoa(c.Month))
	q.Set("day", strconv.Itoa(c.Day))
	return path + "?" + q.Encode()
}

// moveLink links to the month offset months away, or is empty when that
// month is outside the calendar.
func moveLink(path string, c calendar.Cursor, offset int) string {
	if checkMonthOffset(c, offset) != nil {
		return ""
	}
	return cursorLink(path, c.GoToMonth(offset, 1))
}

func (s *Server) newPageData(v monthView, path string, print bool, who string) pageData {
	p := pageData{
		monthView: v,
		Print:     print,
		Weekdays:  weekdays,
		PrevMonth: moveLink(path, v.Cursor, -1),
		NextMonth: moveLink(path, v.Cursor, 1),
		PrevYear:  moveLink(path, v.Cursor, -12),
		NextYear:  moveLink(path, v.Cursor, 12),
		TodayLink: path,
		Owner:     who,
	}
	for i, week := range v.Weeks {
		row := gridRow{Week: week}
		for _, c := range v.Cells[i*7 : i*7+7] {
			cv := cellView{
				Cell:    c,
				Note:    v.Notes[c.Key],
				Events:  len(v.Overlay[c.Key]),
				IsToday: c.Key == v.Today,
			}
			cv.Link = cursorLink(path, calendar.Cursor{Year: c.Year, Month: c.Month, Day: c.Day})
			row.Cells = append(row.Cells, cv)
		}
		p.Rows = append(p.Rows, row)
	}
	return p
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, print bool) {
	cur, err := s.cursorFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	who := owner(r)
	v, err := s.buildView(r.Context(), who, cur)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	path := "/"
	if print {
		path = "/print"
	}

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "month.html", s.newPageData(v, path, print, who)); err != nil {
		writeErr(w, r, fmt.Errorf("render month page: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, false)
}

// handlePrint renders the month without controls, for the browser export.
func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, true)
}
