package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pictocal/internal/calendar"
	"pictocal/internal/model"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(strings.TrimLeft(s, "\n"), "\n", "\r\n"))
}

var feed = crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:holiday-1
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240308
DTEND;VALUE=DATE:20240309
SUMMARY:Women's Day
END:VEVENT
BEGIN:VEVENT
UID:weekly
DTSTAMP:20240101T000000Z
DTSTART:20240304T090000Z
DTEND:20240304T100000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20240311T090000Z
SUMMARY:Standup
DESCRIPTION:Room 4\, second floor
END:VEVENT
BEGIN:VEVENT
UID:weekly
DTSTAMP:20240101T000000Z
RECURRENCE-ID:20240318T090000Z
DTSTART:20240318T140000Z
DTEND:20240318T150000Z
SUMMARY:Standup (moved)
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240320T090000Z
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`)

func march(loc *time.Location) ExpandConfig {
	return ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      time.Date(2024, 3, 1, 0, 0, 0, 0, loc),
		RangeEnd:        time.Date(2024, 4, 1, 0, 0, 0, 0, loc),
	}
}

func TestParse(t *testing.T) {
	events, err := Parse(Source{ID: "test"}, feed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (UID-less event skipped)", len(events))
	}

	holiday := events[0]
	if !holiday.AllDay || holiday.Summary != "Women's Day" {
		t.Errorf("holiday = %+v", holiday)
	}
	weekly := events[1]
	if weekly.RawRRule != "FREQ=WEEKLY;COUNT=4" || len(weekly.ExDates) != 1 {
		t.Errorf("weekly = %+v", weekly)
	}
	if weekly.Description != "Room 4, second floor" {
		t.Errorf("description not unescaped: %q", weekly.Description)
	}
	if ov := events[2]; !ov.IsOverride || ov.Recurrence == nil {
		t.Errorf("override = %+v", ov)
	}

	if _, err := Parse(Source{ID: "empty"}, []byte("  ")); err == nil {
		t.Error("empty body should fail")
	}
}

func TestExpand(t *testing.T) {
	events, err := Parse(Source{ID: "test"}, feed)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Expand(events, march(time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		day     string
		summary string
	}{
		{"2024-03-04", "Standup"},
		{"2024-03-08", "Women's Day"},
		{"2024-03-18", "Standup (moved)"},
		{"2024-03-25", "Standup"},
	}
	if len(res.Occurrences) != len(want) {
		t.Fatalf("got %d occurrences: %+v", len(res.Occurrences), res.Occurrences)
	}
	for i, w := range want {
		o := res.Occurrences[i]
		if got := string(calendar.FromTime(o.Start).Key()); got != w.day || o.Summary != w.summary {
			t.Errorf("occurrence %d = %s %q, want %s %q", i, got, o.Summary, w.day, w.summary)
		}
	}
	if moved := res.Occurrences[2]; moved.Start.Hour() != 14 {
		t.Errorf("override start = %v", moved.Start)
	}

	if _, err := Expand(events, ExpandConfig{RangeStart: time.Now(), RangeEnd: time.Now().Add(-time.Hour)}); err == nil {
		t.Error("inverted range should fail")
	}
}

func TestExpandAllDayKeepsDateInOtherZones(t *testing.T) {
	events, err := Parse(Source{ID: "test"}, feed)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"America/New_York", "Pacific/Auckland"} {
		loc, err := time.LoadLocation(name)
		if err != nil {
			t.Skipf("tz database unavailable: %v", err)
		}
		res, err := Expand(events, march(loc))
		if err != nil {
			t.Fatal(err)
		}
		byDay := GroupByDay(res.Occurrences)
		if got := byDay["2024-03-08"]; len(got) != 1 || got[0].Summary != "Women's Day" {
			t.Errorf("%s: 2024-03-08 = %+v", name, got)
		}
		if got := byDay["2024-03-07"]; len(got) != 0 {
			t.Errorf("%s: all-day event leaked into 2024-03-07", name)
		}
	}
}

func TestExpandCap(t *testing.T) {
	body := crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:daily
DTSTAMP:20240101T000000Z
DTSTART:20240101T080000Z
DTEND:20240101T081500Z
RRULE:FREQ=DAILY
SUMMARY:Pills
END:VEVENT
END:VCALENDAR
`)
	events, err := Parse(Source{ID: "cap"}, body)
	if err != nil {
		t.Fatal(err)
	}
	cfg := march(time.UTC)
	cfg.MaxOccurrencesPerEvent = 10
	res, err := Expand(events, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.TruncatedEvents) != 1 || res.TruncatedEvents[0] != "daily" {
		t.Errorf("TruncatedEvents = %v", res.TruncatedEvents)
	}
	if len(res.Occurrences) > 10 {
		t.Errorf("cap exceeded: %d", len(res.Occurrences))
	}
}

func TestFetcherCaching(t *testing.T) {
	var hits, fail atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		w.Write(feed)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "feed", URL: srv.URL + "/private/token.ics"}
	ctx := context.Background()

	first, err := f.FetchOne(ctx, src)
	if err != nil || first.FromCache || len(first.Body) == 0 {
		t.Fatalf("first fetch = %+v, %v", first.FromCache, err)
	}

	second, err := f.FetchOne(ctx, src)
	if err != nil || !second.FromCache || string(second.Body) != string(feed) {
		t.Fatalf("conditional fetch = %+v, %v", second.FromCache, err)
	}

	fail.Store(1)
	third, err := f.FetchOne(ctx, src)
	if err != nil || !third.FromCache {
		t.Fatalf("fallback fetch = %+v, %v", third.FromCache, err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}

	_, errs := f.FetchAll(ctx, []Source{{ID: "missing", URL: srv.URL + "/other.ics"}})
	if len(errs) != 1 {
		t.Errorf("uncached failing source errs = %v", errs)
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://calendar.example.com/private/abc123/basic.ics?token=x": "https://calendar.example.com/...(redacted)",
		"not a url": "ics://...(redacted)",
	}
	for in, want := range tests {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOverlay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feed)
	}))
	defer srv.Close()

	o := NewOverlay(NewFetcher(t.TempDir(), srv.Client()), []Source{{ID: "holidays", URL: srv.URL}}, time.UTC)
	if !o.Enabled() {
		t.Fatal("overlay with a source should be enabled")
	}
	if err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if o.UpdatedAt().IsZero() {
		t.Error("UpdatedAt not set")
	}

	cells := calendar.BuildGrid(calendar.Cursor{Year: 2024, Month: 2, Day: 1}, nil)
	byDay := o.ForGrid(cells)
	if got := byDay["2024-03-08"]; len(got) != 1 || got[0].SourceID != "holidays" {
		t.Errorf("2024-03-08 = %+v", got)
	}
	if got := byDay["2024-03-11"]; len(got) != 0 {
		t.Errorf("EXDATE instance shown: %+v", got)
	}

	var disabled *Overlay
	if disabled.Enabled() || disabled.Range(time.Now(), time.Now()) != nil {
		t.Error("nil overlay should be disabled")
	}
}

func TestNotesRoundTrip(t *testing.T) {
	notes := model.NoteMap{
		"2024-03-05": "dentist\nbring card",
		"2024-03-06": "gym, then groceries; milk",
		"2024-04-01": "outside the range",
	}
	body, err := ExportNotes(notes, "Pictocal", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExportNotes: %v", err)
	}
	text := string(body)
	for _, want := range []string{"BEGIN:VCALENDAR", "UID:2024-03-05@pictocal", "DTSTART;VALUE=DATE:20240305", "SUMMARY:dentist"} {
		if !strings.Contains(text, want) {
			t.Errorf("export lacks %q:\n%s", want, text)
		}
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	got, err := ImportNotes(body, time.Date(2024, 3, 1, 0, 0, 0, 0, loc), time.Date(2024, 4, 1, 0, 0, 0, 0, loc), loc)
	if err != nil {
		t.Fatalf("ImportNotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("imported %v", got)
	}
	for _, k := range []string{"2024-03-05", "2024-03-06"} {
		if got[calendar.DateKey(k)] != notes[calendar.DateKey(k)] {
			t.Errorf("%s = %q, want %q", k, got[calendar.DateKey(k)], notes[calendar.DateKey(k)])
		}
	}
}

func TestImportJoinsSameDay(t *testing.T) {
	events, err := ImportNotes(feed, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if got := events["2024-03-04"]; got != "Standup\nRoom 4, second floor" {
		t.Errorf("2024-03-04 = %q", got)
	}

	body := crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:a
DTSTAMP:20240101T000000Z
DTSTART:20240305T080000Z
SUMMARY:Breakfast
END:VEVENT
BEGIN:VEVENT
UID:b
DTSTAMP:20240101T000000Z
DTSTART:20240305T180000Z
SUMMARY:Dinner
END:VEVENT
END:VCALENDAR
`)
	notes, err := ImportNotes(body, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if got := notes["2024-03-05"]; got != "Breakfast\nDinner" {
		t.Errorf("joined = %q", got)
	}
}
