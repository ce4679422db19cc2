package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pictocal/internal/auth"
	"pictocal/internal/calendar"
	"pictocal/internal/capture"
	"pictocal/internal/config"
	"pictocal/internal/diary"
	"pictocal/internal/images"
	"pictocal/internal/model"
	"pictocal/internal/store"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("not really pixels")...)

var fixedNow = time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC)

type fakeRenderer struct {
	mu   sync.Mutex
	opts []capture.Options
	err  error
}

func (f *fakeRenderer) RenderPDF(_ context.Context, opts capture.Options) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	return []byte("%PDF-1.7 fake"), f.err
}

func (f *fakeRenderer) CapturePNG(_ context.Context, opts capture.Options) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	return pngBytes, f.err
}

type testEnv struct {
	t        *testing.T
	handler  http.Handler
	renderer *fakeRenderer
}

var (
	hashOnce sync.Once
	annaHash string
	benHash  string
)

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	hashOnce.Do(func() {
		var err error
		if annaHash, err = auth.HashPassword("anna-pw"); err != nil {
			t.Fatal(err)
		}
		if benHash, err = auth.HashPassword("ben-pw"); err != nil {
			t.Fatal(err)
		}
	})

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.DataDir = dir
	cfg.Images.MaxUploadMB = 1
	cfg.Auth.Users = []config.User{
		{Username: "anna", PasswordHash: annaHash},
		{Username: "ben", PasswordHash: benHash},
	}

	st, err := store.NewSQLite(filepath.Join(dir, "pictocal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	imgs := images.New(filepath.Join(dir, "images"), cfg.MaxUploadBytes())
	clock := func() time.Time { return fixedNow }
	svc := diary.New(st, imgs, cfg.Images.Defaults, diary.WithClock(clock))

	r := &fakeRenderer{}
	srv := NewServer(cfg, Deps{
		Diary:    svc,
		Images:   imgs,
		Auth:     auth.New(cfg.Auth),
		Renderer: r,
		Now:      clock,
	})
	return &testEnv{t: t, handler: srv.Handler(), renderer: r}
}

// do sends a request as user ("" for anonymous) and returns the recorder.
func (e *testEnv) do(user, method, target string, body io.Reader) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, target, body)
	if user != "" {
		req.SetBasicAuth(user, user+"-pw")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(user, method, target string, v any) *httptest.ResponseRecorder {
	e.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		e.t.Fatal(err)
	}
	return e.do(user, method, target, bytes.NewReader(data))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndAuth(t *testing.T) {
	env := newEnv(t)

	rec := env.do("", http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	if rec := env.do("", http.MethodGet, "/api/calendar", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous /api/calendar = %d", rec.Code)
	}
	if rec := env.do("anna", http.MethodGet, "/api/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown api path = %d", rec.Code)
	}
}

func TestCalendarView(t *testing.T) {
	env := newEnv(t)

	rec := env.do("anna", http.MethodGet, "/api/calendar", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	v := decode[monthView](t, rec)
	if v.Cursor != (calendar.Cursor{Year: 2024, Month: 2, Day: 6}) {
		t.Errorf("default cursor = %+v", v.Cursor)
	}
	if len(v.Cells) != calendar.GridSize || len(v.Weeks) != 6 {
		t.Errorf("cells = %d, weeks = %d", len(v.Cells), len(v.Weeks))
	}
	if v.MonthName != "March" || v.DisplayDate != "06/03/2024" || v.ISOWeek != 10 || v.Today != "2024-03-06" {
		t.Errorf("view = %+v", v)
	}
	if v.MonthImage != "/static/months/Mar.svg" {
		t.Errorf("MonthImage = %q", v.MonthImage)
	}
	if v.Entry != nil {
		t.Errorf("Entry = %+v", v.Entry)
	}

	leap := decode[monthView](t, env.do("anna", http.MethodGet, "/api/calendar?year=2024&month=1&day=29", nil))
	if leap.DisplayDate != "29/02/2024" {
		t.Errorf("leap day view = %+v", leap.Cursor)
	}

	for _, q := range []string{"year=2023&month=1&day=29", "year=x", "year=2024&month=12&day=1"} {
		if rec := env.do("anna", http.MethodGet, "/api/calendar?"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, rec.Code)
		}
	}
}

func TestNavigate(t *testing.T) {
	env := newEnv(t)
	jan31 := calendar.Cursor{Year: 2024, Month: 0, Day: 31}

	tests := []struct {
		name       string
		req        map[string]any
		wantStatus int
		want       calendar.Cursor
	}{
		{"next month selects the 1st", map[string]any{"cursor": jan31, "action": "month", "offset": 1}, 200, calendar.Cursor{Year: 2024, Month: 1, Day: 1}},
		{"next month across the year", map[string]any{"cursor": calendar.Cursor{Year: 2024, Month: 11, Day: 31}, "action": "month", "offset": 1}, 200, calendar.Cursor{Year: 2025, Month: 0, Day: 1}},
		{"month with day clamps", map[string]any{"cursor": jan31, "action": "month", "offset": 1, "day": 31}, 200, calendar.Cursor{Year: 2024, Month: 1, Day: 29}},
		{"month with day", map[string]any{"cursor": jan31, "action": "month", "offset": -1, "day": 15}, 200, calendar.Cursor{Year: 2023, Month: 11, Day: 15}},
		{"next year", map[string]any{"cursor": jan31, "action": "year", "offset": 1}, 200, calendar.Cursor{Year: 2025, Month: 0, Day: 1}},
		{"week forward", map[string]any{"cursor": jan31, "action": "week", "offset": 1}, 200, calendar.Cursor{Year: 2024, Month: 1, Day: 7}},
		{"select", map[string]any{"cursor": jan31, "action": "select", "day": 2}, 200, calendar.Cursor{Year: 2024, Month: 0, Day: 2}},
		{"select out of range", map[string]any{"cursor": calendar.Cursor{Year: 2024, Month: 1, Day: 1}, "action": "select", "day": 30}, 400, calendar.Cursor{}},
		{"today", map[string]any{"cursor": jan31, "action": "today"}, 200, calendar.Cursor{Year: 2024, Month: 2, Day: 6}},
		{"click previous filler", map[string]any{"cursor": calendar.Cursor{Year: 2024, Month: 2, Day: 1}, "action": "click", "day": 26, "membership": "previous"}, 200, calendar.Cursor{Year: 2024, Month: 1, Day: 26}},
		{"click current", map[string]any{"cursor": jan31, "action": "click", "day": 9, "membership": "current"}, 200, calendar.Cursor{Year: 2024, Month: 0, Day: 9}},
		{"invalid cursor", map[string]any{"cursor": calendar.Cursor{Year: 2023, Month: 1, Day: 29}, "action": "today"}, 400, calendar.Cursor{}},
		{"past the last year", map[string]any{"cursor": calendar.Cursor{Year: calendar.MaxYear, Month: 11, Day: 1}, "action": "month", "offset": 1}, 400, calendar.Cursor{}},
		{"unknown action", map[string]any{"cursor": jan31, "action": "jump"}, 400, calendar.Cursor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON("anna", http.MethodPost, "/api/calendar/navigate", tt.req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if got := decode[monthView](t, rec).Cursor; got != tt.want {
				t.Errorf("cursor = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEntryLifecycle(t *testing.T) {
	env := newEnv(t)
	path := "/api/entries/2024-03-05"

	if rec := env.doJSON("anna", http.MethodPost, path, map[string]string{"content": "  ", "mode": "add"}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank add = %d", rec.Code)
	}
	if rec := env.doJSON("anna", http.MethodPost, "/api/entries/2024-02-30", map[string]string{"content": "x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d", rec.Code)
	}

	rec := env.doJSON("anna", http.MethodPost, path, map[string]string{"content": "dentist at 9"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d: %s", rec.Code, rec.Body.String())
	}
	if e := decode[model.Entry](t, rec); e.Content != "dentist at 9" || e.Date != "2024-03-05" {
		t.Errorf("saved entry = %+v", e)
	}

	if e := decode[*model.Entry](t, env.do("anna", http.MethodGet, path, nil)); e == nil || e.Content != "dentist at 9" {
		t.Errorf("GET entry = %+v", e)
	}
	// Owners are isolated.
	if rec := env.do("ben", http.MethodGet, path, nil); strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("ben sees %s", rec.Body.String())
	}

	v := decode[monthView](t, env.do("anna", http.MethodGet, "/api/calendar?year=2024&month=2&day=5", nil))
	if v.Entry == nil || v.Entry.Content != "dentist at 9" {
		t.Errorf("view entry = %+v", v.Entry)
	}
	for _, c := range v.Cells {
		if c.Key == "2024-03-05" && !c.HasContent {
			t.Error("cell without content flag")
		}
		if c.Key == "2024-03-04" && c.HasContent {
			t.Error("empty day flagged")
		}
	}

	// Blank confirm deletes.
	if rec := env.doJSON("anna", http.MethodPost, path, map[string]string{"content": "", "mode": "confirm"}); strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("blank confirm = %d %s", rec.Code, rec.Body.String())
	}

	env.doJSON("anna", http.MethodPost, path, map[string]string{"content": "again"})
	if rec := env.do("anna", http.MethodDelete, path, nil); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d", rec.Code)
	}
	if rec := env.do("anna", http.MethodGet, path, nil); strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("after delete = %s", rec.Body.String())
	}
}

func TestStorageRoundTrip(t *testing.T) {
	env := newEnv(t)

	if rec := env.do("anna", http.MethodGet, "/api/storage", nil); rec.Code != http.StatusNotFound {
		t.Errorf("empty storage = %d", rec.Code)
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	body := `{"db": {"2024-03-01": "hello", "2024-03-02": "  "},
		"customImages": {"0": "` + dataURI + `", "2024-03": "https://example.com/march.jpg"},
		"exportDate": "2024-03-06T09:00:00Z"}`
	rec := env.do("anna", http.MethodPost, "/api/storage", strings.NewReader(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST storage = %d: %s", rec.Code, rec.Body.String())
	}

	snap := decode[model.Snapshot](t, env.do("anna", http.MethodGet, "/api/storage", nil))
	if len(snap.DB) != 1 || snap.DB["2024-03-01"] != "hello" {
		t.Errorf("DB = %v", snap.DB)
	}
	jan := snap.CustomImages[model.MonthKey(0)]
	key, ok := images.KeyFromURL(jan)
	if !ok {
		t.Fatalf("data URI not internalized: %q", jan)
	}

	img := env.do("anna", http.MethodGet, "/images/"+key, nil)
	if img.Code != http.StatusOK || img.Header().Get("Content-Type") != "image/png" || !bytes.Equal(img.Body.Bytes(), pngBytes) {
		t.Errorf("GET image = %d %s", img.Code, img.Header().Get("Content-Type"))
	}

	v := decode[monthView](t, env.do("anna", http.MethodGet, "/api/calendar?year=2024&month=2&day=1", nil))
	if v.MonthImage != "https://example.com/march.jpg" {
		t.Errorf("year-scoped image = %q", v.MonthImage)
	}

	bad := `{"db": {"2024-13-01": "x"}, "customImages": {}}`
	if rec := env.do("anna", http.MethodPost, "/api/storage", strings.NewReader(bad)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad snapshot = %d", rec.Code)
	}
}

func TestUploadAndMonthImage(t *testing.T) {
	env := newEnv(t)

	rec := env.do("anna", http.MethodPost, "/api/upload?filename=cat.png", bytes.NewReader(pngBytes))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	ref := decode[images.Ref](t, rec)
	if ref.ContentType != "image/png" || !strings.HasPrefix(ref.URL, "/images/") {
		t.Errorf("ref = %+v", ref)
	}

	if rec := env.do("anna", http.MethodPost, "/api/upload", strings.NewReader("plain text")); rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text upload = %d", rec.Code)
	}
	huge := append(append([]byte{}, pngBytes...), make([]byte, 1<<20)...)
	if rec := env.do("anna", http.MethodPost, "/api/upload", bytes.NewReader(huge)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("huge upload = %d", rec.Code)
	}

	if rec := env.doJSON("anna", http.MethodPut, "/api/images/1", map[string]string{"url": ref.URL}); rec.Code != http.StatusOK {
		t.Fatalf("PUT month image = %d: %s", rec.Code, rec.Body.String())
	}
	v := decode[monthView](t, env.do("anna", http.MethodGet, "/api/calendar?year=2030&month=1&day=1", nil))
	if v.MonthImage != ref.URL {
		t.Errorf("every-year image = %q", v.MonthImage)
	}

	if rec := env.do("anna", http.MethodDelete, "/api/images/1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE month image = %d", rec.Code)
	}
	v = decode[monthView](t, env.do("anna", http.MethodGet, "/api/calendar?year=2030&month=1&day=1", nil))
	if v.MonthImage != "/static/months/Feb.svg" {
		t.Errorf("after reset = %q", v.MonthImage)
	}

	if rec := env.doJSON("anna", http.MethodPut, "/api/images/13", map[string]string{"url": ref.URL}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad image key = %d", rec.Code)
	}
	if rec := env.do("anna", http.MethodGet, "/images/../../etc/passwd", nil); rec.Code == http.StatusOK {
		t.Error("path traversal served")
	}
}

func TestCSVRoundTrip(t *testing.T) {
	env := newEnv(t)
	env.doJSON("anna", http.MethodPost, "/api/entries/2024-03-05", map[string]string{"content": "dentist, 9am"})

	rec := env.do("anna", http.MethodGet, "/api/export/csv", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("export csv = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), `05/03/2024,"dentist, 9am",,`) {
		t.Errorf("csv body = %q", rec.Body.String())
	}

	rec = env.do("ben", http.MethodPost, "/api/import/csv", strings.NewReader(rec.Body.String()+"99/99/2024,bad,,\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("import csv = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[map[string]int](t, rec)
	if got["imported"] != 1 || got["skipped"] != 1 {
		t.Errorf("import result = %v", got)
	}
	if e := decode[*model.Entry](t, env.do("ben", http.MethodGet, "/api/entries/2024-03-05", nil)); e == nil || e.Content != "dentist, 9am" {
		t.Errorf("ben's imported entry = %+v", e)
	}
}

func TestICSRoundTrip(t *testing.T) {
	env := newEnv(t)
	env.doJSON("anna", http.MethodPost, "/api/entries/2024-03-05", map[string]string{"content": "dentist\nbring card"})

	rec := env.do("anna", http.MethodGet, "/api/export/ics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "UID:2024-03-05@pictocal") {
		t.Fatalf("export ics = %d %s", rec.Code, rec.Body.String())
	}

	imp := env.do("ben", http.MethodPost, "/api/import/ics?year=2024", strings.NewReader(rec.Body.String()))
	if imp.Code != http.StatusOK {
		t.Fatalf("import ics = %d: %s", imp.Code, imp.Body.String())
	}
	if e := decode[*model.Entry](t, env.do("ben", http.MethodGet, "/api/entries/2024-03-05", nil)); e == nil || e.Content != "dentist\nbring card" {
		t.Errorf("ben's imported entry = %+v", e)
	}

	if rec := env.do("ben", http.MethodPost, "/api/import/ics", strings.NewReader("")); rec.Code != http.StatusBadRequest {
		t.Errorf("empty import = %d", rec.Code)
	}
}

func TestExportRender(t *testing.T) {
	env := newEnv(t)

	rec := env.do("anna", http.MethodGet, "/api/export/pdf?year=2024&month=2&day=6", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf = %d: %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Pictocal-March-2024.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	opts := env.renderer.opts[0]
	if opts.Username != "anna" || opts.Password != "anna-pw" {
		t.Errorf("credentials not passed through: %+v", opts)
	}
	if opts.Cursor != (calendar.Cursor{Year: 2024, Month: 2, Day: 6}) || opts.BaseURL == "" {
		t.Errorf("options = %+v", opts)
	}

	if rec := env.do("anna", http.MethodGet, "/api/export/png", nil); rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("png = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	env.renderer.err = errors.New("no chrome")
	if rec := env.do("anna", http.MethodGet, "/api/export/pdf", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("failing renderer = %d", rec.Code)
	}
}

func TestPages(t *testing.T) {
	env := newEnv(t)
	env.doJSON("anna", http.MethodPost, "/api/entries/2024-03-05", map[string]string{"content": "<b>dentist</b>"})

	rec := env.do("anna", http.MethodGet, "/?year=2024&month=2&day=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("index = %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{`data-ready="true"`, "March 2024", "/static/months/Mar.svg", "&lt;b&gt;dentist&lt;/b&gt;", "/static/app.js"} {
		if !strings.Contains(body, want) {
			t.Errorf("index lacks %q", want)
		}
	}

	rec = env.do("anna", http.MethodGet, "/print?year=2024&month=2&day=5", nil)
	body = rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, `data-ready="true"`) || strings.Contains(body, "app.js") {
		t.Errorf("print = %d", rec.Code)
	}
	if !strings.Contains(body, "&lt;b&gt;dentist&lt;/b&gt;") {
		t.Error("print view lacks the note")
	}

	if rec := env.do("anna", http.MethodGet, "/?year=2024&month=1&day=30", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad page cursor = %d", rec.Code)
	}
	if rec := env.do("anna", http.MethodGet, "/static/style.css", nil); rec.Code != http.StatusOK {
		t.Errorf("static = %d", rec.Code)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calendar.BuildGrid(calendar.Cursor{Year: 2024, Month: 1, Day: 30}, nil)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["error"] != "internal error" {
		t.Errorf("body = %v", got)
	}
}
