package diary

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pictocal/internal/calendar"
	"pictocal/internal/config"
	"pictocal/internal/images"
	"pictocal/internal/model"
	"pictocal/internal/store"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("tiny")...)

func newService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewJSONFile(filepath.Join(dir, "pictocal_data.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	imgs := images.New(filepath.Join(dir, "images"), 1<<20)
	fixed := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	return New(st, imgs, config.DefaultMonthImages(), WithClock(func() time.Time { return fixed }))
}

func TestAddConfirmDelete(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	key := calendar.NewDateKey(5, 2, 2024)

	if _, err := s.Add(ctx, "anna", key, "   \n\t"); !errors.Is(err, ErrEmptyNote) {
		t.Fatalf("blank Add err = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "anna", key); ok {
		t.Fatal("blank Add stored something")
	}

	if _, err := s.Add(ctx, "anna", key, "dentist"); err != nil {
		t.Fatal(err)
	}
	e, ok, err := s.Get(ctx, "anna", key)
	if err != nil || !ok || e.Content != "dentist" {
		t.Fatalf("Get = %+v, %v, %v", e, ok, err)
	}

	if _, err := s.Confirm(ctx, "anna", key, "dentist at 9"); err != nil {
		t.Fatal(err)
	}
	if e, _, _ := s.Get(ctx, "anna", key); e.Content != "dentist at 9" {
		t.Errorf("after confirm = %q", e.Content)
	}

	// Confirming blank text deletes the note.
	if _, err := s.Confirm(ctx, "anna", key, "  "); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "anna", key); ok {
		t.Error("blank confirm kept the note")
	}

	if _, err := s.Add(ctx, "anna", key, "again"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "anna", key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "anna", key); ok {
		t.Error("Delete kept the note")
	}

	if _, err := s.Add(ctx, "anna", "2024-02-30", "x"); !errors.Is(err, model.ErrInvalidKey) {
		t.Errorf("invalid date err = %v", err)
	}
}

func TestConfirmKeepsDayImage(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	key := calendar.DateKey("2024-03-07")

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	e, err := s.SetDayImage(ctx, "anna", key, uri)
	if err != nil {
		t.Fatalf("SetDayImage: %v", err)
	}
	if !strings.HasPrefix(e.ImageURL, images.URLPrefix) {
		t.Fatalf("data URI not internalized: %q", e.ImageURL)
	}

	if _, err := s.Confirm(ctx, "anna", key, "photo day"); err != nil {
		t.Fatal(err)
	}
	got, _, _ := s.Get(ctx, "anna", key)
	if got.Content != "photo day" || got.ImageURL != e.ImageURL {
		t.Errorf("entry = %+v", got)
	}

	if _, err := s.Confirm(ctx, "anna", key, ""); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := s.Get(ctx, "anna", key)
	if !ok || got.Content != "" || got.ImageURL != e.ImageURL {
		t.Errorf("image should survive a blank confirm: %+v, %v", got, ok)
	}
}

func TestMonthImage(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	d, err := s.Diary(ctx, "anna")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.MonthImage(d, 2024, 0); got != config.DefaultMonthImages()[0] {
		t.Errorf("default January = %q", got)
	}

	if _, err := s.SetMonthImage(ctx, "anna", model.MonthKey(0), "/images/jan.jpg"); err != nil {
		t.Fatal(err)
	}
	ref, err := s.SetMonthImage(ctx, "anna", model.YearMonthKey(2025, 0), "https://example.com/jan25.jpg")
	if err != nil || ref != "https://example.com/jan25.jpg" {
		t.Fatalf("SetMonthImage = %q, %v", ref, err)
	}

	d, _ = s.Diary(ctx, "anna")
	tests := []struct {
		year, month int
		want        string
	}{
		{2024, 0, "/images/jan.jpg"},
		{2025, 0, "https://example.com/jan25.jpg"},
		{2025, 1, config.DefaultMonthImages()[1]},
	}
	for _, tt := range tests {
		if got := s.MonthImage(d, tt.year, tt.month); got != tt.want {
			t.Errorf("MonthImage(%d, %d) = %q, want %q", tt.year, tt.month, got, tt.want)
		}
	}

	if err := s.ClearMonthImage(ctx, "anna", model.MonthKey(0)); err != nil {
		t.Fatal(err)
	}
	d, _ = s.Diary(ctx, "anna")
	if got := s.MonthImage(d, 2024, 0); got != config.DefaultMonthImages()[0] {
		t.Errorf("after clear = %q", got)
	}
}

func TestReplaceAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	snap := model.Snapshot{
		DB: model.NoteMap{
			"2024-12-25": "family",
			"2024-12-26": "   ",
		},
		CustomImages: model.MonthImageMap{
			model.MonthKey(11): "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes),
		},
	}
	d, err := s.Replace(ctx, "anna", snap)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, ok := d.Notes["2024-12-26"]; ok {
		t.Error("blank note was stored")
	}
	if ref := d.Images[model.MonthKey(11)]; !strings.HasPrefix(ref, images.URLPrefix) {
		t.Errorf("December image = %q, want internalized", ref)
	}

	loaded, err := s.Load(ctx, "anna")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DB["2024-12-25"] != "family" || !loaded.ExportDate.Equal(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Load = %+v", loaded)
	}

	bad := model.Snapshot{DB: model.NoteMap{"25/12/2024": "x"}}
	if _, err := s.Replace(ctx, "anna", bad); !errors.Is(err, model.ErrInvalidKey) {
		t.Errorf("bad snapshot err = %v", err)
	}
	if again, _ := s.Load(ctx, "anna"); again.DB["2024-12-25"] != "family" {
		t.Error("rejected snapshot changed the diary")
	}
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	if _, err := s.Add(ctx, "anna", "2024-01-01", "mine"); err != nil {
		t.Fatal(err)
	}

	incoming := model.NoteMap{"2024-01-01": "theirs", "2024-01-02": "new", "2024-01-03": ""}
	n, err := s.Merge(ctx, "anna", incoming, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("written = %d, want 1", n)
	}
	d, _ := s.Diary(ctx, "anna")
	if d.Notes["2024-01-01"] != "mine" || d.Notes["2024-01-02"] != "new" {
		t.Errorf("notes = %v", d.Notes)
	}

	n, err = s.Merge(ctx, "anna", incoming, nil, true)
	if err != nil || n != 2 {
		t.Fatalf("overwrite merge = %d, %v", n, err)
	}
	d, _ = s.Diary(ctx, "anna")
	if d.Notes["2024-01-01"] != "theirs" {
		t.Errorf("overwrite kept %q", d.Notes["2024-01-01"])
	}
}

func TestContentProbe(t *testing.T) {
	notes := model.NoteMap{"2024-03-05": "x"}
	overlay := map[calendar.DateKey][]model.Occurrence{"2024-03-08": {{Summary: "Holiday"}}}
	probe := ContentProbe(notes, overlay)

	cells := calendar.BuildGrid(calendar.Cursor{Year: 2024, Month: 2, Day: 1}, probe)
	var marked []calendar.DateKey
	for _, c := range cells {
		if c.HasContent {
			marked = append(marked, c.Key)
		}
	}
	if len(marked) != 2 || marked[0] != "2024-03-05" || marked[1] != "2024-03-08" {
		t.Errorf("marked = %v", marked)
	}
}
