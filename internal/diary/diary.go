// Package diary implements the note and image operations on top of a Store.
package diary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pictocal/internal/calendar"
	"pictocal/internal/images"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
	"pictocal/internal/store"
)

// ErrEmptyNote is returned by Add for blank text.
var ErrEmptyNote = errors.New("diary: note is empty")

// Service wraps a Store with the diary rules: blank notes are never stored,
// confirming a blank note deletes the day, and inline images are moved into
// the image store.
type Service struct {
	store    store.Store
	images   *images.Store
	defaults []string
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service. defaults are the 12 fallback month images, January
// first; imgs may be nil, in which case inline images are kept inline.
func New(st store.Store, imgs *images.Store, defaults []string, opts ...Option) *Service {
	s := &Service{
		store:    st,
		images:   imgs,
		defaults: defaults,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() store.Store { return s.store }

// Get returns the entry of a day.
func (s *Service) Get(ctx context.Context, owner string, key calendar.DateKey) (model.Entry, bool, error) {
	if !key.Valid() {
		return model.Entry{}, false, fmt.Errorf("%w: %q", model.ErrInvalidKey, key)
	}
	return s.store.GetEntry(ctx, owner, key)
}

// Add stores text for a day, keeping any day image. Blank text is rejected
// and nothing changes.
func (s *Service) Add(ctx context.Context, owner string, key calendar.DateKey, text string) (model.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return model.Entry{}, ErrEmptyNote
	}
	return s.put(ctx, owner, key, text, nil)
}

// Confirm saves the edited text of a day. Blank text deletes the note; a
// day image, if any, stays.
func (s *Service) Confirm(ctx context.Context, owner string, key calendar.DateKey, text string) (model.Entry, error) {
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	return s.put(ctx, owner, key, text, nil)
}

// SetDayImage attaches an image to a day; an empty ref removes it.
func (s *Service) SetDayImage(ctx context.Context, owner string, key calendar.DateKey, ref string) (model.Entry, error) {
	ref, err := s.internalize(ref)
	if err != nil {
		return model.Entry{}, err
	}
	return s.putImage(ctx, owner, key, ref)
}

func (s *Service) putImage(ctx context.Context, owner string, key calendar.DateKey, ref string) (model.Entry, error) {
	cur, _, err := s.Get(ctx, owner, key)
	if err != nil {
		return model.Entry{}, err
	}
	return s.put(ctx, owner, key, cur.Content, &ref)
}

// put writes content and, when image is non-nil, the day image.
func (s *Service) put(ctx context.Context, owner string, key calendar.DateKey, content string, image *string) (model.Entry, error) {
	if !key.Valid() {
		return model.Entry{}, fmt.Errorf("%w: %q", model.ErrInvalidKey, key)
	}
	e := model.Entry{Date: key, Content: content, UpdatedAt: s.now()}
	if image != nil {
		e.ImageURL = *image
	} else {
		cur, _, err := s.store.GetEntry(ctx, owner, key)
		if err != nil {
			return model.Entry{}, err
		}
		e.ImageURL = cur.ImageURL
	}
	if err := s.store.PutEntry(ctx, owner, e); err != nil {
		return model.Entry{}, err
	}
	appLog.Debug("diary entry saved", "owner", owner, "date", key, "length", len(content), "image", e.ImageURL != "")
	return e, nil
}

// Delete removes a day entirely.
func (s *Service) Delete(ctx context.Context, owner string, key calendar.DateKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidKey, key)
	}
	return s.store.DeleteEntry(ctx, owner, key)
}

// SetMonthImage sets a month background. Inline data URIs are stored in the
// image store first.
func (s *Service) SetMonthImage(ctx context.Context, owner string, key model.ImageKey, ref string) (string, error) {
	if ref == "" {
		return "", s.ClearMonthImage(ctx, owner, key)
	}
	ref, err := s.internalize(ref)
	if err != nil {
		return "", err
	}
	if err := s.store.SetMonthImage(ctx, owner, key, ref); err != nil {
		return "", err
	}
	return ref, nil
}

// ClearMonthImage reverts a month to its default background.
func (s *Service) ClearMonthImage(ctx context.Context, owner string, key model.ImageKey) error {
	return s.store.SetMonthImage(ctx, owner, key, "")
}

// MonthImage resolves the background of a month: year-scoped custom image,
// then every-year custom image, then the configured default.
func (s *Service) MonthImage(d *model.Diary, year, month int) string {
	if d != nil {
		if ref, ok := d.Images.Resolve(year, month); ok {
			return ref
		}
	}
	if month >= 0 && month < len(s.defaults) {
		return s.defaults[month]
	}
	return ""
}

// Diary loads an owner's whole diary.
func (s *Service) Diary(ctx context.Context, owner string) (*model.Diary, error) {
	return s.store.Load(ctx, owner)
}

// Load returns the owner's diary as a snapshot stamped with the current time.
func (s *Service) Load(ctx context.Context, owner string) (model.Snapshot, error) {
	d, err := s.store.Load(ctx, owner)
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.NewSnapshot(d, s.now()), nil
}

// Replace validates a snapshot and stores it as the owner's whole diary.
// Inline data:image URIs are moved into the image store and replaced by
// their /images/ URL.
func (s *Service) Replace(ctx context.Context, owner string, snap model.Snapshot) (*model.Diary, error) {
	d, err := snap.Diary()
	if err != nil {
		return nil, err
	}
	for k, ref := range d.Images {
		if d.Images[k], err = s.internalize(ref); err != nil {
			return nil, fmt.Errorf("month image %s: %w", k, err)
		}
	}
	for k, ref := range d.DayImages {
		if d.DayImages[k], err = s.internalize(ref); err != nil {
			return nil, fmt.Errorf("day image %s: %w", k, err)
		}
	}
	// Blank notes never live in the diary.
	for k, text := range d.Notes {
		if strings.TrimSpace(text) == "" {
			delete(d.Notes, k)
		}
	}
	if err := s.store.Save(ctx, owner, d); err != nil {
		return nil, err
	}
	appLog.Info("diary replaced", "owner", owner, "notes", len(d.Notes), "images", len(d.Images))
	return d, nil
}

// Merge adds notes to the owner's diary. Existing days are overwritten
// when overwrite is set and otherwise kept. It returns how many days were
// written.
func (s *Service) Merge(ctx context.Context, owner string, notes model.NoteMap, dayImages model.DayImageMap, overwrite bool) (int, error) {
	d, err := s.store.Load(ctx, owner)
	if err != nil {
		return 0, err
	}
	written := 0
	for k, text := range notes {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if _, exists := d.Notes[k]; exists && !overwrite {
			continue
		}
		d.Notes[k] = text
		written++
	}
	for k, ref := range dayImages {
		if ref == "" {
			continue
		}
		if _, exists := d.DayImages[k]; exists && !overwrite {
			continue
		}
		if d.DayImages[k], err = s.internalize(ref); err != nil {
			return 0, fmt.Errorf("day image %s: %w", k, err)
		}
	}
	if err := s.store.Save(ctx, owner, d); err != nil {
		return 0, err
	}
	return written, nil
}

// internalize stores data URIs in the image store. Other references pass
// through unchanged.
func (s *Service) internalize(ref string) (string, error) {
	if s.images == nil || !strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	r, err := s.images.PutDataURI(ref)
	if err != nil {
		return "", err
	}
	return r.URL, nil
}

// ContentProbe reports a day as having content when it has a note or an
// overlay event.
func ContentProbe(notes model.NoteMap, overlay map[calendar.DateKey][]model.Occurrence) calendar.ContentProbe {
	return func(k calendar.DateKey) bool {
		if notes.Has(k) {
			return true
		}
		return len(overlay[k]) > 0
	}
}
