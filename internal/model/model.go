package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pictocal/internal/calendar"
)

// ErrInvalidKey marks a map key that is not a DateKey or ImageKey.
var ErrInvalidKey = errors.New("model: invalid key")

// ErrInvalidImageRef marks an image reference with an unsupported scheme.
var ErrInvalidImageRef = errors.New("model: invalid image reference")

// NoteMap holds the diary text of each day.
type NoteMap map[calendar.DateKey]string

// Has implements calendar.ContentProbe.
func (n NoteMap) Has(k calendar.DateKey) bool {
	_, ok := n[k]
	return ok
}

// Clone returns an independent copy.
func (n NoteMap) Clone() NoteMap {
	out := make(NoteMap, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// DayImageMap holds an optional image URL per day.
type DayImageMap map[calendar.DateKey]string

// ImageKey addresses a month background image. Year 0 means "this month in
// every year". The text form is "M" (0-based month) for every-year keys and
// "YYYY-MM" (1-based month) for year-scoped ones.
type ImageKey struct {
	Year  int
	Month int
}

// MonthKey is the every-year key for a 0-based month.
func MonthKey(month int) ImageKey { return ImageKey{Month: month} }

// YearMonthKey is the key for one specific month.
func YearMonthKey(year, month int) ImageKey { return ImageKey{Year: year, Month: month} }

func (k ImageKey) String() string {
	if k.Year == 0 {
		return strconv.Itoa(k.Month)
	}
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month+1)
}

// ParseImageKey reads either text form.
func ParseImageKey(s string) (ImageKey, error) {
	s = strings.TrimSpace(s)
	if y, m, ok := strings.Cut(s, "-"); ok {
		year, errY := strconv.Atoi(y)
		month, errM := strconv.Atoi(m)
		if errY != nil || errM != nil || len(y) != 4 || len(m) != 2 ||
			year < 1 || year > calendar.MaxYear || month < 1 || month > 12 {
			return ImageKey{}, fmt.Errorf("%w: image key %q", ErrInvalidKey, s)
		}
		return ImageKey{Year: year, Month: month - 1}, nil
	}
	month, err := strconv.Atoi(s)
	if err != nil || month < 0 || month > 11 {
		return ImageKey{}, fmt.Errorf("%w: image key %q", ErrInvalidKey, s)
	}
	return ImageKey{Month: month}, nil
}

func (k ImageKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ImageKey) UnmarshalText(b []byte) error {
	parsed, err := ParseImageKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MonthImageMap holds custom background images.
type MonthImageMap map[ImageKey]string

// Resolve returns the custom image for a month: the year-scoped entry wins
// over the every-year one.
func (m MonthImageMap) Resolve(year, month int) (string, bool) {
	if ref, ok := m[YearMonthKey(year, month)]; ok && ref != "" {
		return ref, true
	}
	if ref, ok := m[MonthKey(month)]; ok && ref != "" {
		return ref, true
	}
	return "", false
}

// ValidateImageRef accepts site paths, http(s) URLs and inline image data URIs.
func ValidateImageRef(ref string) error {
	switch {
	case ref == "":
		return fmt.Errorf("%w: empty", ErrInvalidImageRef)
	case strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//"):
		return nil
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return nil
	case strings.HasPrefix(ref, "data:image/"):
		return nil
	}
	return fmt.Errorf("%w: %.40q", ErrInvalidImageRef, ref)
}

// Diary is everything one owner keeps.
type Diary struct {
	Notes     NoteMap
	Images    MonthImageMap
	DayImages DayImageMap
}

// NewDiary returns an empty diary with all maps allocated.
func NewDiary() *Diary {
	return &Diary{
		Notes:     NoteMap{},
		Images:    MonthImageMap{},
		DayImages: DayImageMap{},
	}
}

// Empty reports whether nothing is stored.
func (d *Diary) Empty() bool {
	return d == nil || (len(d.Notes) == 0 && len(d.Images) == 0 && len(d.DayImages) == 0)
}

// Validate checks every key and image reference. Storage backends call it
// before writing so malformed keys never reach disk.
func (d *Diary) Validate() error {
	for k := range d.Notes {
		if !k.Valid() {
			return fmt.Errorf("%w: note key %q", ErrInvalidKey, k)
		}
	}
	for k, ref := range d.DayImages {
		if !k.Valid() {
			return fmt.Errorf("%w: day image key %q", ErrInvalidKey, k)
		}
		if err := ValidateImageRef(ref); err != nil {
			return fmt.Errorf("day image %s: %w", k, err)
		}
	}
	for k, ref := range d.Images {
		if k.Month < 0 || k.Month > 11 || k.Year < 0 || k.Year > calendar.MaxYear {
			return fmt.Errorf("%w: image key %v", ErrInvalidKey, k)
		}
		if err := ValidateImageRef(ref); err != nil {
			return fmt.Errorf("image %s: %w", k, err)
		}
	}
	return nil
}

// Entry returns the stored entry of a day.
func (d *Diary) Entry(k calendar.DateKey) (Entry, bool) {
	content, ok := d.Notes[k]
	img := d.DayImages[k]
	if !ok && img == "" {
		return Entry{}, false
	}
	return Entry{Date: k, Content: content, ImageURL: img}, true
}

// Entry is one day's record.
type Entry struct {
	Date      calendar.DateKey `json:"date"`
	Content   string           `json:"content"`
	ImageURL  string           `json:"imageUrl,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt,omitempty"`
}

// Snapshot is the single-file / wire form of a diary:
//
//	{"db": {...}, "customImages": {...}, "dayImages": {...}, "exportDate": "..."}
type Snapshot struct {
	DB           NoteMap       `json:"db"`
	CustomImages MonthImageMap `json:"customImages"`
	DayImages    DayImageMap   `json:"dayImages,omitempty"`
	ExportDate   time.Time     `json:"exportDate"`
}

// NewSnapshot copies a diary into wire form.
func NewSnapshot(d *Diary, exported time.Time) Snapshot {
	if d == nil {
		d = NewDiary()
	}
	s := Snapshot{
		DB:           d.Notes.Clone(),
		CustomImages: make(MonthImageMap, len(d.Images)),
		DayImages:    make(DayImageMap, len(d.DayImages)),
		ExportDate:   exported.UTC(),
	}
	for k, v := range d.Images {
		s.CustomImages[k] = v
	}
	for k, v := range d.DayImages {
		s.DayImages[k] = v
	}
	return s
}

// Diary converts the snapshot back, validating on the way.
func (s Snapshot) Diary() (*Diary, error) {
	d := NewDiary()
	for k, v := range s.DB {
		d.Notes[k] = v
	}
	for k, v := range s.CustomImages {
		d.Images[k] = v
	}
	for k, v := range s.DayImages {
		d.DayImages[k] = v
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Occurrence is one concrete instance of an event from a subscribed ICS
// feed, already expanded and converted to the display timezone.
type Occurrence struct {
	SourceID string `json:"sourceId"`
	UID      string `json:"uid"`

	// InstanceKey separates instances of one recurring UID.
	InstanceKey string `json:"instanceKey"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	AllDay      bool   `json:"allDay"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days lists the DateKeys the occurrence touches in its own location. An
// all-day event ending at midnight does not touch its end day.
func (o Occurrence) Days() []calendar.DateKey {
	first := calendar.FromTime(o.Start)
	last := first
	if o.End.After(o.Start) {
		end := o.End
		if o.AllDay || (end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0) {
			end = end.Add(-time.Nanosecond)
		}
		last = calendar.FromTime(end)
	}
	var keys []calendar.DateKey
	for d := first; ; d = d.AddDays(1) {
		keys = append(keys, d.Key())
		if d == last || len(keys) > 366 {
			break
		}
	}
	return keys
}
