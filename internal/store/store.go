// Package store persists diaries. Two backends implement Store: a single
// shared JSON file and an SQLite database with rows per owner.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pictocal/internal/calendar"
	"pictocal/internal/config"
	"pictocal/internal/model"
)

// SharedOwner is reported by backends that keep one diary for everybody.
const SharedOwner = "shared"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store: closed")

// Store is the persistence contract used by the diary service. Every method
// is safe for concurrent use.
type Store interface {
	// Load returns the owner's whole diary. A new owner gets an empty one.
	Load(ctx context.Context, owner string) (*model.Diary, error)
	// Save replaces the owner's whole diary.
	Save(ctx context.Context, owner string, d *model.Diary) error

	// GetEntry reports ok=false for a day with nothing stored.
	GetEntry(ctx context.Context, owner string, key calendar.DateKey) (model.Entry, bool, error)
	// PutEntry upserts one day. An entry without content and image deletes it.
	PutEntry(ctx context.Context, owner string, e model.Entry) error
	DeleteEntry(ctx context.Context, owner string, key calendar.DateKey) error

	// SetMonthImage sets a month background; an empty ref removes it.
	SetMonthImage(ctx context.Context, owner string, key model.ImageKey, ref string) error

	// Owners lists the owners with stored data.
	Owners(ctx context.Context) ([]string, error)

	Close() error
}

// Open returns the backend selected by cfg.Storage.Backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return NewSQLite(cfg.Storage.SQLitePath)
	case config.BackendJSON, "":
		return NewJSONFile(cfg.Storage.JSONPath)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Storage.Backend)
	}
}

func validateEntry(e model.Entry) error {
	if !e.Date.Valid() {
		return fmt.Errorf("%w: entry date %q", model.ErrInvalidKey, e.Date)
	}
	if e.ImageURL != "" {
		if err := model.ValidateImageRef(e.ImageURL); err != nil {
			return err
		}
	}
	return nil
}

func validateImage(key model.ImageKey, ref string) error {
	if _, err := model.ParseImageKey(key.String()); err != nil {
		return err
	}
	if ref == "" {
		return nil
	}
	return model.ValidateImageRef(ref)
}

// entryKeys returns every day that has a note or a day image, sorted.
func entryKeys(d *model.Diary) []calendar.DateKey {
	seen := make(map[calendar.DateKey]struct{}, len(d.Notes)+len(d.DayImages))
	for k := range d.Notes {
		seen[k] = struct{}{}
	}
	for k := range d.DayImages {
		seen[k] = struct{}{}
	}
	keys := make([]calendar.DateKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
