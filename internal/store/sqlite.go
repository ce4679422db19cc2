package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pictocal/internal/calendar"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

// SQLite stores one diary per owner as rows.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating) the database at dbPath and applies migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	appLog.Info("sqlite store opened", "path", dbPath)
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS diary_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			entry_date TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(owner, entry_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diary_entries_owner ON diary_entries(owner)`,
		`CREATE TABLE IF NOT EXISTS month_images (
			owner TEXT NOT NULL,
			image_key TEXT NOT NULL,
			ref TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, image_key)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// === Diary ===

func (s *SQLite) Load(ctx context.Context, owner string) (*model.Diary, error) {
	d := model.NewDiary()

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_date, content, image_url FROM diary_entries WHERE owner = ? ORDER BY entry_date`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("store: load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date, content, image string
		if err := rows.Scan(&date, &content, &image); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		k := calendar.DateKey(date)
		if content != "" {
			d.Notes[k] = content
		}
		if image != "" {
			d.DayImages[k] = image
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load entries: %w", err)
	}

	imgRows, err := s.db.QueryContext(ctx,
		`SELECT image_key, ref FROM month_images WHERE owner = ?`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("store: load images: %w", err)
	}
	defer imgRows.Close()

	for imgRows.Next() {
		var rawKey, ref string
		if err := imgRows.Scan(&rawKey, &ref); err != nil {
			return nil, fmt.Errorf("store: scan image: %w", err)
		}
		key, err := model.ParseImageKey(rawKey)
		if err != nil {
			appLog.Warn("store: skipping bad image row", "owner", owner, "key", rawKey)
			continue
		}
		d.Images[key] = ref
	}
	return d, imgRows.Err()
}

func (s *SQLite) Save(ctx context.Context, owner string, d *model.Diary) error {
	if d == nil {
		d = model.NewDiary()
	}
	if err := d.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM diary_entries WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("store: clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM month_images WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("store: clear images: %w", err)
	}

	now := s.now().UTC()
	for _, k := range entryKeys(d) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO diary_entries (owner, entry_date, content, image_url, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			owner, string(k), d.Notes[k], d.DayImages[k], now, now,
		); err != nil {
			return fmt.Errorf("store: insert entry %s: %w", k, err)
		}
	}
	for k, ref := range d.Images {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO month_images (owner, image_key, ref, updated_at) VALUES (?, ?, ?, ?)`,
			owner, k.String(), ref, now,
		); err != nil {
			return fmt.Errorf("store: insert image %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// === Entries ===

func (s *SQLite) GetEntry(ctx context.Context, owner string, key calendar.DateKey) (model.Entry, bool, error) {
	e := model.Entry{Date: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT content, image_url, updated_at FROM diary_entries WHERE owner = ? AND entry_date = ?`,
		owner, string(key),
	).Scan(&e.Content, &e.ImageURL, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, false, nil
	}
	if err != nil {
		return model.Entry{}, false, fmt.Errorf("store: get entry %s: %w", key, err)
	}
	return e, true, nil
}

func (s *SQLite) PutEntry(ctx context.Context, owner string, e model.Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if e.Content == "" && e.ImageURL == "" {
		return s.DeleteEntry(ctx, owner, e.Date)
	}

	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	updated = updated.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diary_entries (owner, entry_date, content, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner, entry_date) DO UPDATE SET
			content = excluded.content,
			image_url = excluded.image_url,
			updated_at = excluded.updated_at`,
		owner, string(e.Date), e.Content, e.ImageURL, updated, updated,
	)
	if err != nil {
		return fmt.Errorf("store: put entry %s: %w", e.Date, err)
	}
	return nil
}

func (s *SQLite) DeleteEntry(ctx context.Context, owner string, key calendar.DateKey) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM diary_entries WHERE owner = ? AND entry_date = ?`,
		owner, string(key),
	); err != nil {
		return fmt.Errorf("store: delete entry %s: %w", key, err)
	}
	return nil
}

// === Month images ===

func (s *SQLite) SetMonthImage(ctx context.Context, owner string, key model.ImageKey, ref string) error {
	if err := validateImage(key, ref); err != nil {
		return err
	}
	if ref == "" {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM month_images WHERE owner = ? AND image_key = ?`,
			owner, key.String(),
		)
		if err != nil {
			return fmt.Errorf("store: clear image %s: %w", key, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO month_images (owner, image_key, ref, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner, image_key) DO UPDATE SET ref = excluded.ref, updated_at = excluded.updated_at`,
		owner, key.String(), ref, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: set image %s: %w", key, err)
	}
	return nil
}

// Owners lists every owner with an entry or an image.
func (s *SQLite) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner FROM diary_entries UNION SELECT owner FROM month_images ORDER BY owner`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}
