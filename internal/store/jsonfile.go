package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pictocal/internal/calendar"
	"pictocal/internal/config"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

// JSONFile keeps one diary, shared by every owner, in a single JSON file
// in the snapshot format. The file is read once at open and rewritten
// atomically on every change; the previous version is kept as <path>.backup.
type JSONFile struct {
	path string
	now  func() time.Time

	mu     sync.RWMutex
	diary  *model.Diary
	closed bool
	// written is the checksum of the last file content we wrote or read.
	written [sha256.Size]byte
}

// NewJSONFile opens path. A missing file is an empty diary. An unreadable
// file falls back to <path>.backup when that parses.
func NewJSONFile(path string) (*JSONFile, error) {
	j := &JSONFile{path: path, now: time.Now}
	d, err := readSnapshot(path)
	if err != nil {
		bak, bakErr := readSnapshot(j.backupPath())
		if bakErr != nil {
			return nil, err
		}
		appLog.Warn("store: data file unreadable, using backup", "path", path, "error", err.Error())
		d = bak
	} else if data, err := os.ReadFile(path); err == nil {
		j.written = sha256.Sum256(data)
	}
	j.diary = d
	return j, nil
}

func (j *JSONFile) backupPath() string { return j.path + ".backup" }

func readSnapshot(path string) (*model.Diary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.NewDiary(), nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return decodeSnapshot(path, data)
}

func decodeSnapshot(path string, data []byte) (*model.Diary, error) {
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	d, err := snap.Diary()
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", path, err)
	}
	return d, nil
}

// persist writes the current diary. Callers hold j.mu for writing.
func (j *JSONFile) persist() error {
	data, err := json.MarshalIndent(model.NewSnapshot(j.diary, j.now()), "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	if prev, err := os.ReadFile(j.path); err == nil {
		if err := config.WriteFileAtomic(j.backupPath(), prev, 0o600); err != nil {
			appLog.Warn("store: could not refresh backup", "path", j.backupPath(), "error", err.Error())
		}
	}

	if err := config.WriteFileAtomic(j.path, data, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", j.path, err)
	}
	j.written = sha256.Sum256(data)
	return nil
}

// mutate runs fn on a copy of the diary and keeps it only when it persists.
func (j *JSONFile) mutate(fn func(d *model.Diary)) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	prev := j.diary
	next := cloneDiary(prev)
	fn(next)
	j.diary = next
	if err := j.persist(); err != nil {
		j.diary = prev
		return err
	}
	return nil
}

func (j *JSONFile) Load(_ context.Context, _ string) (*model.Diary, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}
	return cloneDiary(j.diary), nil
}

func (j *JSONFile) Save(_ context.Context, _ string, d *model.Diary) error {
	if d == nil {
		d = model.NewDiary()
	}
	if err := d.Validate(); err != nil {
		return err
	}
	return j.mutate(func(cur *model.Diary) {
		*cur = *cloneDiary(d)
	})
}

func (j *JSONFile) GetEntry(_ context.Context, _ string, key calendar.DateKey) (model.Entry, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return model.Entry{}, false, ErrClosed
	}
	e, ok := j.diary.Entry(key)
	return e, ok, nil
}

func (j *JSONFile) PutEntry(_ context.Context, _ string, e model.Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	return j.mutate(func(d *model.Diary) {
		if e.Content != "" {
			d.Notes[e.Date] = e.Content
		} else {
			delete(d.Notes, e.Date)
		}
		if e.ImageURL != "" {
			d.DayImages[e.Date] = e.ImageURL
		} else {
			delete(d.DayImages, e.Date)
		}
	})
}

func (j *JSONFile) DeleteEntry(_ context.Context, _ string, key calendar.DateKey) error {
	return j.mutate(func(d *model.Diary) {
		delete(d.Notes, key)
		delete(d.DayImages, key)
	})
}

func (j *JSONFile) SetMonthImage(_ context.Context, _ string, key model.ImageKey, ref string) error {
	if err := validateImage(key, ref); err != nil {
		return err
	}
	return j.mutate(func(d *model.Diary) {
		if ref == "" {
			delete(d.Images, key)
			return
		}
		d.Images[key] = ref
	})
}

// Owners always reports the single shared diary.
func (j *JSONFile) Owners(context.Context) ([]string, error) {
	return []string{SharedOwner}, nil
}

func (j *JSONFile) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

// reload re-reads the file, keeping the cached diary if it does not parse
// or holds exactly what we last wrote. It reports whether the diary was
// replaced. The read happens under the write lock, so no persist can slip
// between reading the file and swapping the diary.
func (j *JSONFile) reload() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return false
	}

	data, err := os.ReadFile(j.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("store: ignoring unreadable external change", "path", j.path, "error", err.Error())
		}
		return false
	}
	sum := sha256.Sum256(data)
	if sum == j.written {
		return false
	}
	d, err := decodeSnapshot(j.path, data)
	if err != nil {
		appLog.Warn("store: ignoring unreadable external change", "path", j.path, "error", err.Error())
		return false
	}
	j.diary = d
	j.written = sum
	return true
}

// Watch reloads the diary when the file is replaced or edited by another
// process (a restored backup, a hand edit) until ctx is done. Events for
// our own writes find the content unchanged and are ignored.
func (j *JSONFile) Watch(ctx context.Context) error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: ensure data dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("store: create watcher: %w", err)
	}
	defer watcher.Close()

	// Atomic renames replace the inode, so the directory is watched rather
	// than the file.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("store: watch %s: %w", dir, err)
	}

	target := filepath.Clean(j.path)
	const settle = 200 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			appLog.Error("store: watcher error", err, "dir", dir)
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			// Editors emit bursts of events; reload once they settle.
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if j.reload() {
				appLog.Info("store: reloaded data file after external change", "path", j.path)
			}
		}
	}
}

func cloneDiary(d *model.Diary) *model.Diary {
	out := model.NewDiary()
	if d == nil {
		return out
	}
	for k, v := range d.Notes {
		out.Notes[k] = v
	}
	for k, v := range d.Images {
		out.Images[k] = v
	}
	for k, v := range d.DayImages {
		out.DayImages[k] = v
	}
	return out
}
