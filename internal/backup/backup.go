// Package backup runs the periodic jobs: diary snapshots with retention and
// the ICS overlay refresh.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"pictocal/internal/config"
	"pictocal/internal/diary"
	appLog "pictocal/internal/log"
)

const fileSuffix = "_pictocal_data.json"

var unsafeOwner = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Snapshotter writes backups of every owner's diary into a directory.
type Snapshotter struct {
	diary *diary.Service
	dir   string
	keep  int
	now   func() time.Time
}

// NewSnapshotter keeps the newest keep files per owner; keep <= 0 keeps all.
func NewSnapshotter(svc *diary.Service, dir string, keep int) *Snapshotter {
	return &Snapshotter{diary: svc, dir: dir, keep: keep, now: time.Now}
}

// FileName is <unix>_<owner>-<hash>_pictocal_data.json: owner reduced to a
// safe file name, hash the first 8 hex digits of sha256(owner) so owners
// that reduce to the same name keep separate files.
func FileName(t time.Time, owner string) string {
	return strconv.FormatInt(t.Unix(), 10) + "_" + safeOwner(owner) + fileSuffix
}

func safeOwner(owner string) string {
	s := unsafeOwner.ReplaceAllString(owner, "_")
	if s == "" {
		s = "_"
	}
	sum := sha256.Sum256([]byte(owner))
	return s + "-" + hex.EncodeToString(sum[:4])
}

// Run backs up every owner the store knows and prunes old files. It
// returns the paths written.
func (s *Snapshotter) Run(ctx context.Context) ([]string, error) {
	owners, err := s.diary.Store().Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: list owners: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	stamp := s.now()
	var written []string
	for _, owner := range owners {
		snap, err := s.diary.Load(ctx, owner)
		if err != nil {
			return written, fmt.Errorf("backup: load %s: %w", owner, err)
		}
		data, err := json.MarshalIndent(&snap, "", "  ")
		if err != nil {
			return written, fmt.Errorf("backup: encode %s: %w", owner, err)
		}
		path := filepath.Join(s.dir, FileName(stamp, owner))
		if err := config.WriteFileAtomic(path, data, 0o600); err != nil {
			return written, fmt.Errorf("backup: write %s: %w", owner, err)
		}
		written = append(written, path)

		if err := s.prune(owner); err != nil {
			appLog.Error("backup prune failed", err, "owner", owner)
		}
	}

	appLog.Info("backup done", "owners", len(owners), "dir", s.dir)
	return written, nil
}

// prune deletes all but the newest keep backups of owner.
func (s *Snapshotter) prune(owner string) error {
	if s.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	type backupFile struct {
		name string
		unix int64
	}
	suffix := "_" + safeOwner(owner) + fileSuffix
	var files []backupFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, backupFile{name: name, unix: unix})
	}
	if len(files) <= s.keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].unix > files[j].unix })
	for _, f := range files[s.keep:] {
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil && !os.IsNotExist(err) {
			return err
		}
		appLog.Debug("backup pruned", "file", f.name)
	}
	return nil
}
