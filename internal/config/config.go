package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// ICSConfig describes one read-only ICS subscription shown as an overlay on
// the month grid (holidays, birthdays, a shared family calendar).
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// SourceID is the identifier used for this feed in logs and occurrences.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// StorageConfig selects where diaries live.
type StorageConfig struct {
	// Backend is "json" (one shared file) or "sqlite" (rows per user).
	Backend    string `yaml:"backend" json:"backend"`
	JSONPath   string `yaml:"json_path" json:"json_path"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

// ImagesConfig controls the uploaded image store.
type ImagesConfig struct {
	Dir         string `yaml:"dir" json:"dir"`
	MaxUploadMB int    `yaml:"max_upload_mb" json:"max_upload_mb"`
	// Defaults are the 12 month backgrounds used when no custom image is set,
	// January first.
	Defaults []string `yaml:"defaults" json:"defaults"`
}

// User is one login. PasswordHash is an Argon2id hash as produced by
// `pictocal hash-password`.
type User struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// AuthConfig lists the accounts allowed to use the diary. With no users the
// server runs open as a single local user.
type AuthConfig struct {
	Realm string `yaml:"realm" json:"realm"`
	Users []User `yaml:"users" json:"users"`
}

// BackupConfig controls scheduled snapshot backups.
type BackupConfig struct {
	// Cron is a standard 5-field schedule; empty disables backups.
	Cron string `yaml:"cron" json:"cron"`
	Dir  string `yaml:"dir" json:"dir"`
	// Keep is how many snapshots are retained per user.
	Keep int `yaml:"keep" json:"keep"`
}

// ExportConfig controls the headless-browser PDF/PNG export.
type ExportConfig struct {
	// BaseURL is where the browser reaches this server. Defaults to
	// http://<listen>.
	BaseURL    string `yaml:"base_url" json:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
	// ChromePath overrides the browser binary chromedp would discover.
	ChromePath string `yaml:"chrome_path" json:"chrome_path"`
}

// Timeout returns TimeoutSec as a duration.
func (e ExportConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSec) * time.Second
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that decides what "today" is.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataDir is the base for every relative or empty data path below.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Storage StorageConfig `yaml:"storage" json:"storage"`
	Images  ImagesConfig  `yaml:"images" json:"images"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
	Backup  BackupConfig  `yaml:"backup" json:"backup"`
	Export  ExportConfig  `yaml:"export" json:"export"`

	// RefreshCron is the schedule for refreshing ICS overlay feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ICS is the list of overlay feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`
}

// DefaultMonthImages are served from the embedded static directory.
func DefaultMonthImages() []string {
	return []string{
		"/static/months/Jan.svg", "/static/months/Feb.svg", "/static/months/Mar.svg",
		"/static/months/Apr.svg", "/static/months/May.svg", "/static/months/Jun.svg",
		"/static/months/Jul.svg", "/static/months/Aug.svg", "/static/months/Sep.svg",
		"/static/months/Oct.svg", "/static/months/Nov.svg", "/static/months/Dec.svg",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "Europe/London",
		LogLevel: "info",
		DataDir:  "./data",
		Storage: StorageConfig{
			Backend: BackendJSON,
		},
		Images: ImagesConfig{
			MaxUploadMB: 10,
			Defaults:    DefaultMonthImages(),
		},
		Auth: AuthConfig{
			Realm: "Pictocal",
			Users: []User{},
		},
		Backup: BackupConfig{
			Cron: "0 3 * * *",
			Keep: 14,
		},
		Export: ExportConfig{
			TimeoutSec: 30,
		},
		RefreshCron: "*/30 * * * *",
		ICS:         []ICSConfig{},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly. Data paths left empty are derived from DataDir.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/London"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite:
	default:
		// Unknown backend names fall back to the shared JSON file.
		c.Storage.Backend = BackendJSON
	}
	if c.Storage.JSONPath == "" {
		c.Storage.JSONPath = filepath.Join(c.DataDir, "pictocal_data.json")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.DataDir, "pictocal.db")
	}

	if c.Images.Dir == "" {
		c.Images.Dir = filepath.Join(c.DataDir, "images")
	}
	if c.Images.MaxUploadMB <= 0 {
		c.Images.MaxUploadMB = 10
	}
	if len(c.Images.Defaults) != 12 {
		c.Images.Defaults = DefaultMonthImages()
	}

	if c.Auth.Realm == "" {
		c.Auth.Realm = "Pictocal"
	}
	if c.Auth.Users == nil {
		c.Auth.Users = []User{}
	}

	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.DataDir, "backup")
	}
	if c.Backup.Keep <= 0 {
		c.Backup.Keep = 14
	}

	if c.Export.TimeoutSec <= 0 {
		c.Export.TimeoutSec = 30
	}
	if c.Export.BaseURL == "" {
		c.Export.BaseURL = "http://" + c.Listen
	}

	if c.RefreshCron == "" {
		c.RefreshCron = "*/30 * * * *"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// MaxUploadBytes is Images.MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Images.MaxUploadMB) << 20
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// The defaults are still usable; the caller decides.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data next to path and renames it into place, so
// readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
