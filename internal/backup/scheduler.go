package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"pictocal/internal/config"
	appLog "pictocal/internal/log"
)

// Refresher refreshes the ICS overlay.
type Refresher interface {
	Enabled() bool
	Refresh(ctx context.Context) error
}

// Scheduler drives the backup and refresh jobs on cron schedules in the
// configured timezone.
type Scheduler struct {
	cron        *cron.Cron
	backupSpec  string
	refreshSpec string
	snapshots   *Snapshotter
	overlay     Refresher
	ctx         context.Context
}

// New builds a scheduler. A nil snapshots or a disabled overlay leaves the
// matching job out.
func New(cfg *config.Config, loc *time.Location, snapshots *Snapshotter, overlay Refresher) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	l := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	return &Scheduler{
		cron:        c,
		backupSpec:  cfg.Backup.Cron,
		refreshSpec: cfg.RefreshCron,
		snapshots:   snapshots,
		overlay:     overlay,
		ctx:         context.Background(),
	}
}

// Start registers the jobs, refreshes the overlay once and blocks until ctx
// is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	jobs := 0
	if s.snapshots != nil && s.backupSpec != "" {
		if _, err := s.cron.AddFunc(s.backupSpec, s.runBackup); err != nil {
			return fmt.Errorf("add backup job: %w", err)
		}
		jobs++
	}
	if s.overlay != nil && s.overlay.Enabled() && s.refreshSpec != "" {
		if _, err := s.cron.AddFunc(s.refreshSpec, s.runRefresh); err != nil {
			return fmt.Errorf("add refresh job: %w", err)
		}
		jobs++
		go s.runRefresh()
	}

	s.cron.Start()
	appLog.Info("scheduler started", "jobs", jobs, "backup", s.backupSpec, "refresh", s.refreshSpec)

	<-ctx.Done()
	return nil
}

// Stop stops the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("scheduler stopped")
}

func (s *Scheduler) runBackup() {
	if _, err := s.snapshots.Run(s.ctx); err != nil {
		appLog.Error("scheduled backup failed", err)
	}
}

func (s *Scheduler) runRefresh() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()
	if err := s.overlay.Refresh(ctx); err != nil {
		appLog.Error("scheduled ics refresh failed", err)
	}
}

// ValidateSpec checks a standard 5-field cron expression.
func ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("cron %q: %w", spec, err)
	}
	return nil
}

// cronLogger routes cron's own logging into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
