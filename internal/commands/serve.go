package commands

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pictocal/internal/auth"
	"pictocal/internal/backup"
	"pictocal/internal/capture"
	"pictocal/internal/config"
	"pictocal/internal/ics"
	appLog "pictocal/internal/log"
	"pictocal/internal/store"
	"pictocal/internal/web"
)

const version = "0.3.0"

func addServe(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diary web app.",
		Example: `
pictocal serve
pictocal serve --config /etc/pictocal/config.yaml --listen 0.0.0.0:8080
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	topLevel.AddCommand(cmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	appLog.Info("pictocal starting", "version", version)

	for _, spec := range []string{cfg.Backup.Cron, cfg.RefreshCron} {
		if err := backup.ValidateSpec(spec); err != nil {
			return err
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		appLog.Warn("timezone not found, using local time", "timezone", cfg.Timezone)
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"backend", cfg.Storage.Backend,
		"users", len(cfg.Auth.Users),
		"ics_count", len(cfg.ICS),
		"backup", cfg.Backup.Cron,
		"refresh", cfg.RefreshCron,
	)

	svc, imgs, st, err := openDiary(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher := ics.NewFetcher(filepath.Join(cfg.DataDir, "ics-cache"), nil)
	overlay := ics.NewOverlay(fetcher, ics.SourcesFromConfig(cfg.ICS), loc)

	sched := backup.New(cfg, loc, backup.NewSnapshotter(svc, cfg.Backup.Dir, cfg.Backup.Keep), overlay)
	srv := web.NewServer(cfg, web.Deps{
		Diary:    svc,
		Images:   imgs,
		Auth:     auth.New(cfg.Auth),
		Overlay:  overlay,
		Renderer: capture.Chromium{},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return sched.Start(gctx) })
	if jf, ok := st.(*store.JSONFile); ok {
		g.Go(func() error { return jf.Watch(gctx) })
	}

	err = g.Wait()
	sched.Stop()
	appLog.Info("pictocal exiting")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
