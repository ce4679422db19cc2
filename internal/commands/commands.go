// Package commands holds the pictocal command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pictocal/internal/config"
	"pictocal/internal/diary"
	"pictocal/internal/images"
	appLog "pictocal/internal/log"
	"pictocal/internal/store"
)

// rootOptions are the flags every subcommand shares.
type rootOptions struct {
	configPath string
	listen     string
	logLevel   string
}

func New() *cobra.Command {
	ro := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pictocal",
		Short: "A picture calendar diary served over HTTP.",
		Long: `pictocal keeps one note per day behind a month grid with a picture
for every month. It serves the diary as a web app and exports months
as PDF, PNG, ICS and CSV.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&ro.configPath, "config", "./pictocal.yaml", "Path to config file; created with defaults when missing.")
	pf.StringVar(&ro.listen, "listen", "", "HTTP listen address (overrides config if set).")
	pf.StringVar(&ro.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config if set).")

	AddCommands(cmd, ro)
	return cmd
}

func AddCommands(topLevel *cobra.Command, ro *rootOptions) {
	addServe(topLevel, ro)
	addHashPassword(topLevel)
	addNotes(topLevel, ro)
	addExport(topLevel, ro)
	addBackup(topLevel, ro)
}

// load reads the config file and applies the flag overrides.
func (ro *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(ro.configPath)
	if err != nil {
		return nil, err
	}
	if ro.listen != "" {
		// A base URL derived from the old address follows the override.
		if cfg.Export.BaseURL == "http://"+cfg.Listen {
			cfg.Export.BaseURL = "http://" + ro.listen
		}
		cfg.Listen = ro.listen
	}
	if ro.logLevel != "" {
		cfg.LogLevel = ro.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// openDiary opens the configured store and image directory. The returned
// store must be closed by the caller.
func openDiary(cfg *config.Config) (*diary.Service, *images.Store, store.Store, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	imgs := images.New(cfg.Images.Dir, cfg.MaxUploadBytes())
	return diary.New(st, imgs, cfg.Images.Defaults), imgs, st, nil
}
