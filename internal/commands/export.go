package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pictocal/internal/auth"
	"pictocal/internal/backup"
	"pictocal/internal/calendar"
	"pictocal/internal/capture"
	"pictocal/internal/config"
	"pictocal/internal/csvio"
	"pictocal/internal/diary"
	"pictocal/internal/ics"
)

// passwordEnv supplies the password for pdf and png exports against a
// server with auth enabled.
const passwordEnv = "PICTOCAL_PASSWORD"

type exportOptions struct {
	format string
	month  string
	user   string
	out    string
}

func addExport(topLevel *cobra.Command, ro *rootOptions) {
	eo := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a month or the whole diary.",
		Long: `Exports the diary of one user.

  pdf, png  render one month through the running server's print view
  ics       every note as an all-day event
  csv       every note, one row per day
  json      the snapshot format used by the web app's Save and Load`,
		Example: `
pictocal export --format ics --user anna
PICTOCAL_PASSWORD=s3cret pictocal export --format pdf --month 2024-03 --user anna
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			data, name, err := eo.run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if eo.out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if eo.out != "" {
				name = eo.out
			}
			if err := os.WriteFile(name, data, 0o600); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (%d bytes)\n", color.GreenString("wrote"), name, len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&eo.format, "format", "pdf", "One of pdf, png, ics, csv, json.")
	cmd.Flags().StringVar(&eo.month, "month", "", "Month to render as YYYY-MM (pdf and png); defaults to the current one.")
	cmd.Flags().StringVar(&eo.user, "user", auth.LocalUser, "Diary owner, and the login for pdf and png.")
	cmd.Flags().StringVarP(&eo.out, "out", "o", "", "Output file; - for stdout. Defaults to the usual download name.")

	topLevel.AddCommand(cmd)
}

func (eo *exportOptions) run(ctx context.Context, cfg *config.Config) ([]byte, string, error) {
	switch strings.ToLower(eo.format) {
	case "pdf", "png":
		return eo.render(ctx, cfg)
	case "ics", "csv", "json":
	default:
		return nil, "", fmt.Errorf("unknown format %q", eo.format)
	}

	svc, _, st, err := openDiary(cfg)
	if err != nil {
		return nil, "", err
	}
	defer st.Close()
	return eo.file(ctx, svc)
}

func (eo *exportOptions) file(ctx context.Context, svc *diary.Service) ([]byte, string, error) {
	d, err := svc.Diary(ctx, eo.user)
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(eo.format) {
	case "ics":
		data, err := ics.ExportNotes(d.Notes, "Pictocal", time.Now())
		return data, "pictocal.ics", err
	case "csv":
		var buf bytes.Buffer
		err := csvio.Write(&buf, d.Notes, d.DayImages)
		return buf.Bytes(), "events.csv", err
	default:
		snap, err := svc.Load(ctx, eo.user)
		if err != nil {
			return nil, "", err
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		return data, backup.FileName(snap.ExportDate, eo.user), err
	}
}

func (eo *exportOptions) render(ctx context.Context, cfg *config.Config) ([]byte, string, error) {
	loc, _ := cfg.Location()
	year, month, err := parseMonth(eo.month, time.Now().In(loc))
	if err != nil {
		return nil, "", err
	}
	opts := capture.Options{
		BaseURL:    cfg.Export.BaseURL,
		Cursor:     calendar.Cursor{Year: year, Month: month, Day: 1},
		Timeout:    cfg.Export.Timeout(),
		ChromePath: cfg.Export.ChromePath,
	}
	if len(cfg.Auth.Users) > 0 {
		opts.Username = eo.user
		opts.Password = os.Getenv(passwordEnv)
		if opts.Password == "" {
			return nil, "", fmt.Errorf("auth is enabled: set %s for user %q", passwordEnv, eo.user)
		}
	}

	format := strings.ToLower(eo.format)
	var data []byte
	if format == "pdf" {
		data, err = capture.RenderPDF(ctx, opts)
	} else {
		data, err = capture.CapturePNG(ctx, opts)
	}
	if err != nil {
		return nil, "", err
	}
	return data, capture.FileName(year, month, format), nil
}

func addBackup(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a snapshot of every diary into the backup directory now.",
		Example: `
pictocal backup
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			svc, _, st, err := openDiary(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			paths, err := backup.NewSnapshotter(svc, cfg.Backup.Dir, cfg.Backup.Keep).Run(cmd.Context())
			for _, p := range paths {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("wrote"), p)
			}
			return err
		},
	}

	topLevel.AddCommand(cmd)
}
