package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"pictocal/internal/auth"
	"pictocal/internal/calendar"
	"pictocal/internal/model"
)

// parseMonth reads YYYY-MM into a year and 0-based month.
func parseMonth(s string, now time.Time) (int, int, error) {
	if s == "" {
		c := calendar.Today(now)
		return c.Year, c.Month, nil
	}
	d, err := calendar.ParseDateKey(s + "-01")
	if err != nil {
		return 0, 0, fmt.Errorf("month %q: want YYYY-MM", s)
	}
	return d.Year, d.Month, nil
}

func addNotes(topLevel *cobra.Command, ro *rootOptions) {
	var (
		month  string
		user   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List the notes of one month.",
		Example: `
pictocal notes
pictocal notes --month 2024-03 --user anna
pictocal notes --month 2024-03 --json
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			loc, _ := cfg.Location()
			year, mon, err := parseMonth(month, time.Now().In(loc))
			if err != nil {
				return err
			}
			svc, _, st, err := openDiary(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := svc.Diary(cmd.Context(), user)
			if err != nil {
				return err
			}
			entries := monthEntries(d, year, mon)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			printNotes(cmd.OutOrStdout(), year, mon, entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Month as YYYY-MM; defaults to the current one.")
	cmd.Flags().StringVar(&user, "user", auth.LocalUser, "Diary owner.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON.")

	topLevel.AddCommand(cmd)
}

// monthEntries lists the days of a month with a note or image, in order.
func monthEntries(d *model.Diary, year, month int) []model.Entry {
	out := make([]model.Entry, 0)
	for day := 1; day <= calendar.DaysInMonth(year, month); day++ {
		if e, ok := d.Entry(calendar.NewDateKey(day, month, year)); ok {
			out = append(out, e)
		}
	}
	return out
}

func printNotes(w io.Writer, year, month int, entries []model.Entry) {
	bold := color.New(color.Bold)
	_, _ = fmt.Fprintln(w, bold.Sprintf("%s %d", calendar.MonthName(month), year))
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "no notes")
		return
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 60
	tbl.Wrap = true
	tbl.AddRow(bold.Sprint("Date"), bold.Sprint("Wk"), bold.Sprint("Note"), bold.Sprint("Image"))
	for _, e := range entries {
		d, err := e.Date.Date()
		if err != nil {
			continue
		}
		tbl.AddRow(d.Display(), d.ISOWeek(), strings.ReplaceAll(e.Content, "\n", " / "), e.ImageURL)
	}
	tbl.RightAlign(1)
	_, _ = fmt.Fprintln(w, tbl)
}
