// Package csvio reads and writes notes as Date,Event,Memo,Image rows with
// DD/MM/YYYY dates, the spreadsheet format the diary started from.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"pictocal/internal/calendar"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

// Header is the first row of every file.
var Header = []string{"Date", "Event", "Memo", "Image"}

// Record is one parsed row. Memo is never kept.
type Record struct {
	Date  calendar.Date
	Event string
	Image string
}

// Result is the outcome of Read.
type Result struct {
	Records []Record
	// Skipped counts rows dropped for a short row or an unreadable date.
	Skipped int
}

// Read parses a CSV stream. The first row is a header and is ignored.
// Quoted fields may span lines.
func Read(r io.Reader) (Result, error) {
	var res Result

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	first := true
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("csv: %w", err)
		}
		line++
		if first {
			first = false
			continue
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < 2 {
			res.Skipped++
			continue
		}

		date, err := calendar.ParseDisplayDate(strings.TrimSpace(row[0]))
		if err != nil {
			appLog.Debug("csv row skipped", "row", line, "date", row[0])
			res.Skipped++
			continue
		}
		rec := Record{Date: date, Event: strings.TrimSpace(row[1])}
		if len(row) > 3 {
			rec.Image = strings.TrimSpace(row[3])
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// Maps folds records into notes and day images. A later row for the same
// day wins.
func (r Result) Maps() (model.NoteMap, model.DayImageMap) {
	notes := make(model.NoteMap)
	images := make(model.DayImageMap)
	for _, rec := range r.Records {
		k := rec.Date.Key()
		if rec.Event != "" {
			notes[k] = rec.Event
		} else {
			delete(notes, k)
		}
		if rec.Image != "" {
			images[k] = rec.Image
		} else {
			delete(images, k)
		}
	}
	return notes, images
}

// Write emits the header and one row per day that has a note or an image,
// in date order. Memo is written empty.
func Write(w io.Writer, notes model.NoteMap, dayImages model.DayImageMap) error {
	keys := make(map[calendar.DateKey]struct{}, len(notes)+len(dayImages))
	for k := range notes {
		keys[k] = struct{}{}
	}
	for k := range dayImages {
		keys[k] = struct{}{}
	}
	sorted := make([]calendar.DateKey, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, k := range sorted {
		d, err := k.Date()
		if err != nil {
			appLog.Warn("csv export: skipping bad key", "key", k)
			continue
		}
		if err := cw.Write([]string{d.Display(), notes[k], "", dayImages[k]}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
