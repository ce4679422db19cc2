package ics

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"

	"pictocal/internal/calendar"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

// ProductID identifies exported calendars.
const ProductID = "-//Pictocal//Diary//EN"

// NoteUID is the stable UID of the event exported for a day, so re-importing
// into a calendar app updates instead of duplicating.
func NoteUID(k calendar.DateKey) string {
	return string(k) + "@pictocal"
}

// ExportNotes writes every note as an all-day VEVENT. SUMMARY is the first
// line of the note, DESCRIPTION the full text.
func ExportNotes(notes model.NoteMap, calName string, stamp time.Time) ([]byte, error) {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, ProductID)
	cal.Props.SetText("CALSCALE", "GREGORIAN")
	if calName != "" {
		cal.Props.SetText("X-WR-CALNAME", calName)
	}

	keys := make([]calendar.DateKey, 0, len(notes))
	for k := range notes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		d, err := calendar.ParseDateKey(string(k))
		if err != nil {
			appLog.Warn("ics export: skipping bad key", "key", k)
			continue
		}
		text := notes[k]
		summary, _, _ := strings.Cut(text, "\n")

		start := d.Time(time.UTC)
		ev := goical.NewEvent()
		ev.Props.SetText(goical.PropUID, NoteUID(k))
		ev.Props.SetDateTime(goical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDate(goical.PropDateTimeStart, start)
		ev.Props.SetDate(goical.PropDateTimeEnd, start.AddDate(0, 0, 1))
		ev.Props.SetText(goical.PropSummary, strings.TrimSpace(summary))
		if text != summary {
			ev.Props.SetText(goical.PropDescription, text)
		}
		ev.Props.SetText("TRANSP", "TRANSPARENT")

		cal.Children = append(cal.Children, ev.Component)
	}

	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("ics: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportNotes turns the VEVENTs of body into notes keyed by their start date
// in loc. Recurring events are expanded within [rangeStart, rangeEnd).
// Several events on one day are joined by newlines in start order.
func ImportNotes(body []byte, rangeStart, rangeEnd time.Time, loc *time.Location) (model.NoteMap, error) {
	events, err := Parse(Source{ID: "import"}, body)
	if err != nil {
		return nil, err
	}
	res, err := Expand(events, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		return nil, err
	}

	notes := make(model.NoteMap)
	for _, occ := range res.Occurrences {
		text := noteText(occ)
		if text == "" {
			continue
		}
		k := calendar.FromTime(occ.Start).Key()
		if prev, ok := notes[k]; ok {
			notes[k] = prev + "\n" + text
		} else {
			notes[k] = text
		}
	}
	return notes, nil
}

// noteText rebuilds a note from an event. Our own exports carry the whole
// note in DESCRIPTION, starting with SUMMARY.
func noteText(o model.Occurrence) string {
	summary := strings.TrimSpace(o.Summary)
	desc := strings.TrimSpace(o.Description)
	switch {
	case desc == "":
		return summary
	case summary == "" || strings.HasPrefix(desc, summary):
		return desc
	default:
		return summary + "\n" + desc
	}
}
