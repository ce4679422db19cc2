package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone occurrences are converted to. All-day
	// events keep their date. If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the window; an occurrence is kept when it
	// overlaps [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the occurrences sorted by start and the UIDs whose
// expansion hit the cap.
type ExpandResult struct {
	Occurrences     []model.Occurrence
	TruncatedEvents []string
}

// Expand turns parsed events into concrete occurrences within the window:
// single events, RRULE recurrences minus EXDATEs, and RECURRENCE-ID
// overrides replacing the instance they name.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	all := make([]model.Occurrence, 0)
	for uid, baseEvents := range baseByUID {
		truncated := false
		for _, ev := range baseEvents {
			var occ []model.Occurrence
			if ev.RawRRule == "" {
				occ = expandSingle(ev, overridesByUID[uid], cfg)
			} else {
				var hitCap bool
				occ, hitCap = expandRecurring(ev, overridesByUID[uid], cfg)
				truncated = truncated || hitCap
			}
			all = append(all, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.Before(all[j].Start)
		}
		return all[i].Summary < all[j].Summary
	})
	sort.Strings(result.TruncatedEvents)

	result.Occurrences = all
	return result, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if o, ok := findOverride(overrides, ev.Start); ok {
		ev = o
	}
	occ := makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)
	if !overlaps(occ, cfg) {
		return nil
	}
	return []model.Occurrence{occ}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	opt, err := rrule.StrToROptionInLocation(ev.RawRRule, ev.Start.Location())
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("expand: invalid RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the query by the event length plus a day on both sides: the
	// overlap test below is exact, and all-day dates shift with the zone.
	dur := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.Add(-dur).AddDate(0, 0, -1).In(ev.Start.Location())
	to := cfg.RangeEnd.AddDate(0, 0, 1).In(ev.Start.Location())

	starts := set.Between(from, to, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, start := range starts {
		instance := ev
		end := start.Add(dur)
		if o, ok := findOverride(overrides, start); ok {
			instance, start, end = o, o.Start, o.End
		}
		occ := makeOccurrence(instance, start, end, cfg.DisplayLocation)
		if overlaps(occ, cfg) {
			out = append(out, occ)
		}
	}
	return out, hitCap
}

// findOverride finds the override whose RECURRENCE-ID names start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
		// All-day RECURRENCE-IDs are dates; compare by date.
		if ov.Recurrence != nil && ov.AllDay && sameDate(*ov.Recurrence, start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// makeOccurrence converts an instance into displayLoc. All-day instances
// keep their calendar dates.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	if ev.AllDay {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, displayLoc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, displayLoc)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
	} else {
		start = start.In(displayLoc)
		end = end.In(displayLoc)
	}

	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: start.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

func overlaps(o model.Occurrence, cfg ExpandConfig) bool {
	end := o.End
	if !end.After(o.Start) {
		// Zero-length events still occupy their instant.
		return !o.Start.Before(cfg.RangeStart) && o.Start.Before(cfg.RangeEnd)
	}
	return o.Start.Before(cfg.RangeEnd) && end.After(cfg.RangeStart)
}
