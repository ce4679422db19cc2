package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	"pictocal/internal/calendar"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

// Overlay keeps the parsed events of the subscribed feeds in memory and
// expands them on demand for the displayed grid. Refresh is driven by the
// scheduler; reads never touch the network.
type Overlay struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location

	mu        sync.RWMutex
	events    []ParsedEvent
	updatedAt time.Time
}

// NewOverlay builds an overlay for sources, displayed in loc.
func NewOverlay(fetcher *Fetcher, sources []Source, loc *time.Location) *Overlay {
	if loc == nil {
		loc = time.Local
	}
	return &Overlay{fetcher: fetcher, sources: sources, loc: loc}
}

// Enabled reports whether any feed is configured.
func (o *Overlay) Enabled() bool {
	return o != nil && len(o.sources) > 0
}

// Refresh fetches and parses every feed. Feeds that fail keep no events
// unless their cached body could be used; the error reports every failure.
func (o *Overlay) Refresh(ctx context.Context) error {
	if !o.Enabled() {
		return nil
	}
	start := time.Now()

	results, errs := o.fetcher.FetchAll(ctx, o.sources)
	parsed := make([]ParsedEvent, 0)
	for _, res := range results {
		events, err := Parse(res.Source, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, events...)
	}

	// Keep the previous events when nothing could be read at all.
	if len(results) == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}

	o.mu.Lock()
	o.events = parsed
	o.updatedAt = time.Now()
	o.mu.Unlock()

	appLog.Info("ics overlay refreshed",
		"sources", len(o.sources),
		"events", len(parsed),
		"errors", len(errs),
		"took", time.Since(start).Round(time.Millisecond).String(),
	)
	return errors.Join(errs...)
}

// UpdatedAt is the time of the last successful refresh.
func (o *Overlay) UpdatedAt() time.Time {
	if o == nil {
		return time.Time{}
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updatedAt
}

// Range expands the cached events over [start, end) and groups the
// occurrences by every day they touch.
func (o *Overlay) Range(start, end time.Time) map[calendar.DateKey][]model.Occurrence {
	if !o.Enabled() {
		return nil
	}
	o.mu.RLock()
	events := o.events
	o.mu.RUnlock()
	if len(events) == 0 {
		return nil
	}

	res, err := Expand(events, ExpandConfig{
		DisplayLocation: o.loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		appLog.Error("ics overlay expand failed", err)
		return nil
	}
	return GroupByDay(res.Occurrences)
}

// ForGrid returns the overlay of the days a grid shows.
func (o *Overlay) ForGrid(cells []calendar.Cell) map[calendar.DateKey][]model.Occurrence {
	if len(cells) == 0 {
		return nil
	}
	first := cells[0].Date().Time(o.loc)
	last := cells[len(cells)-1].Date().AddDays(1).Time(o.loc)
	return o.Range(first, last)
}

// GroupByDay indexes occurrences by the days they touch.
func GroupByDay(occ []model.Occurrence) map[calendar.DateKey][]model.Occurrence {
	out := make(map[calendar.DateKey][]model.Occurrence)
	for _, oc := range occ {
		for _, k := range oc.Days() {
			out[k] = append(out[k], oc)
		}
	}
	return out
}
