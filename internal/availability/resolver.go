// Package availability answers "when can this doctor see this caller".
// The resolver is strictly read-only against the calendar; results are
// candidate proposals that the action executor re-validates at commit
// time, never reservations.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
)

// Resolver computes bookable windows from working hours minus busy time.
type Resolver struct {
	cal calendar.Calendar
	log *logging.Logger

	granularity   time.Duration
	duration      time.Duration
	maxCandidates int
}

// New creates a resolver with dialog limits from configuration.
func New(cal calendar.Calendar, dialog config.DialogConfig, log *logging.Logger) *Resolver {
	return &Resolver{
		cal:           cal,
		log:           log.Sub("availability"),
		granularity:   time.Duration(dialog.SlotGranularityMinutes) * time.Minute,
		duration:      time.Duration(dialog.DefaultDurationMinutes) * time.Minute,
		maxCandidates: dialog.MaxCandidateSlots,
	}
}

// FindSlots returns up to maxCandidates appointment windows for the
// doctor inside the requested window, ranked by closeness to the
// window's start. An empty result means no availability; a calendar
// fault is returned as an error so the caller can distinguish the two.
func (r *Resolver) FindSlots(ctx context.Context, doc *knowledge.Doctor, window domain.TimeWindow) ([]domain.TimeWindow, error) {
	if !window.End.After(window.Start) {
		return nil, fmt.Errorf("invalid availability window %v", window)
	}

	busy, err := r.cal.ListBusy(ctx, doc.CalendarID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("resolving availability for %s: %w", doc.ID, err)
	}

	candidates := r.generate(doc, window, busy)
	r.rank(candidates, window.Start)

	if len(candidates) > r.maxCandidates {
		candidates = candidates[:r.maxCandidates]
	}
	r.log.Debug().
		Str("doctor", doc.ID).
		Int("busy", len(busy)).
		Int("candidates", len(candidates)).
		Msg("availability resolved")
	return candidates, nil
}

// generate walks each day of the window, intersects the doctor's
// working hours with the requested window, and emits every free
// duration-sized slot on the granularity grid.
func (r *Resolver) generate(doc *knowledge.Doctor, window domain.TimeWindow, busy []domain.TimeWindow) []domain.TimeWindow {
	var out []domain.TimeWindow

	day := time.Date(window.Start.Year(), window.Start.Month(), window.Start.Day(), 0, 0, 0, 0, window.Start.Location())
	for !day.After(window.End) {
		for _, hours := range doc.WorkingHoursOn(day) {
			span := intersect(hours, window)
			if span == nil {
				continue
			}
			for t := span.Start; !t.Add(r.duration).After(span.End); t = t.Add(r.granularity) {
				slot := domain.TimeWindow{Start: t, End: t.Add(r.duration)}
				if !anyOverlap(slot, busy) {
					out = append(out, slot)
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// rank orders slots by distance from the caller's preferred start, the
// earlier slot winning ties.
func (r *Resolver) rank(slots []domain.TimeWindow, preferred time.Time) {
	sort.SliceStable(slots, func(i, j int) bool {
		di := absDuration(slots[i].Start.Sub(preferred))
		dj := absDuration(slots[j].Start.Sub(preferred))
		if di != dj {
			return di < dj
		}
		return slots[i].Start.Before(slots[j].Start)
	})
}

func intersect(a, b domain.TimeWindow) *domain.TimeWindow {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if !end.After(start) {
		return nil
	}
	return &domain.TimeWindow{Start: start, End: end}
}

func anyOverlap(w domain.TimeWindow, busy []domain.TimeWindow) bool {
	for _, b := range busy {
		if w.Overlaps(b) {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
