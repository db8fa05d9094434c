package calendar

import (
	"context"
	"sort"

	"calsched/internal/period"
	logx "calsched/pkg/logx"
)

const DefaultMaxPerEvent = 5000

// OverrideLister returns the persisted overrides relevant to a window.
type OverrideLister interface {
	ListByEventsInPeriod(ctx context.Context, events []RecurringEvent, p period.Period) ([]Occurrence, error)
}

// Materializer turns recurring events into the instances visible in a window.
type Materializer struct {
	overrides   OverrideLister
	maxPerEvent int
	log         logx.Logger
}

func NewMaterializer(overrides OverrideLister, maxPerEvent int, log logx.Logger) *Materializer {
	if maxPerEvent <= 0 {
		maxPerEvent = DefaultMaxPerEvent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Materializer{overrides: overrides, maxPerEvent: maxPerEvent, log: log}
}

// Expand computes the instances of ev overlapping window and merges the given
// overrides into them. A persisted record always wins over the rule for its
// original start: Deleted hides the instance, Modified replaces its period.
// A Modified instance moved into the window from outside is included.
func (m *Materializer) Expand(ev RecurringEvent, window period.Period, overrides []Occurrence) ([]Instance, error) {
	starts, err := m.ruleStarts(ev, window)
	if err != nil {
		return nil, err
	}

	byStart := make(map[int64]Occurrence, len(overrides))
	for _, o := range overrides {
		if o.EventID == ev.ID {
			byStart[o.OriginalStart.UnixNano()] = o
		}
	}

	out := make([]Instance, 0, len(starts))
	seen := make(map[int64]struct{}, len(byStart))
	for _, slot := range starts {
		key := slot.Start().UnixNano()
		if o, ok := byStart[key]; ok {
			seen[key] = struct{}{}
			if o.Kind == Modified && o.Period.Overlaps(window) {
				out = append(out, overrideInstance(ev, o))
			}
			continue
		}
		out = append(out, Instance{
			EventID:       ev.ID,
			CalendarID:    ev.CalendarID,
			Title:         ev.Title,
			OriginalStart: slot.Start(),
			Period:        slot,
		})
	}

	for key, o := range byStart {
		if _, ok := seen[key]; ok || o.Kind != Modified || !o.Period.Overlaps(window) {
			continue
		}
		ok, err := yields(ev, o.OriginalStart)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, overrideInstance(ev, o))
		}
	}

	sortInstances(out)
	return out, nil
}

// Timeline materializes every event over window, reading the overrides once.
func (m *Materializer) Timeline(ctx context.Context, events []RecurringEvent, window period.Period) ([]Instance, error) {
	if len(events) == 0 {
		return nil, nil
	}
	var overrides []Occurrence
	if m.overrides != nil {
		var err error
		overrides, err = m.overrides.ListByEventsInPeriod(ctx, events, window)
		if err != nil {
			return nil, err
		}
	}
	byEvent := make(map[string][]Occurrence)
	for _, o := range overrides {
		byEvent[o.EventID] = append(byEvent[o.EventID], o)
	}

	var out []Instance
	for _, ev := range events {
		inst, err := m.Expand(ev, window, byEvent[ev.ID])
		if err != nil {
			m.log.Warn("expand failed", logx.String("event", ev.ID), logx.Err(err))
			continue
		}
		out = append(out, inst...)
	}
	sortInstances(out)
	return out, nil
}

// ruleStarts lists the rule instants whose slot overlaps window.
func (m *Materializer) ruleStarts(ev RecurringEvent, window period.Period) ([]period.Period, error) {
	r, err := compileRule(ev)
	if err != nil {
		return nil, err
	}
	if r == nil {
		slot := period.Of(ev.Start, ev.Span)
		if slot.Overlaps(window) {
			return []period.Period{slot}, nil
		}
		return nil, nil
	}

	// Instances starting up to one span before the window can still reach into it.
	times := r.Between(window.Start().Add(-ev.Span), window.End(), true)
	out := make([]period.Period, 0, len(times))
	for _, t := range times {
		slot := period.Of(t, ev.Span)
		if !slot.Overlaps(window) {
			continue
		}
		if len(out) == m.maxPerEvent {
			m.log.Warn("occurrence cap reached", logx.String("event", ev.ID), logx.Int("cap", m.maxPerEvent))
			break
		}
		out = append(out, slot)
	}
	return out, nil
}

func overrideInstance(ev RecurringEvent, o Occurrence) Instance {
	title := o.Title
	if title == "" {
		title = ev.Title
	}
	return Instance{
		EventID:       ev.ID,
		CalendarID:    ev.CalendarID,
		Title:         title,
		OriginalStart: o.OriginalStart,
		Period:        o.Period,
		OccurrenceID:  o.ID,
	}
}

func sortInstances(in []Instance) {
	sort.SliceStable(in, func(i, j int) bool {
		a, b := in[i].Period.Start(), in[j].Period.Start()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return in[i].EventID < in[j].EventID
	})
}
