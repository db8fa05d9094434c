package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"calsched/internal/calendar"
	"calsched/internal/document"
	"calsched/internal/period"
	"calsched/internal/reminder"
)

// memStore keeps everything in maps behind one mutex, so every operation,
// bulk deletions included, is atomic.
type memStore struct {
	mu sync.RWMutex

	events      map[string]calendar.RecurringEvent
	occurrences map[string]calendar.Occurrence // by occurrenceKey
	reminders   map[string]reminder.Reminder
	documents   map[string]document.Document
	content     map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		events:      map[string]calendar.RecurringEvent{},
		occurrences: map[string]calendar.Occurrence{},
		reminders:   map[string]reminder.Reminder{},
		documents:   map[string]document.Document{},
		content:     map[string][]byte{},
	}
}

func (s *memStore) Events() Events                   { return memEvents{s} }
func (s *memStore) Occurrences() calendar.Repository { return memOccurrences{s} }
func (s *memStore) Reminders() reminder.Repository   { return memReminders{s} }
func (s *memStore) Documents() document.Repository   { return memDocuments{s} }
func (s *memStore) Close() error                     { return nil }

func occurrenceKey(eventID string, originalStart time.Time) string {
	return eventID + "@" + fmt.Sprint(originalStart.UnixNano())
}

// ---- events ----

type memEvents struct{ s *memStore }

func (m memEvents) Event(_ context.Context, id string) (calendar.RecurringEvent, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	ev, ok := m.s.events[id]
	if !ok {
		return calendar.RecurringEvent{}, fmt.Errorf("%w: %s", calendar.ErrEventNotFound, id)
	}
	return ev, nil
}

func (m memEvents) EventsByCalendar(_ context.Context, calendarID string) ([]calendar.RecurringEvent, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []calendar.RecurringEvent
	for _, ev := range m.s.events {
		if ev.CalendarID == calendarID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memEvents) UpdateRule(_ context.Context, id, rule string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ev, ok := m.s.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", calendar.ErrEventNotFound, id)
	}
	ev.Rule = rule
	m.s.events[id] = ev
	return nil
}

func (m memEvents) SaveEvent(_ context.Context, ev calendar.RecurringEvent) (calendar.RecurringEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	m.s.mu.Lock()
	m.s.events[ev.ID] = ev
	m.s.mu.Unlock()
	return ev, nil
}

func (m memEvents) DeleteEvent(_ context.Context, id string) error {
	m.s.mu.Lock()
	delete(m.s.events, id)
	m.s.mu.Unlock()
	return nil
}

// ---- occurrences ----

type memOccurrences struct{ s *memStore }

func (m memOccurrences) ListByEvent(_ context.Context, eventID string) ([]calendar.Occurrence, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []calendar.Occurrence
	for _, o := range m.s.occurrences {
		if o.EventID == eventID {
			out = append(out, o)
		}
	}
	sortOccurrences(out)
	return out, nil
}

func (m memOccurrences) ListByEventsInPeriod(_ context.Context, eventIDs []string, p period.Period) ([]calendar.Occurrence, error) {
	want := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		want[id] = struct{}{}
	}
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []calendar.Occurrence
	for _, o := range m.s.occurrences {
		if _, ok := want[o.EventID]; ok && visibleIn(o, p) {
			out = append(out, o)
		}
	}
	sortOccurrences(out)
	return out, nil
}

func (m memOccurrences) Save(_ context.Context, o calendar.Occurrence) (calendar.Occurrence, error) {
	k := occurrenceKey(o.EventID, o.OriginalStart)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if prev, ok := m.s.occurrences[k]; ok {
		o.ID = prev.ID
	} else if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	m.s.occurrences[k] = o
	return o, nil
}

func (m memOccurrences) DeleteSince(_ context.Context, eventID string, originalStart time.Time) ([]calendar.Occurrence, error) {
	return m.deleteWhere(func(o calendar.Occurrence) bool {
		return o.EventID == eventID && !o.OriginalStart.Before(originalStart)
	}), nil
}

func (m memOccurrences) DeleteAllByEvent(_ context.Context, eventID string) ([]calendar.Occurrence, error) {
	return m.deleteWhere(func(o calendar.Occurrence) bool { return o.EventID == eventID }), nil
}

func (m memOccurrences) deleteWhere(match func(calendar.Occurrence) bool) []calendar.Occurrence {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []calendar.Occurrence
	for k, o := range m.s.occurrences {
		if match(o) {
			out = append(out, o)
			delete(m.s.occurrences, k)
		}
	}
	sortOccurrences(out)
	return out
}

// visibleIn reports whether an override concerns window p, either by its
// effective period or by the slot it replaces.
func visibleIn(o calendar.Occurrence, p period.Period) bool {
	return o.Period.Overlaps(p) || o.OriginalSlot().Overlaps(p)
}

func sortOccurrences(rows []calendar.Occurrence) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EventID != rows[j].EventID {
			return rows[i].EventID < rows[j].EventID
		}
		return rows[i].OriginalStart.Before(rows[j].OriginalStart)
	})
}

// ---- reminders ----

type memReminders struct{ s *memStore }

func (m memReminders) Get(_ context.Context, id string) (reminder.Reminder, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	r, ok := m.s.reminders[id]
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	return r, nil
}

func (m memReminders) Save(_ context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.s.mu.Lock()
	m.s.reminders[r.ID] = r
	m.s.mu.Unlock()
	return r, nil
}

func (m memReminders) ListByState(_ context.Context, states ...reminder.State) ([]reminder.Reminder, error) {
	return m.list(func(r reminder.Reminder) bool {
		for _, st := range states {
			if r.State == st {
				return true
			}
		}
		return false
	}), nil
}

func (m memReminders) ListByContribution(_ context.Context, contributionID string) ([]reminder.Reminder, error) {
	return m.list(func(r reminder.Reminder) bool { return r.ContributionID == contributionID }), nil
}

func (m memReminders) list(match func(reminder.Reminder) bool) []reminder.Reminder {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []reminder.Reminder
	for _, r := range m.s.reminders {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memReminders) Delete(_ context.Context, id string) error {
	m.s.mu.Lock()
	delete(m.s.reminders, id)
	m.s.mu.Unlock()
	return nil
}

// ---- documents ----

type memDocuments struct{ s *memStore }

func (m memDocuments) FindByName(_ context.Context, componentID, contributionID, filename string) (mo.Option[document.Document], error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, d := range m.s.documents {
		if d.ComponentID == componentID && d.ContributionID == contributionID && d.Filename == filename {
			return mo.Some(d), nil
		}
	}
	return mo.None[document.Document](), nil
}

func (m memDocuments) ListByContribution(_ context.Context, componentID, contributionID string) ([]document.Document, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []document.Document
	for _, d := range m.s.documents {
		if d.ComponentID == componentID && d.ContributionID == contributionID {
			out = append(out, d)
		}
	}
	sortDocuments(out)
	return out, nil
}

func (m memDocuments) Create(_ context.Context, d document.Document, content []byte) (document.Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.documents[d.ID] = d
	m.s.content[d.ID] = append([]byte(nil), content...)
	return d, nil
}

func (m memDocuments) UpdateContent(_ context.Context, id string, content []byte, mimeType string) (document.Document, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.documents[id]
	if !ok {
		return document.Document{}, fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	d.Size = int64(len(content))
	d.MimeType = mimeType
	d.UpdatedAt = time.Now()
	m.s.documents[id] = d
	m.s.content[id] = append([]byte(nil), content...)
	return d, nil
}

func (m memDocuments) Unlock(_ context.Context, id string, opt document.UnlockOptions) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.documents[id]
	if !ok {
		return fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	d.Locked = false
	d.Private = opt.PrivateVersion
	m.s.documents[id] = d
	return nil
}

// sortDocuments orders by creation so source lookups are deterministic.
func sortDocuments(ds []document.Document) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].CreatedAt.Before(ds[j].CreatedAt)
		}
		return ds[i].ID < ds[j].ID
	})
}
