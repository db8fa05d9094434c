package calendar

import (
	"context"
	"time"

	"calsched/internal/period"
)

// Repository persists occurrence overrides. Implementations must keep at most
// one record per (EventID, OriginalStart) and run both bulk deletions in a
// single transaction, wrapping failures with ErrStoreTransaction.
type Repository interface {
	ListByEvent(ctx context.Context, eventID string) ([]Occurrence, error)
	// ListByEventsInPeriod returns the records of the given events whose
	// effective period or original slot intersects p.
	ListByEventsInPeriod(ctx context.Context, eventIDs []string, p period.Period) ([]Occurrence, error)
	// Save upserts by (EventID, OriginalStart) and returns the stored record.
	Save(ctx context.Context, o Occurrence) (Occurrence, error)
	DeleteSince(ctx context.Context, eventID string, originalStart time.Time) ([]Occurrence, error)
	DeleteAllByEvent(ctx context.Context, eventID string) ([]Occurrence, error)
}

// EventSource is the owner of recurring events.
type EventSource interface {
	Event(ctx context.Context, id string) (RecurringEvent, error)
	EventsByCalendar(ctx context.Context, calendarID string) ([]RecurringEvent, error)
	UpdateRule(ctx context.Context, id, rule string) error
}

// RuleTruncator stops an event's rule from yielding instants at or after
// before.
type RuleTruncator interface {
	TruncateBefore(ctx context.Context, ev RecurringEvent, before time.Time) error
}

// ChangeNotifier fans out occurrence changes to interested parties.
type ChangeNotifier interface {
	NotifyOccurrenceChange(ctx context.Context, o Occurrence, kind ChangeKind)
}

type ChangeNotifierFunc func(ctx context.Context, o Occurrence, kind ChangeKind)

func (f ChangeNotifierFunc) NotifyOccurrenceChange(ctx context.Context, o Occurrence, kind ChangeKind) {
	f(ctx, o, kind)
}
