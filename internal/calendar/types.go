package calendar

import (
	"errors"
	"time"

	"calsched/internal/period"
)

var (
	// ErrStoreTransaction wraps any failure of a bulk deletion. The store is
	// left unchanged when it is returned.
	ErrStoreTransaction = errors.New("occurrence store transaction failed")
	ErrEventNotFound    = errors.New("recurring event not found")
	ErrNoSuchInstance   = errors.New("rule yields no instance at that start")
	ErrInvalidRule      = errors.New("invalid recurrence rule")
	ErrRuleTruncation   = errors.New("recurrence rule truncation failed")
	ErrForbidden        = errors.New("forbidden")
)

// RecurringEvent is owned outside this package; it is consumed by identity.
// Rule is an RFC 5545 RRULE value such as "FREQ=WEEKLY;BYDAY=MO".
type RecurringEvent struct {
	ID         string
	CalendarID string
	Title      string
	Start      time.Time
	Rule       string
	Span       time.Duration
}

type Kind int

const (
	Modified Kind = iota + 1
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Occurrence is a persisted override of one instance of a recurring event.
// Instances without a record are exactly what the rule computes.
//
// Span is the event span at the time of the override, so the original slot
// [OriginalStart, OriginalStart+Span) can be queried without the event. For
// Deleted records Period is the original slot.
type Occurrence struct {
	ID            string
	EventID       string
	OriginalStart time.Time
	Span          time.Duration
	Period        period.Period
	Kind          Kind
	Title         string
	UpdatedAt     time.Time
}

// OriginalSlot is the interval the rule computed for this instance.
func (o Occurrence) OriginalSlot() period.Period {
	return period.Of(o.OriginalStart, o.Span)
}

// Instance is one visible occurrence on a timeline.
type Instance struct {
	EventID       string
	CalendarID    string
	Title         string
	OriginalStart time.Time
	Period        period.Period
	// OccurrenceID is set when a persisted override produced this instance.
	OccurrenceID string
}

func (i Instance) Overridden() bool { return i.OccurrenceID != "" }

type ChangeKind int

const (
	ChangeModified ChangeKind = iota + 1
	ChangeDeleted
)

func (c ChangeKind) String() string {
	if c == ChangeDeleted {
		return "deleted"
	}
	return "modified"
}
