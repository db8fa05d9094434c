package storage

import (
	"context"
	"errors"
	"time"

	"calsched/internal/calendar"
	"calsched/internal/document"
	"calsched/internal/reminder"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Events owns recurring events and their rules.
type Events interface {
	calendar.EventSource
	SaveEvent(ctx context.Context, ev calendar.RecurringEvent) (calendar.RecurringEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Store groups the repositories of one backend.
type Store interface {
	Events() Events
	Occurrences() calendar.Repository
	Reminders() reminder.Repository
	Documents() document.Repository
	Close() error
}
