package reminder

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
)

var (
	ErrNotFound          = errors.New("reminder not found")
	ErrNotSchedulable    = errors.New("reminder not schedulable")
	ErrDelivery          = errors.New("reminder delivery failed")
	ErrInvalidTransition = errors.New("invalid reminder state transition")
	ErrNoTrigger         = errors.New("reminder has no trigger")
)

type State int

const (
	Unscheduled State = iota
	Scheduled
	Triggered
	Canceled
)

func (s State) String() string {
	switch s {
	case Unscheduled:
		return "UNSCHEDULED"
	case Scheduled:
		return "SCHEDULED"
	case Triggered:
		return "TRIGGERED"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

func ParseState(s string) (State, error) {
	for _, st := range []State{Unscheduled, Scheduled, Triggered, Canceled} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown reminder state %q", s)
}

// CanTransition reports whether the lifecycle allows moving from s to to.
// Rescheduling a scheduled reminder, and dropping a scheduled reminder back
// to unscheduled when it can no longer be armed, are both allowed.
func (s State) CanTransition(to State) bool {
	switch s {
	case Unscheduled:
		return to == Scheduled || to == Canceled
	case Scheduled:
		return to == Scheduled || to == Triggered || to == Canceled || to == Unscheduled
	default:
		return false
	}
}

func (s State) Final() bool { return s == Triggered || s == Canceled }

type TriggerKind string

const (
	KindAtDateTime TriggerKind = "AT_DATETIME"
	KindRelative   TriggerKind = "RELATIVE"
)

// Trigger defines when a reminder is due. It is either AtDateTime or
// Relative, never both.
type Trigger interface {
	Kind() TriggerKind
	sealed()
}

// AtDateTime is due at a wall-clock date and time read in the owner's
// timezone. The location carried by At is ignored.
type AtDateTime struct {
	At time.Time
}

func (AtDateTime) Kind() TriggerKind { return KindAtDateTime }
func (AtDateTime) sealed()           {}

// Relative is due Offset before the date of the contribution.
type Relative struct {
	Offset time.Duration
}

func (Relative) Kind() TriggerKind { return KindRelative }
func (Relative) sealed()           {}

func At(t time.Time) Trigger              { return AtDateTime{At: t} }
func Before(offset time.Duration) Trigger { return Relative{Offset: offset} }

// Reminder is owned by UserID and attached to ContributionID.
//
// scheduledAt holds the due instant frozen when the reminder was armed. It is
// trusted only while the reminder is SCHEDULED.
type Reminder struct {
	ID             string
	ContributionID string
	UserID         string
	Text           string
	State          State
	Trigger        Trigger
	CreatedAt      time.Time
	UpdatedAt      time.Time

	scheduledAt mo.Option[time.Time]
}

// ScheduledAt returns the frozen due instant, if any.
func (r Reminder) ScheduledAt() mo.Option[time.Time] { return r.scheduledAt }

// WithScheduledAt returns a copy carrying at as its frozen due instant. Stores
// use it to rebuild reminders.
func (r Reminder) WithScheduledAt(at mo.Option[time.Time]) Reminder {
	r.scheduledAt = at
	return r
}

func (r Reminder) TriggerName() string { return "reminder:" + r.ID }

func (r Reminder) transition(to State) (Reminder, error) {
	if !r.State.CanTransition(to) {
		return r, fmt.Errorf("%w: %s -> %s (reminder %s)", ErrInvalidTransition, r.State, to, r.ID)
	}
	r.State = to
	return r, nil
}
