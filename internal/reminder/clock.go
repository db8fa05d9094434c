package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/mo"
)

// TimezoneResolver returns the current zone of a user.
type TimezoneResolver interface {
	ResolveZone(ctx context.Context, userID string) (*time.Location, error)
}

// ContributionDates returns the date of a contribution, when it has one.
type ContributionDates interface {
	ResolveDate(ctx context.Context, contributionID string) (mo.Option[time.Time], error)
}

// Clock computes due instants.
type Clock struct {
	Zones TimezoneResolver
	Dates ContributionDates
	Now   func() time.Time
}

func (c Clock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// DueInstant returns when r is due. A scheduled AtDateTime reminder keeps the
// instant frozen when it was armed, whatever the owner's zone is now.
func (c Clock) DueInstant(ctx context.Context, r Reminder) (mo.Option[time.Time], error) {
	switch t := r.Trigger.(type) {
	case AtDateTime:
		if r.State == Scheduled {
			if at, ok := r.scheduledAt.Get(); ok {
				return mo.Some(at), nil
			}
		}
		if t.At.IsZero() {
			return mo.None[time.Time](), nil
		}
		loc := time.UTC
		if c.Zones != nil {
			z, err := c.Zones.ResolveZone(ctx, r.UserID)
			if err != nil {
				return mo.None[time.Time](), fmt.Errorf("resolve zone of user %s: %w", r.UserID, err)
			}
			if z != nil {
				loc = z
			}
		}
		return mo.Some(inZone(t.At, loc)), nil

	case Relative:
		if c.Dates == nil {
			return mo.None[time.Time](), nil
		}
		date, err := c.Dates.ResolveDate(ctx, r.ContributionID)
		if err != nil {
			return mo.None[time.Time](), fmt.Errorf("resolve date of contribution %s: %w", r.ContributionID, err)
		}
		d, ok := date.Get()
		if !ok {
			return mo.None[time.Time](), nil
		}
		return mo.Some(d.Add(-t.Offset)), nil

	case nil:
		return mo.None[time.Time](), ErrNoTrigger
	default:
		return mo.None[time.Time](), fmt.Errorf("unsupported trigger %T", t)
	}
}

// IsSchedulable reports whether r has a due instant that is not in the past.
// An instant equal to now is schedulable.
func (c Clock) IsSchedulable(ctx context.Context, r Reminder) (bool, error) {
	due, err := c.DueInstant(ctx, r)
	if err != nil {
		return false, err
	}
	at, ok := due.Get()
	return ok && !at.Before(c.now()), nil
}

func inZone(wall time.Time, loc *time.Location) time.Time {
	y, m, d := wall.Date()
	hh, mm, ss := wall.Clock()
	return time.Date(y, m, d, hh, mm, ss, wall.Nanosecond(), loc)
}
