// Package period provides the half-open time interval used across calendar
// and scheduling code.
package period

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPeriod = errors.New("period end is before start")

// Period is an immutable half-open interval [Start, End).
// A Period with Start == End is empty: it contains no instant.
type Period struct {
	start time.Time
	end   time.Time
}

// New returns [start, end). It fails when end is before start.
func New(start, end time.Time) (Period, error) {
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: [%s, %s)", ErrInvalidPeriod, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Period{start: start, end: end}, nil
}

// Must is New for values known to be valid (constants, tests).
func Must(start, end time.Time) Period {
	p, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

// Of returns [start, start+d). Negative spans are clamped to empty.
func Of(start time.Time, d time.Duration) Period {
	if d < 0 {
		d = 0
	}
	return Period{start: start, end: start.Add(d)}
}

func (p Period) Start() time.Time { return p.start }
func (p Period) End() time.Time   { return p.end }

func (p Period) Duration() time.Duration { return p.end.Sub(p.start) }

func (p Period) IsEmpty() bool { return !p.start.Before(p.end) }

func (p Period) IsZero() bool { return p.start.IsZero() && p.end.IsZero() }

// Contains reports whether t lies in [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.start) && t.Before(p.end)
}

// Overlaps reports whether both periods share at least one instant.
// An empty period overlaps another one when its start lies inside it, so a
// zero-length occurrence is still visible in the window that holds it.
func (p Period) Overlaps(o Period) bool {
	if p.IsEmpty() {
		return o.Contains(p.start)
	}
	if o.IsEmpty() {
		return p.Contains(o.start)
	}
	return p.start.Before(o.end) && o.start.Before(p.end)
}

// Shift moves both bounds by d.
func (p Period) Shift(d time.Duration) Period {
	return Period{start: p.start.Add(d), end: p.end.Add(d)}
}

// In converts both bounds into loc.
func (p Period) In(loc *time.Location) Period {
	if loc == nil {
		return p
	}
	return Period{start: p.start.In(loc), end: p.end.In(loc)}
}

func (p Period) Equal(o Period) bool {
	return p.start.Equal(o.start) && p.end.Equal(o.end)
}

func (p Period) String() string {
	return "[" + p.start.Format(time.RFC3339) + ", " + p.end.Format(time.RFC3339) + ")"
}
