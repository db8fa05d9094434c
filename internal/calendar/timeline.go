package calendar

import (
	"context"
	"fmt"

	"calsched/internal/access"
	"calsched/internal/period"
)

// Timeline serves materialized calendars to users, behind an authorization
// check on the calendar.
type Timeline struct {
	events EventSource
	mat    *Materializer
	auth   access.Authorizer
}

func NewTimeline(events EventSource, mat *Materializer, auth access.Authorizer) *Timeline {
	return &Timeline{events: events, mat: mat, auth: auth}
}

// ForUser returns the instances of calendarID overlapping window, or
// ErrForbidden when userID may not read it.
func (t *Timeline) ForUser(ctx context.Context, userID, calendarID string, window period.Period) ([]Instance, error) {
	if t.auth == nil || !t.auth.IsAuthorized(ctx, userID, calendarID, access.OpRead) {
		return nil, fmt.Errorf("%w: user %s on calendar %s", ErrForbidden, userID, calendarID)
	}
	events, err := t.events.EventsByCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	return t.mat.Timeline(ctx, events, window)
}
