package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

func ruleOption(ev RecurringEvent) (*rrule.ROption, error) {
	raw := strings.TrimSpace(ev.Rule)
	raw = strings.TrimPrefix(raw, "RRULE:")
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: event %s: %v", ErrInvalidRule, ev.ID, err)
	}
	opt.Dtstart = ev.Start
	return opt, nil
}

// compileRule returns the event's rule anchored at its start. An event with
// no rule yields nil and a single instance at Start.
func compileRule(ev RecurringEvent) (*rrule.RRule, error) {
	if strings.TrimSpace(ev.Rule) == "" {
		return nil, nil
	}
	opt, err := ruleOption(ev)
	if err != nil {
		return nil, err
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: event %s: %v", ErrInvalidRule, ev.ID, err)
	}
	return r, nil
}

// yields reports whether the rule computes an instance starting exactly at t.
func yields(ev RecurringEvent, t time.Time) (bool, error) {
	r, err := compileRule(ev)
	if err != nil {
		return false, err
	}
	if r == nil {
		return ev.Start.Equal(t), nil
	}
	return len(r.Between(t, t, true)) > 0, nil
}
