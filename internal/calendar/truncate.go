package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RuleWriter persists a rewritten rule for an event.
type RuleWriter interface {
	UpdateRule(ctx context.Context, id, rule string) error
}

// UntilTruncator ends a rule just before a given instant by setting
// UNTIL = before - 1s. The rest of the rule is left as written.
type UntilTruncator struct {
	Rules RuleWriter
}

func (u UntilTruncator) TruncateBefore(ctx context.Context, ev RecurringEvent, before time.Time) error {
	if strings.TrimSpace(ev.Rule) == "" {
		return nil
	}
	rule, changed, err := truncateRule(ev, before)
	if err != nil || !changed {
		return err
	}
	return u.Rules.UpdateRule(ctx, ev.ID, rule)
}

// truncateRule returns ev's rule rewritten to stop before the given instant.
// changed is false when the rule already ends earlier.
func truncateRule(ev RecurringEvent, before time.Time) (string, bool, error) {
	opt, err := ruleOption(ev)
	if err != nil {
		return "", false, err
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return "", false, fmt.Errorf("%w: event %s: %v", ErrInvalidRule, ev.ID, err)
	}
	if r.After(before, true).IsZero() {
		return "", false, nil
	}
	// An instant at or after before exists, so every earlier one lies within
	// COUNT and the bound can move to UNTIL alone.
	opt.Count = 0
	opt.Until = before.Add(-time.Second).UTC()
	opt.Dtstart = time.Time{}
	return opt.RRuleString(), true, nil
}
