package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"calsched/internal/reminder"
)

// wallLayout stores AtDateTime wall clocks without a zone.
const wallLayout = "2006-01-02T15:04:05.999999999"

type sqliteReminders struct{ s *sqliteStore }

const reminderColumns = `id, contribution_id, user_id, text, state, trigger_kind, at_wall, offset_ns, frozen_ns, created_ns, updated_ns`

func scanReminder(r rowScanner) (reminder.Reminder, error) {
	var (
		rem                  reminder.Reminder
		state, kind          string
		atWall               sql.NullString
		offset, frozen       sql.NullInt64
		createdNS, updatedNS int64
	)
	err := r.Scan(&rem.ID, &rem.ContributionID, &rem.UserID, &rem.Text, &state, &kind,
		&atWall, &offset, &frozen, &createdNS, &updatedNS)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if rem.State, err = reminder.ParseState(state); err != nil {
		return reminder.Reminder{}, err
	}
	switch reminder.TriggerKind(kind) {
	case reminder.KindAtDateTime:
		at, err := time.ParseInLocation(wallLayout, atWall.String, time.UTC)
		if err != nil {
			return reminder.Reminder{}, fmt.Errorf("reminder %s: bad wall clock %q: %w", rem.ID, atWall.String, err)
		}
		rem.Trigger = reminder.At(at)
	case reminder.KindRelative:
		rem.Trigger = reminder.Before(time.Duration(offset.Int64))
	default:
		return reminder.Reminder{}, fmt.Errorf("reminder %s: unknown trigger kind %q", rem.ID, kind)
	}
	if frozen.Valid {
		rem = rem.WithScheduledAt(mo.Some(fromNanos(frozen.Int64)))
	}
	rem.CreatedAt = fromNanos(createdNS)
	rem.UpdatedAt = fromNanos(updatedNS)
	return rem, nil
}

func (m sqliteReminders) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	r, err := scanReminder(m.s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	return r, err
}

func (m sqliteReminders) Save(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var (
		atWall sql.NullString
		offset sql.NullInt64
		frozen sql.NullInt64
	)
	switch t := r.Trigger.(type) {
	case reminder.AtDateTime:
		atWall = sql.NullString{String: t.At.Format(wallLayout), Valid: true}
	case reminder.Relative:
		offset = sql.NullInt64{Int64: int64(t.Offset), Valid: true}
	default:
		return reminder.Reminder{}, reminder.ErrNoTrigger
	}
	if at, ok := r.ScheduledAt().Get(); ok {
		frozen = sql.NullInt64{Int64: nanos(at), Valid: true}
	}
	_, err := m.s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET contribution_id=excluded.contribution_id, user_id=excluded.user_id,
		   text=excluded.text, state=excluded.state, trigger_kind=excluded.trigger_kind, at_wall=excluded.at_wall,
		   offset_ns=excluded.offset_ns, frozen_ns=excluded.frozen_ns, updated_ns=excluded.updated_ns`,
		r.ID, r.ContributionID, r.UserID, r.Text, r.State.String(), string(r.Trigger.Kind()),
		atWall, offset, frozen, nanos(r.CreatedAt), nanos(r.UpdatedAt),
	)
	if err != nil {
		return reminder.Reminder{}, err
	}
	return r, nil
}

func (m sqliteReminders) ListByState(ctx context.Context, states ...reminder.State) ([]reminder.Reminder, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st.String()
	}
	return m.query(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE state IN (`+placeholders(len(states))+`) ORDER BY id`, args...)
}

func (m sqliteReminders) ListByContribution(ctx context.Context, contributionID string) ([]reminder.Reminder, error) {
	return m.query(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE contribution_id = ? ORDER BY id`, contributionID)
}

func (m sqliteReminders) query(ctx context.Context, q string, args ...any) ([]reminder.Reminder, error) {
	rows, err := m.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (m sqliteReminders) Delete(ctx context.Context, id string) error {
	_, err := m.s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}
