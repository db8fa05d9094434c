package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"calsched/internal/calendar"
	"calsched/internal/period"
	logx "calsched/pkg/logx"
)

type sqliteEvents struct{ s *sqliteStore }

const eventColumns = `id, calendar_id, title, start_ns, rule, span_ns, tz`

func (e sqliteEvents) scanEvent(r rowScanner) (calendar.RecurringEvent, error) {
	var (
		ev            calendar.RecurringEvent
		start, spanNS int64
		tz            string
	)
	if err := r.Scan(&ev.ID, &ev.CalendarID, &ev.Title, &start, &ev.Rule, &spanNS, &tz); err != nil {
		return calendar.RecurringEvent{}, err
	}
	loc, ok := zoneNamed(tz)
	if !ok {
		e.s.log.Warn("unknown event zone, using UTC", logx.String("event", ev.ID), logx.String("tz", tz))
	}
	// Rules expand in the start's zone, so the wall clock must survive storage.
	ev.Start = time.Unix(0, start).In(loc)
	ev.Span = time.Duration(spanNS)
	return ev, nil
}

func (e sqliteEvents) Event(ctx context.Context, id string) (calendar.RecurringEvent, error) {
	ev, err := e.scanEvent(e.s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.RecurringEvent{}, fmt.Errorf("%w: %s", calendar.ErrEventNotFound, id)
	}
	return ev, err
}

func (e sqliteEvents) EventsByCalendar(ctx context.Context, calendarID string) ([]calendar.RecurringEvent, error) {
	rows, err := e.s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE calendar_id = ? ORDER BY id`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []calendar.RecurringEvent
	for rows.Next() {
		ev, err := e.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (e sqliteEvents) UpdateRule(ctx context.Context, id, rule string) error {
	res, err := e.s.db.ExecContext(ctx, `UPDATE events SET rule = ? WHERE id = ?`, rule, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", calendar.ErrEventNotFound, id)
	}
	return nil
}

func (e sqliteEvents) SaveEvent(ctx context.Context, ev calendar.RecurringEvent) (calendar.RecurringEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := e.s.db.ExecContext(ctx,
		`INSERT INTO events(`+eventColumns+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET calendar_id=excluded.calendar_id, title=excluded.title,
		   start_ns=excluded.start_ns, rule=excluded.rule, span_ns=excluded.span_ns, tz=excluded.tz`,
		ev.ID, ev.CalendarID, ev.Title, nanos(ev.Start), ev.Rule, int64(ev.Span), ev.Start.Location().String(),
	)
	return ev, err
}

func (e sqliteEvents) DeleteEvent(ctx context.Context, id string) error {
	_, err := e.s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return err
}

type sqliteOccurrences struct{ s *sqliteStore }

const occurrenceColumns = `id, event_id, original_start_ns, span_ns, start_ns, end_ns, kind, title, updated_ns`

func scanOccurrence(r rowScanner) (calendar.Occurrence, error) {
	var (
		o                                   calendar.Occurrence
		orig, spanNS, start, end, updatedNS int64
		kind                                int
	)
	if err := r.Scan(&o.ID, &o.EventID, &orig, &spanNS, &start, &end, &kind, &o.Title, &updatedNS); err != nil {
		return calendar.Occurrence{}, err
	}
	p, err := period.New(fromNanos(start), fromNanos(end))
	if err != nil {
		return calendar.Occurrence{}, fmt.Errorf("occurrence %s: %w", o.ID, err)
	}
	o.OriginalStart = fromNanos(orig)
	o.Span = time.Duration(spanNS)
	o.Period = p
	o.Kind = calendar.Kind(kind)
	o.UpdatedAt = fromNanos(updatedNS)
	return o, nil
}

func queryOccurrences(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, query string, args ...any) ([]calendar.Occurrence, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []calendar.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r sqliteOccurrences) ListByEvent(ctx context.Context, eventID string) ([]calendar.Occurrence, error) {
	return queryOccurrences(ctx, r.s.db,
		`SELECT `+occurrenceColumns+` FROM occurrences WHERE event_id = ? ORDER BY original_start_ns`, eventID)
}

// ListByEventsInPeriod narrows candidates in SQL with closed bounds, then
// applies the exact half-open overlap rules.
func (r sqliteOccurrences) ListByEventsInPeriod(ctx context.Context, eventIDs []string, p period.Period) ([]calendar.Occurrence, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(eventIDs)+4)
	for _, id := range eventIDs {
		args = append(args, id)
	}
	from, to := nanos(p.Start()), nanos(p.End())
	args = append(args, to, from, to, from)
	cands, err := queryOccurrences(ctx, r.s.db,
		`SELECT `+occurrenceColumns+` FROM occurrences
		 WHERE event_id IN (`+placeholders(len(eventIDs))+`)
		   AND ((start_ns <= ? AND end_ns >= ?) OR (original_start_ns <= ? AND original_start_ns + span_ns >= ?))
		 ORDER BY event_id, original_start_ns`, args...)
	if err != nil {
		return nil, err
	}
	out := cands[:0]
	for _, o := range cands {
		if visibleIn(o, p) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r sqliteOccurrences) Save(ctx context.Context, o calendar.Occurrence) (calendar.Occurrence, error) {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM occurrences WHERE event_id = ? AND original_start_ns = ?`,
			o.EventID, nanos(o.OriginalStart)).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if o.ID == "" {
				o.ID = uuid.NewString()
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO occurrences(`+occurrenceColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
				o.ID, o.EventID, nanos(o.OriginalStart), int64(o.Span),
				nanos(o.Period.Start()), nanos(o.Period.End()), int(o.Kind), o.Title, nanos(o.UpdatedAt))
			return err
		case err != nil:
			return err
		}
		o.ID = id
		_, err = tx.ExecContext(ctx,
			`UPDATE occurrences SET span_ns=?, start_ns=?, end_ns=?, kind=?, title=?, updated_ns=? WHERE id = ?`,
			int64(o.Span), nanos(o.Period.Start()), nanos(o.Period.End()), int(o.Kind), o.Title, nanos(o.UpdatedAt), id)
		return err
	})
	if err != nil {
		return calendar.Occurrence{}, err
	}
	return o, nil
}

func (r sqliteOccurrences) DeleteSince(ctx context.Context, eventID string, originalStart time.Time) ([]calendar.Occurrence, error) {
	return r.deleteWhere(ctx, `event_id = ? AND original_start_ns >= ?`, eventID, nanos(originalStart))
}

func (r sqliteOccurrences) DeleteAllByEvent(ctx context.Context, eventID string) ([]calendar.Occurrence, error) {
	return r.deleteWhere(ctx, `event_id = ?`, eventID)
}

// deleteWhere reads and deletes the matching rows in one transaction.
func (r sqliteOccurrences) deleteWhere(ctx context.Context, where string, args ...any) ([]calendar.Occurrence, error) {
	var removed []calendar.Occurrence
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = queryOccurrences(ctx, tx,
			`SELECT `+occurrenceColumns+` FROM occurrences WHERE `+where+` ORDER BY original_start_ns`, args...)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM occurrences WHERE `+where, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && int(n) != len(removed) {
			return fmt.Errorf("deleted %d rows, expected %d", n, len(removed))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", calendar.ErrStoreTransaction, err)
	}
	return removed, nil
}
