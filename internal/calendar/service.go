package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calsched/internal/eventbus"
	"calsched/internal/period"
	logx "calsched/pkg/logx"
)

// Service is the occurrence store: user edits of single instances and the
// cascading deletions, on top of a Repository.
type Service struct {
	repo      Repository
	truncator RuleTruncator
	notifier  ChangeNotifier
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithTruncator(t RuleTruncator) Option  { return func(s *Service) { s.truncator = t } }
func WithNotifier(n ChangeNotifier) Option  { return func(s *Service) { s.notifier = n } }
func WithBus(b eventbus.Bus) Option         { return func(s *Service) { s.bus = b } }
func WithLogger(l logx.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = eventbus.Nop{}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Service) ListByEvent(ctx context.Context, ev RecurringEvent) ([]Occurrence, error) {
	return s.repo.ListByEvent(ctx, ev.ID)
}

func (s *Service) ListByEventsInPeriod(ctx context.Context, events []RecurringEvent, p period.Period) ([]Occurrence, error) {
	if len(events) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return s.repo.ListByEventsInPeriod(ctx, ids, p)
}

// Override moves or reshapes the instance of ev that the rule starts at
// originalStart.
func (s *Service) Override(ctx context.Context, ev RecurringEvent, originalStart time.Time, p period.Period) (Occurrence, error) {
	return s.save(ctx, ev, Occurrence{
		EventID:       ev.ID,
		OriginalStart: originalStart,
		Span:          ev.Span,
		Period:        p,
		Kind:          Modified,
		Title:         ev.Title,
	})
}

// Cancel hides the single instance of ev starting at originalStart.
func (s *Service) Cancel(ctx context.Context, ev RecurringEvent, originalStart time.Time) (Occurrence, error) {
	return s.save(ctx, ev, Occurrence{
		EventID:       ev.ID,
		OriginalStart: originalStart,
		Span:          ev.Span,
		Period:        period.Of(originalStart, ev.Span),
		Kind:          Deleted,
	})
}

func (s *Service) save(ctx context.Context, ev RecurringEvent, o Occurrence) (Occurrence, error) {
	ok, err := yields(ev, o.OriginalStart)
	if err != nil {
		return Occurrence{}, err
	}
	if !ok {
		return Occurrence{}, fmt.Errorf("%w: event %s at %s", ErrNoSuchInstance, ev.ID, o.OriginalStart.Format(time.RFC3339))
	}
	o.UpdatedAt = s.now()
	saved, err := s.repo.Save(ctx, o)
	if err != nil {
		return Occurrence{}, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.OccurrenceChanged, Data: saved})
	s.log.Debug("occurrence saved", logx.String("event", ev.ID), logx.String("kind", saved.Kind.String()), logx.Time("original_start", saved.OriginalStart))
	return saved, nil
}

// DeleteSince removes the instance of ev at since and every later one: the
// persisted records go in one transaction, then the rule is truncated so it
// stops computing them. It returns the number of records removed. With notify
// each removed record is announced after the commit.
func (s *Service) DeleteSince(ctx context.Context, ev RecurringEvent, since time.Time, notify bool) (int64, error) {
	deleted, err := s.repo.DeleteSince(ctx, ev.ID, since)
	if err != nil {
		return 0, wrapStore(err)
	}
	n := int64(len(deleted))
	s.log.Info("occurrences deleted since", logx.String("event", ev.ID), logx.Time("since", since), logx.Int64("count", n))

	if s.truncator != nil {
		if err := s.truncator.TruncateBefore(ctx, ev, since); err != nil {
			s.announce(ctx, deleted, notify)
			return n, fmt.Errorf("%w: event %s: %w", ErrRuleTruncation, ev.ID, err)
		}
	}
	s.announce(ctx, deleted, notify)
	return n, nil
}

// DeleteAllByEvent removes every persisted record of ev. The rule is left
// untouched.
func (s *Service) DeleteAllByEvent(ctx context.Context, ev RecurringEvent, notify bool) (int64, error) {
	deleted, err := s.repo.DeleteAllByEvent(ctx, ev.ID)
	if err != nil {
		return 0, wrapStore(err)
	}
	n := int64(len(deleted))
	s.log.Info("occurrences deleted", logx.String("event", ev.ID), logx.Int64("count", n))
	s.announce(ctx, deleted, notify)
	return n, nil
}

func (s *Service) announce(ctx context.Context, deleted []Occurrence, notify bool) {
	if !notify {
		return
	}
	for _, o := range deleted {
		s.bus.Publish(eventbus.Event{Type: eventbus.OccurrenceChanged, Data: o})
		if s.notifier != nil {
			s.notifier.NotifyOccurrenceChange(ctx, o, ChangeDeleted)
		}
	}
}

func wrapStore(err error) error {
	if errors.Is(err, ErrStoreTransaction) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreTransaction, err)
}
