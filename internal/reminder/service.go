package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"calsched/internal/eventbus"
	logx "calsched/pkg/logx"
)

// Scheduler arms and disarms one-shot wake-ups by name.
type Scheduler interface {
	AddOnce(name string, at time.Time, run func(ctx context.Context) error) error
	Remove(name string) bool
}

// Deliverer hands a due reminder to its owner.
type Deliverer interface {
	Deliver(ctx context.Context, r Reminder) error
}

type DelivererFunc func(ctx context.Context, r Reminder) error

func (f DelivererFunc) Deliver(ctx context.Context, r Reminder) error { return f(ctx, r) }

type Repository interface {
	Get(ctx context.Context, id string) (Reminder, error)
	Save(ctx context.Context, r Reminder) (Reminder, error)
	ListByState(ctx context.Context, states ...State) ([]Reminder, error)
	ListByContribution(ctx context.Context, contributionID string) ([]Reminder, error)
	Delete(ctx context.Context, id string) error
}

// Service drives the reminder lifecycle:
//
//	UNSCHEDULED -> SCHEDULED -> TRIGGERED
//	UNSCHEDULED | SCHEDULED -> CANCELED
type Service struct {
	clock Clock
	sched Scheduler
	out   Deliverer
	repo  Repository
	bus   eventbus.Bus
	log   logx.Logger
}

func NewService(clock Clock, sched Scheduler, out Deliverer, repo Repository, bus eventbus.Bus, log logx.Logger) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{clock: clock, sched: sched, out: out, repo: repo, bus: bus, log: log}
}

// Create stores a new UNSCHEDULED reminder.
func (s *Service) Create(ctx context.Context, r Reminder) (Reminder, error) {
	if r.Trigger == nil {
		return Reminder{}, ErrNoTrigger
	}
	if strings.TrimSpace(r.UserID) == "" || strings.TrimSpace(r.ContributionID) == "" {
		return Reminder{}, errors.New("reminder needs a user and a contribution")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.clock.now()
	r.State = Unscheduled
	r.scheduledAt = mo.None[time.Time]()
	r.CreatedAt, r.UpdatedAt = now, now
	return s.repo.Save(ctx, r)
}

// Schedule arms r. A reminder that is already scheduled is disarmed first and
// its due instant recomputed, so edits to its trigger take effect. A due
// instant in the past fails with ErrNotSchedulable and leaves r unarmed.
func (s *Service) Schedule(ctx context.Context, r Reminder) (Reminder, error) {
	if r.State.Final() {
		return r, fmt.Errorf("%w: %s -> %s (reminder %s)", ErrInvalidTransition, r.State, Scheduled, r.ID)
	}
	// The current trigger stays armed until the new instant is known; AddOnce
	// replaces it by name.
	fresh := r
	if r.State == Scheduled {
		fresh.scheduledAt = mo.None[time.Time]()
	}
	due, err := s.clock.DueInstant(ctx, fresh)
	if err != nil {
		return r, err
	}
	r = fresh
	at, ok := due.Get()
	if !ok || at.Before(s.clock.now()) {
		if r.State == Scheduled {
			s.sched.Remove(r.TriggerName())
			r, _ = r.transition(Unscheduled)
			r.scheduledAt = mo.None[time.Time]()
			r.UpdatedAt = s.clock.now()
			if saved, serr := s.repo.Save(ctx, r); serr == nil {
				r = saved
			}
		}
		s.log.Info("reminder missed", logx.String("reminder", r.ID), logx.String("user", r.UserID))
		return r, fmt.Errorf("%w: reminder %s", ErrNotSchedulable, r.ID)
	}

	next, err := r.transition(Scheduled)
	if err != nil {
		return r, err
	}
	next.scheduledAt = mo.Some(at)
	next.UpdatedAt = s.clock.now()
	saved, err := s.repo.Save(ctx, next)
	if err != nil {
		return r, err
	}
	if err := s.arm(saved, at); err != nil {
		return saved, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderScheduled, Data: saved})
	s.log.Debug("reminder scheduled", logx.String("reminder", saved.ID), logx.Time("at", at))
	return saved, nil
}

func (s *Service) arm(r Reminder, at time.Time) error {
	id := r.ID
	return s.sched.AddOnce(r.TriggerName(), at, func(ctx context.Context) error {
		return s.Fire(ctx, id)
	})
}

// Fire delivers a scheduled reminder and marks it TRIGGERED. On delivery
// failure it stays SCHEDULED and the error wraps ErrDelivery; nothing re-arms
// it.
func (s *Service) Fire(ctx context.Context, id string) error {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.State != Scheduled {
		s.log.Debug("reminder fire ignored", logx.String("reminder", id), logx.String("state", r.State.String()))
		return nil
	}

	if err := s.out.Deliver(ctx, r); err != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderFailed, Data: r})
		s.log.Warn("reminder delivery failed", logx.String("reminder", id), logx.String("user", r.UserID), logx.Err(err))
		return fmt.Errorf("%w: reminder %s: %w", ErrDelivery, id, err)
	}

	// A cancel may have landed during delivery.
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	next, err := cur.transition(Triggered)
	if err != nil {
		s.log.Debug("reminder changed during delivery", logx.String("reminder", id), logx.String("state", cur.State.String()))
		return nil
	}
	next.UpdatedAt = s.clock.now()
	if _, err := s.repo.Save(ctx, next); err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderTriggered, Data: next})
	s.log.Info("reminder triggered", logx.String("reminder", id), logx.String("user", next.UserID))
	return nil
}

// Cancel disarms a reminder and marks it CANCELED. Triggered and canceled
// reminders are returned unchanged.
func (s *Service) Cancel(ctx context.Context, id string) (Reminder, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return Reminder{}, err
	}
	if r.State.Final() {
		return r, nil
	}
	s.sched.Remove(r.TriggerName())
	next, err := r.transition(Canceled)
	if err != nil {
		return r, err
	}
	next.scheduledAt = mo.None[time.Time]()
	next.UpdatedAt = s.clock.now()
	saved, err := s.repo.Save(ctx, next)
	if err != nil {
		return r, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderCanceled, Data: saved})
	return saved, nil
}

// Missed lists the reminders still pending whose due instant has passed.
func (s *Service) Missed(ctx context.Context) ([]Reminder, error) {
	rs, err := s.repo.ListByState(ctx, Unscheduled, Scheduled)
	if err != nil {
		return nil, err
	}
	now := s.clock.now()
	var out []Reminder
	for _, r := range rs {
		due, err := s.clock.DueInstant(ctx, r)
		if err != nil {
			s.log.Warn("due instant unavailable", logx.String("reminder", r.ID), logx.Err(err))
			continue
		}
		if at, ok := due.Get(); ok && at.Before(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Restore re-arms persisted SCHEDULED reminders at their frozen instant. Those
// that fell due while nothing was running go back to UNSCHEDULED and are
// reported by Missed. It returns the number armed.
func (s *Service) Restore(ctx context.Context) (int, error) {
	rs, err := s.repo.ListByState(ctx, Scheduled)
	if err != nil {
		return 0, err
	}
	now := s.clock.now()
	armed := 0
	for _, r := range rs {
		due, err := s.clock.DueInstant(ctx, r)
		if err != nil {
			s.log.Warn("restore skipped", logx.String("reminder", r.ID), logx.Err(err))
			continue
		}
		at, ok := due.Get()
		if !ok || at.Before(now) {
			next, _ := r.transition(Unscheduled)
			next.scheduledAt = mo.None[time.Time]()
			next.UpdatedAt = now
			if _, err := s.repo.Save(ctx, next); err != nil {
				s.log.Warn("restore save failed", logx.String("reminder", r.ID), logx.Err(err))
			}
			s.log.Info("reminder missed while stopped", logx.String("reminder", r.ID))
			continue
		}
		if err := s.arm(r, at); err != nil {
			s.log.Warn("restore arm failed", logx.String("reminder", r.ID), logx.Err(err))
			continue
		}
		armed++
	}
	s.log.Info("reminders restored", logx.Int("armed", armed), logx.Int("scheduled", len(rs)))
	return armed, nil
}

// Delete removes a reminder and its trigger.
func (s *Service) Delete(ctx context.Context, id string) error {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.sched.Remove(r.TriggerName())
	return s.repo.Delete(ctx, id)
}

// DeleteByContribution removes every reminder of a deleted contribution.
func (s *Service) DeleteByContribution(ctx context.Context, contributionID string) (int, error) {
	rs, err := s.repo.ListByContribution(ctx, contributionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rs {
		s.sched.Remove(r.TriggerName())
		if err := s.repo.Delete(ctx, r.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
