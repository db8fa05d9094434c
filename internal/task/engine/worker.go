package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync/atomic"
	"time"

	"calsched/internal/eventbus"
	logx "calsched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, stopCh, t, rng)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

// execOne runs one fire: STARTED, the action (with retries when configured),
// then SUCCEEDED or FAILED. Panics in the action become failures of this run
// only.
func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	if qt.track {
		defer qt.state.release()
	}
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if qt.enqueuedAt.IsZero() || queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		atomic.AddUint64(&s.dropped, 1)
		atomic.AddUint64(&s.droppedStale, 1)
		s.bus.Publish(eventbus.Event{Type: eventbus.JobDropped, Time: start, Data: JobEvent{ID: qt.task.ID, Name: qt.task.Name, Time: start, QueueDelay: queueDelay}})
		s.log.Warn("job dropped: stale queue", logx.String("job", qt.task.Name), logx.Duration("queue_delay", queueDelay))
		s.record(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}

	s.emit(ctx, qt.task, JobEvent{ID: qt.task.ID, Name: qt.task.Name, Phase: PhaseStarted, Time: start, QueueDelay: queueDelay})

	var err error
	attempts := 0
	maxAttempts := 1 + max(qt.opt.RetryMax, 0)
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			break
		}
		delay := backoffDelay(qt.opt, attempt, rng)
		s.log.Debug("job retry scheduled", logx.String("job", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	ev := JobEvent{ID: qt.task.ID, Name: qt.task.Name, Time: time.Now(), QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		ev.Phase = PhaseFailed
		ev.Err = &ExecutionError{Job: qt.task.Name, Err: err}
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", qt.task.Name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else {
		ev.Phase = PhaseSucceeded
		s.log.Debug("job succeeded", logx.String("job", qt.task.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	}
	s.emit(ctx, qt.task, ev)
	s.record(item, cfg.HistorySize)
}

func (s *Service) runAttempt(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked", logx.String("job", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

// emit delivers e to the task listeners in order, then to the bus. A
// panicking listener is logged and does not affect the run or other listeners.
func (s *Service) emit(ctx context.Context, t Task, e JobEvent) {
	for _, l := range t.Listeners {
		if l == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("job listener panicked", logx.String("job", t.Name), logx.String("phase", e.Phase.String()), logx.Any("panic", r))
				}
			}()
			l.OnJobEvent(ctx, e)
		}()
	}

	typ := eventbus.JobStarted
	switch e.Phase {
	case PhaseSucceeded:
		typ = eventbus.JobSucceeded
	case PhaseFailed:
		typ = eventbus.JobFailed
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: e.Time, Data: e})
}

func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
			break
		}
	}
	if opt.RetryJitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	return d
}
