package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "calsched/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	events []JobEvent
	done   chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 16)} }

func (r *recorder) OnJobEvent(_ context.Context, e JobEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if e.Phase != PhaseStarted {
		r.done <- struct{}{}
	}
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Phase)
	}
	return out
}

func (r *recorder) last() JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitDone(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}
}

func TestEnqueueReportsStartedThenSucceeded(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	rec := newRecorder()

	if err := s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { return nil }, Listeners: []Listener{rec}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, rec)

	got := rec.phases()
	if len(got) != 2 || got[0] != PhaseStarted || got[1] != PhaseSucceeded {
		t.Fatalf("phases = %v, want [started succeeded]", got)
	}
	if rec.last().ID == "" {
		t.Fatal("expected generated task id")
	}
}

func TestPanicBecomesFailedEvent(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	rec := newRecorder()

	if err := s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("boom") }, Listeners: []Listener{rec}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, rec)

	ev := rec.last()
	if ev.Phase != PhaseFailed {
		t.Fatalf("phase = %v, want failed", ev.Phase)
	}
	var exec *ExecutionError
	if !errors.As(ev.Err, &exec) || exec.Job != "boom" {
		t.Fatalf("err = %v, want ExecutionError for boom", ev.Err)
	}

	// the worker survives and keeps serving other jobs
	rec2 := newRecorder()
	if err := s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }, Listeners: []Listener{rec2}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, rec2)
	if rec2.last().Phase != PhaseSucceeded {
		t.Fatalf("phase = %v, want succeeded", rec2.last().Phase)
	}
}

func TestOverlapSkipWhileRunning(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	rec := newRecorder()

	slow := Task{Name: "slow", Run: func(ctx context.Context) error {
		<-release
		return nil
	}, Listeners: []Listener{rec}}
	if err := s.Enqueue(slow); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(slow); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)
	waitDone(t, rec)
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	rec := newRecorder()
	var calls int
	task := Task{
		Name: "flaky",
		Run: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		},
		Opt:       TaskOptions{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Listeners: []Listener{rec},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, rec)
	ev := rec.last()
	if ev.Phase != PhaseSucceeded || ev.Attempts != 3 {
		t.Fatalf("got phase=%v attempts=%d, want succeeded after 3", ev.Phase, ev.Attempts)
	}
}

func TestNoRetryStopsRetries(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	rec := newRecorder()
	sentinel := errors.New("permanent")
	task := Task{
		Name:      "fatal",
		Run:       func(context.Context) error { return NoRetry(sentinel) },
		Opt:       TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Listeners: []Listener{rec},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, rec)
	ev := rec.last()
	if ev.Attempts != 1 || !errors.Is(ev.Err, sentinel) {
		t.Fatalf("attempts=%d err=%v, want 1 attempt wrapping sentinel", ev.Attempts, ev.Err)
	}
}

func TestListenerPanicDoesNotAffectRun(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	rec := newRecorder()
	bad := ListenerFunc(func(context.Context, JobEvent) { panic("listener") })

	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }, Listeners: []Listener{bad, rec}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, rec)
	if got := rec.phases(); len(got) != 2 || got[1] != PhaseSucceeded {
		t.Fatalf("phases = %v", got)
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	d := New(Config{}, logx.Nop(), nil)
	if err := d.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: time.Second, RetryMaxDelay: 3 * time.Second}
	if d := backoffDelay(opt, 1, nil); d != time.Second {
		t.Fatalf("retry 1 = %v", d)
	}
	if d := backoffDelay(opt, 2, nil); d != 2*time.Second {
		t.Fatalf("retry 2 = %v", d)
	}
	if d := backoffDelay(opt, 5, nil); d != 3*time.Second {
		t.Fatalf("retry 5 = %v, want cap", d)
	}
}
