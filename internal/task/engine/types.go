package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the job execution engine.
//
// The scheduler is trigger-only; execution settings belong here.
// The app layer maps config.task_engine into this struct.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops runs that waited in the queue longer than this.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int

	// RetryMax is the default number of retries after a failed attempt.
	// 0 means a failed run is reported once and left to the next trigger.
	RetryMax int
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning drops a fire while a previous run of the same job
	// is queued or running.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax <= 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow && o.Overlap != OverlapSkipIfRunning {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState tracks whether a job is already queued or in flight.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Running reports whether a run is queued or in flight.
func (s *RunState) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Phase is the lifecycle step reported to listeners for every fire.
type Phase int

const (
	PhaseStarted Phase = iota
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// JobEvent is delivered synchronously to the listeners of a job, and
// published on the event bus. It is never persisted.
type JobEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Phase      Phase         `json:"phase"`
	Time       time.Time     `json:"time"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Err        error         `json:"-"`
}

// Listener observes the runs of a job.
type Listener interface {
	OnJobEvent(ctx context.Context, e JobEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e JobEvent)

func (f ListenerFunc) OnJobEvent(ctx context.Context, e JobEvent) { f(ctx, e) }

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// Task is one fire of a job, executed by the engine.
//
// State gates overlap for OverlapSkipIfRunning; when nil the engine keeps one
// RunState per task name.
type Task struct {
	ID        string
	Name      string
	Timeout   time.Duration
	Run       func(ctx context.Context) error
	Opt       TaskOptions
	State     *RunState
	Listeners []Listener
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled          bool
	Workers          int
	InFlight         int
	QueueLen         int
	QueueCap         int
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	DefaultTimeout   time.Duration
	MaxQueueDelay    time.Duration
	RetryMax         int
	History          []HistoryItem
}
