package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calsched/internal/eventbus"
	"calsched/internal/task/engine"
	logx "calsched/pkg/logx"
)

// ErrInvalidTriggerSpec is returned at registration when a trigger expression
// cannot be parsed.
var ErrInvalidTriggerSpec = errors.New("invalid trigger spec")

// Config controls the scheduler (trigger) service. Execution settings live in
// engine.Config.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Paris"
}

// Re-export execution types from engine.
type (
	TaskOptions = engine.TaskOptions
	HistoryItem = engine.HistoryItem
	Listener    = engine.Listener
	JobEvent    = engine.JobEvent
	Phase       = engine.Phase
)

const (
	PhaseStarted   = engine.PhaseStarted
	PhaseSucceeded = engine.PhaseSucceeded
	PhaseFailed    = engine.PhaseFailed
)

// Job is a named unit of recurring work.
type Job struct {
	Name    string
	Run     func(ctx context.Context) error
	Timeout time.Duration
	Opt     TaskOptions
}

type scheduleDef struct {
	id            string
	job           Job
	spec          string // normalized cron spec or "@every <d>"
	listeners     []Listener
	entryID       cron.EntryID
	startupSpread time.Duration
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	run     func(ctx context.Context) error
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// One-shot triggers. The definitions outlive Stop so Start can re-arm them.
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64
	running bool
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type OnceInfo struct {
	Name string
	At   time.Time
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Engine    engine.Snapshot
	Schedules []ScheduleInfo
	Once      []OnceInfo
}
