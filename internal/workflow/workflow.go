// Package workflow runs the converter import and purge jobs over a shared
// work-queue directory.
package workflow

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"calsched/internal/document"
	"calsched/internal/task/scheduler"
	"calsched/internal/workqueue"
	logx "calsched/pkg/logx"
)

const (
	ImportJobName = "workflow.import"
	PurgeJobName  = "workflow.purge"
)

type Config struct {
	Enabled bool
	// ResultDir receives converter output; the import job reads it.
	ResultDir string
	// SourceDir holds converter input; the purge job cleans it.
	SourceDir         string
	ImportCron        string
	PurgeCron         string
	DelayBeforeImport time.Duration
	DelayBeforePurge  time.Duration
	// SupportedTypes are the extensions of the converter input formats.
	SupportedTypes []string
	Timeout        time.Duration
}

// Report summarizes one import run.
type Report struct {
	Items   int
	Created int
	Updated int
	Failed  int
	Removed int
}

type ImportJob struct {
	mu  sync.RWMutex
	cfg Config
	rec *document.Reconciler
	log logx.Logger
	now func() time.Time
}

func NewImportJob(cfg Config, rec *document.Reconciler, log logx.Logger) *ImportJob {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ImportJob{cfg: cfg, rec: rec, log: log.With(logx.String("job", ImportJobName)), now: time.Now}
}

// Apply swaps the directories and delays used by the next run.
func (j *ImportJob) Apply(cfg Config) {
	j.mu.Lock()
	j.cfg = cfg
	j.mu.Unlock()
}

func (j *ImportJob) config() Config {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cfg
}

func (j *ImportJob) Run(ctx context.Context) error {
	_, err := j.Import(ctx)
	return err
}

// Import reconciles every eligible work item. A failure on one file is
// logged and keeps its directory for the next run; siblings proceed.
func (j *ImportJob) Import(ctx context.Context) (Report, error) {
	var rep Report
	cfg := j.config()
	items, skipped, err := workqueue.Scan(cfg.ResultDir, j.now(), cfg.DelayBeforeImport)
	if err != nil {
		return rep, err
	}
	for _, e := range skipped {
		j.log.Warn("work item skipped", logx.Err(e))
	}
	j.log.Info("import started", logx.String("dir", cfg.ResultDir), logx.Int("items", len(items)))

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Items++
		ok := j.importItem(ctx, it, &rep)
		if !ok {
			continue
		}
		if err := os.RemoveAll(it.Path); err != nil {
			j.log.Warn("work item not removed", logx.String("path", it.Path), logx.Err(err))
			continue
		}
		rep.Removed++
	}
	j.log.Info("import done",
		logx.Int("items", rep.Items),
		logx.Int("created", rep.Created),
		logx.Int("updated", rep.Updated),
		logx.Int("failed", rep.Failed),
	)
	return rep, nil
}

func (j *ImportJob) importItem(ctx context.Context, it workqueue.Item, rep *Report) bool {
	files, other, err := workqueue.Files(it)
	if err != nil {
		rep.Failed++
		j.log.Warn("work item unreadable", logx.String("path", it.Path), logx.Err(err))
		return false
	}
	ok := true
	if len(other) > 0 {
		// Removing the item would delete content that was never imported.
		ok = false
		rep.Failed++
		j.log.Warn("work item holds entries that are not files, keeping it",
			logx.String("path", it.Path),
			logx.String("entries", strings.Join(other, ",")),
		)
	}
	for _, f := range files {
		out, err := j.rec.Reconcile(ctx, it, f)
		if err != nil {
			ok = false
			rep.Failed++
			j.log.Warn("file not imported",
				logx.String("component", it.ComponentID),
				logx.String("contribution", it.ContributionID),
				logx.String("file", f.Name),
				logx.Err(err),
			)
			continue
		}
		switch out {
		case document.Created:
			rep.Created++
		case document.Updated:
			rep.Updated++
		}
	}
	return ok
}

type PurgeJob struct {
	mu  sync.RWMutex
	cfg Config
	log logx.Logger
	now func() time.Time
}

func NewPurgeJob(cfg Config, log logx.Logger) *PurgeJob {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PurgeJob{cfg: cfg, log: log.With(logx.String("job", PurgeJobName)), now: time.Now}
}

func (j *PurgeJob) Apply(cfg Config) {
	j.mu.Lock()
	j.cfg = cfg
	j.mu.Unlock()
}

func (j *PurgeJob) config() Config {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cfg
}

func (j *PurgeJob) Run(ctx context.Context) error {
	_, err := j.Purge(ctx)
	return err
}

// Purge removes the subdirectories of SourceDir older than DelayBeforePurge.
// Removal is best-effort; it returns how many went away.
func (j *PurgeJob) Purge(ctx context.Context) (int, error) {
	cfg := j.config()
	paths, err := workqueue.Expired(cfg.SourceDir, j.now(), cfg.DelayBeforePurge)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := os.RemoveAll(p); err != nil {
			j.log.Warn("purge failed", logx.String("path", p), logx.Err(err))
			continue
		}
		n++
	}
	j.log.Info("purge done", logx.String("dir", cfg.SourceDir), logx.Int("removed", n), logx.Int("expired", len(paths)))
	return n, nil
}

// Scheduler is the registration surface of scheduler.Service.
type Scheduler interface {
	ScheduleJob(job scheduler.Job, trigger string, listeners ...scheduler.Listener) error
	UnscheduleJob(name string) bool
}

// Register replaces any previous registration of both jobs. When the
// workflow is disabled the jobs are only unscheduled.
func Register(s Scheduler, cfg Config, imp *ImportJob, purge *PurgeJob, log logx.Logger) error {
	s.UnscheduleJob(ImportJobName)
	s.UnscheduleJob(PurgeJobName)
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.ResultDir) == "" || strings.TrimSpace(cfg.SourceDir) == "" {
		return errors.New("workflow needs both result_dir and source_dir")
	}
	l := LogListener{Log: log}
	err := s.ScheduleJob(scheduler.Job{Name: ImportJobName, Run: imp.Run, Timeout: cfg.Timeout}, cfg.ImportCron, l)
	if err != nil {
		return err
	}
	if err := s.ScheduleJob(scheduler.Job{Name: PurgeJobName, Run: purge.Run, Timeout: cfg.Timeout}, cfg.PurgeCron, l); err != nil {
		s.UnscheduleJob(ImportJobName)
		return err
	}
	return nil
}

// LogListener logs the lifecycle of every run.
type LogListener struct {
	Log logx.Logger
}

func (l LogListener) OnJobEvent(_ context.Context, e scheduler.JobEvent) {
	switch e.Phase {
	case scheduler.PhaseStarted:
		l.Log.Info("job started", logx.String("job", e.Name), logx.String("run", e.ID))
	case scheduler.PhaseSucceeded:
		l.Log.Info("job succeeded", logx.String("job", e.Name), logx.String("run", e.ID), logx.Duration("took", e.Duration))
	case scheduler.PhaseFailed:
		l.Log.Error("job failed", logx.String("job", e.Name), logx.String("run", e.ID), logx.Int("attempts", e.Attempts), logx.Err(e.Err))
	}
}
