package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"calsched/internal/task/engine"
	logx "calsched/pkg/logx"
)

// ScheduleJob registers job under trigger, replacing any job with the same
// name. trigger is a cron expression (5 or 6 fields, or a descriptor such as
// "@hourly") or an interval ("55m", "02:30", "interval:10s"). The listeners
// observe every run of the job.
func (s *Service) ScheduleJob(job Job, trigger string, listeners ...Listener) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return errors.New("job name required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q: run func required", job.Name)
	}
	spec, err := s.normalizeTrigger(trigger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(job.Name)
	s.removeOnce(job.Name)

	if job.Opt == (TaskOptions{}) {
		job.Opt = TaskOptions{Overlap: engine.OverlapSkipIfRunning}
	}
	d := scheduleDef{
		id:        "cron:" + uuid.NewString(),
		job:       job,
		spec:      spec,
		listeners: append([]Listener(nil), listeners...),
	}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// registered on Start
		return nil
	}
	if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		return fmt.Errorf("%w: %q: %v", ErrInvalidTriggerSpec, trigger, err)
	}
	args := []logx.Field{logx.String("name", job.Name), logx.String("spec", spec), logx.Duration("timeout", job.Timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// UnscheduleJob stops future firings of name. Runs already in flight complete.
func (s *Service) UnscheduleJob(name string) bool {
	return s.Remove(name)
}

// AddOnce arms a one-shot trigger at at, replacing any trigger with the same
// name. A past instant fires immediately. One-shot runs are never retried.
func (s *Service) AddOnce(name string, at time.Time, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if run == nil {
		return errors.New("run func required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old, ok := s.once[name]; ok && old.timer != nil {
		_ = old.timer.Stop()
	}
	s.onceSeq++
	d := &onceDef{at: at, run: run, ver: s.onceSeq}
	s.once[name] = d
	if s.running {
		s.armOneLocked(name, d)
	}
	s.log.Debug("once registered", logx.String("name", name), logx.Time("at", at))
	return nil
}

// Remove unschedules every trigger with the given name. It reports whether
// something was removed. Safe to call when the scheduler is stopped.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) normalizeTrigger(trigger string) (string, error) {
	ps, err := ParseSchedule(trigger)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTriggerSpec, err)
	}
	switch ps.Kind {
	case SpecInterval:
		return "@every " + ps.Every.String(), nil
	case SpecCron:
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidTriggerSpec, trigger, err)
		}
		return ps.Cron, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTriggerSpec, trigger)
	}
}

// removeScheduleLocked removes all defs matching name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.job.Name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := d
	job := cron.FuncJob(func() {
		s.enqueue(engine.Task{
			Name:      def.job.Name,
			Timeout:   def.job.Timeout,
			Run:       def.job.Run,
			Opt:       def.job.Opt,
			Listeners: def.listeners,
		})
	})

	if strings.HasPrefix(d.spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(d.spec, "@every")))
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, jitter := makeIntervalScheduleWithSpread(every, time.Now().In(loc), d.job.Name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// armOnce starts timers for every persisted one-shot definition.
func (s *Service) armOnce() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.running = true
	for name, d := range s.once {
		s.armOneLocked(name, d)
	}
}

// armOneLocked starts d's timer. Call with s.tmu held.
func (s *Service) armOneLocked(name string, d *onceDef) {
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() { s.fireOnce(name, ver) })
}

func (s *Service) fireOnce(name string, ver uint64) {
	s.tmu.Lock()
	d, ok := s.once[name]
	// A removed or replaced trigger must not fire.
	if !ok || d.ver != ver {
		s.tmu.Unlock()
		return
	}
	s.tmu.Unlock()

	run := d.run
	err := s.enqueue(engine.Task{
		Name:    name,
		Timeout: d.timeout,
		Run: func(ctx context.Context) error {
			return engine.NoRetry(run(ctx))
		},
		Opt:   TaskOptions{Overlap: engine.OverlapAllow},
		State: &engine.RunState{},
	})

	s.tmu.Lock()
	defer s.tmu.Unlock()
	// Removed or replaced while enqueueing.
	if s.once[name] != d {
		return
	}
	if err == nil {
		delete(s.once, name)
		return
	}
	// Refused by the engine: keep the definition and retry.
	d.timer = nil
	if s.running {
		d.timer = time.AfterFunc(onceRetryDelay, func() { s.fireOnce(name, ver) })
	}
}

func (s *Service) enqueue(t engine.Task) error {
	if s.engine == nil {
		return nil
	}
	err := s.engine.Enqueue(t)
	if err != nil {
		s.reportEnqueueError(t.Name, err)
	}
	return err
}

// previewNextRunsLocked lists upcoming run times for debug logs. Call with
// s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
