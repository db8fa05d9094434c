package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calsched/internal/calendar"
	"calsched/internal/config"
	"calsched/internal/document"
	"calsched/internal/eventbus"
	"calsched/internal/reminder"
	"calsched/internal/runtime/supervisor"
	"calsched/internal/storage"
	"calsched/internal/task/engine"
	"calsched/internal/task/scheduler"
	"calsched/internal/transport/telegram"
	"calsched/internal/workflow"
	logx "calsched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service

	occurrences  *calendar.Service
	materializer *calendar.Materializer
	timeline     *calendar.Timeline
	reminders    *reminder.Service
	zones        *zoneTable
	auth         *swappableAuth

	importJob *workflow.ImportJob
	purgeJob  *workflow.PurgeJob
}

// New loads the config at cfgPath and builds every service. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogging(cfg))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if errors.Is(err, storage.ErrDisabled) {
		return nil, fmt.Errorf("storage.driver %q: a store is required", sc.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log.With(logx.String("comp", "scheduler")), bus)

	events := store.Events()
	calLog := log.With(logx.String("comp", "calendar"))
	occ := calendar.NewService(store.Occurrences(),
		calendar.WithTruncator(calendar.UntilTruncator{Rules: events}),
		calendar.WithNotifier(calendar.ChangeNotifierFunc(func(_ context.Context, o calendar.Occurrence, kind calendar.ChangeKind) {
			calLog.Debug("occurrence changed",
				logx.String("event", o.EventID), logx.Time("original_start", o.OriginalStart), logx.String("kind", kind.String()))
		})),
		calendar.WithBus(bus),
		calendar.WithLogger(calLog),
	)
	mat := calendar.NewMaterializer(occ, cfg.Calendar.MaxPerEvent, calLog)
	auth := &swappableAuth{}
	auth.set(buildAccessTable(cfg.Access))
	timeline := calendar.NewTimeline(events, mat, auth)

	zones, err := newZoneTable(cfg.Reminders)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	out, err := newDeliverer(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	reminders := reminder.NewService(
		reminder.Clock{Zones: zones, Dates: eventDates{events: events}},
		schedSvc, out, store.Reminders(), bus,
		log.With(logx.String("comp", "reminder")),
	)

	wcfg, err := mapWorkflowConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	wfLog := log.With(logx.String("comp", "workflow"))
	rec := document.NewReconciler(store.Documents(), wcfg.SupportedTypes, wfLog)

	return &App{
		cfgm:         cfgm,
		log:          log.With(logx.String("comp", "app")),
		logs:         logSvc,
		bus:          bus,
		store:        store,
		engine:       engineSvc,
		sched:        schedSvc,
		occurrences:  occ,
		materializer: mat,
		timeline:     timeline,
		reminders:    reminders,
		zones:        zones,
		auth:         auth,
		importJob:    workflow.NewImportJob(wcfg, rec, wfLog),
		purgeJob:     workflow.NewPurgeJob(wcfg, wfLog),
	}, nil
}

// newDeliverer picks Telegram when enabled and the log otherwise. Both go
// through the rate limiter.
func newDeliverer(cfg *config.Config, log logx.Logger) (reminder.Deliverer, error) {
	timeout, err := config.ParseDurationField("reminders.delivery_timeout", cfg.Reminders.DeliveryTimeout)
	if err != nil {
		return nil, err
	}
	var next reminder.Deliverer = reminder.LogDeliverer{Log: log.With(logx.String("comp", "delivery"))}
	if cfg.Telegram.Enabled {
		tg, err := telegram.New(mapTelegramConfig(cfg), log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		next = tg
	}
	return reminder.NewLimited(next, cfg.Reminders.RatePerSec, timeout), nil
}

func (a *App) Store() storage.Store                  { return a.store }
func (a *App) Occurrences() *calendar.Service        { return a.occurrences }
func (a *App) Materializer() *calendar.Materializer { return a.materializer }
func (a *App) Timeline() *calendar.Timeline          { return a.timeline }
func (a *App) Reminders() *reminder.Service          { return a.reminders }
func (a *App) Scheduler() *scheduler.Service         { return a.sched }
func (a *App) Bus() eventbus.Bus                     { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapWorkflowConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	runCtx := a.sup.Context()
	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	armed, err := a.reminders.Restore(runCtx)
	if err != nil {
		return fmt.Errorf("restore reminders: %w", err)
	}
	missed, err := a.reminders.Missed(runCtx)
	if err != nil {
		return fmt.Errorf("list missed reminders: %w", err)
	}
	a.log.Info("reminders restored", logx.Int("armed", armed), logx.Int("missed", len(missed)))

	if err := a.registerWorkflow(a.cfgm.Get()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) registerWorkflow(cfg *config.Config) error {
	wcfg, err := mapWorkflowConfig(cfg)
	if err != nil {
		return err
	}
	a.importJob.Apply(wcfg)
	a.purgeJob.Apply(wcfg)
	return workflow.Register(a.sched, wcfg, a.importJob, a.purgeJob, a.log.With(logx.String("comp", "workflow")))
}

// applyConfig applies what can change live. Storage and engine sizing need
// a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	has := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if has("logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	if has("storage") || has("task_engine") || has("telegram") {
		a.log.Warn("config change needs a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
	if has("scheduler") {
		prev := a.sched.Enabled()
		a.sched.Apply(mapSchedulerConfig(newCfg))
		switch {
		case prev && !newCfg.Scheduler.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prev && newCfg.Scheduler.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}
	if has("reminders") {
		if err := a.zones.apply(newCfg.Reminders); err != nil {
			a.log.Warn("invalid reminder zones; keeping previous", logx.Err(err))
		}
	}
	if has("access") {
		a.auth.set(buildAccessTable(newCfg.Access))
	}
	if has("workflow") || has("scheduler") {
		if err := a.registerWorkflow(newCfg); err != nil {
			a.log.Warn("workflow registration failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
