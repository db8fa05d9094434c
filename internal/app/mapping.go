package app

import (
	"fmt"
	"strings"
	"time"

	"calsched/internal/config"
	"calsched/internal/storage"
	"calsched/internal/task/engine"
	"calsched/internal/task/scheduler"
	"calsched/internal/transport/telegram"
	"calsched/internal/workflow"
	logx "calsched/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

// mapTaskEngineConfig applies defaults to task_engine. Omitted or zero
// values fall back to the defaults; enabled follows scheduler.enabled.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     cfg.TaskEngineEnabled(),
		Workers:     2,
		QueueSize:   256,
		HistorySize: 200,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size, history_size and retry_max must be >= 0")
	}
	if cfg.Scheduler.Enabled && !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = te.RetryMax

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapWorkflowConfig(cfg *config.Config) (workflow.Config, error) {
	w := cfg.Workflow
	out := workflow.Config{
		Enabled:        w.Enabled,
		ResultDir:      strings.TrimSpace(w.ResultDir),
		SourceDir:      strings.TrimSpace(w.SourceDir),
		ImportCron:     strings.TrimSpace(w.ImportCron),
		PurgeCron:      strings.TrimSpace(w.PurgeCron),
		SupportedTypes: w.SupportedTypes,
	}
	var err error
	if out.DelayBeforeImport, err = config.ParseDurationOrDefault("workflow.delay_before_import", w.DelayBeforeImport, time.Minute); err != nil {
		return workflow.Config{}, err
	}
	if out.DelayBeforePurge, err = config.ParseDurationOrDefault("workflow.delay_before_purge", w.DelayBeforePurge, time.Hour); err != nil {
		return workflow.Config{}, err
	}
	if out.Timeout, err = config.ParseDurationField("workflow.timeout", w.Timeout); err != nil {
		return workflow.Config{}, err
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:     strings.TrimSpace(cfg.Telegram.Token),
		ParseMode: cfg.Telegram.ParseMode,
		Chats:     cfg.Telegram.Chats,
		ThreadID:  cfg.Telegram.ThreadID,
	}
}
