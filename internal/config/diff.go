package config

import (
	"reflect"
	"sort"
	"strings"

	logx "calsched/pkg/logx"
)

// SummarizeChange returns the sorted names of changed sections and safe
// attrs describing their new values. Secrets (the telegram token) are only
// reported as set or unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", newCfg.TaskEngineEnabled()),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Calendar != newCfg.Calendar {
		changed = append(changed, "calendar")
		attrs = append(attrs, logx.Int("calendar.max_per_event", newCfg.Calendar.MaxPerEvent))
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Bool("reminders.enabled", newCfg.Reminders.Enabled),
			logx.String("reminders.default_timezone", newCfg.Reminders.DefaultTimezone),
			logx.Int("reminders.user_timezones", len(newCfg.Reminders.UserTimezones)),
			logx.Int("reminders.rate_per_sec", newCfg.Reminders.RatePerSec),
		)
	}

	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.Enabled != nT.Enabled || oT.Token != nT.Token || oT.ParseMode != nT.ParseMode ||
		oT.ThreadID != nT.ThreadID || !reflect.DeepEqual(oT.Chats, nT.Chats) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.chats", len(newCfg.Telegram.Chats)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Workflow, newCfg.Workflow) {
		changed = append(changed, "workflow")
		attrs = append(attrs,
			logx.Bool("workflow.enabled", newCfg.Workflow.Enabled),
			logx.String("workflow.import_cron", newCfg.Workflow.ImportCron),
			logx.String("workflow.purge_cron", newCfg.Workflow.PurgeCron),
		)
	}

	if !reflect.DeepEqual(oldCfg.Access, newCfg.Access) {
		changed = append(changed, "access")
		attrs = append(attrs,
			logx.Int("access.admins", len(newCfg.Access.Admins)),
			logx.Int("access.public", len(newCfg.Access.Public)),
			logx.Int("access.grants", len(newCfg.Access.Grants)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

// TaskEngineEnabled resolves task_engine.enabled, falling back to
// scheduler.enabled when unset.
func (c *Config) TaskEngineEnabled() bool {
	if c.TaskEngine != nil && c.TaskEngine.Enabled != nil {
		return *c.TaskEngine.Enabled
	}
	return c.Scheduler.Enabled
}
