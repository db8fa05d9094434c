package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks what can be checked without building services: duration
// strings, time zones and required fields of enabled sections.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	zone := func(path, name string) {
		if strings.TrimSpace(name) == "" {
			return
		}
		if _, err := time.LoadLocation(name); err != nil {
			errs = append(errs, fmt.Errorf("%s: unknown time zone %q", path, name))
		}
	}

	zone("scheduler.timezone", cfg.Scheduler.Timezone)
	if te := cfg.TaskEngine; te != nil {
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	}

	zone("reminders.default_timezone", cfg.Reminders.DefaultTimezone)
	for user, name := range cfg.Reminders.UserTimezones {
		zone("reminders.user_timezones."+user, name)
	}
	dur("reminders.delivery_timeout", cfg.Reminders.DeliveryTimeout)

	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required when telegram is enabled"))
	}

	w := cfg.Workflow
	dur("workflow.delay_before_import", w.DelayBeforeImport)
	dur("workflow.delay_before_purge", w.DelayBeforePurge)
	dur("workflow.timeout", w.Timeout)
	if w.Enabled {
		for path, v := range map[string]string{
			"workflow.result_dir":  w.ResultDir,
			"workflow.source_dir":  w.SourceDir,
			"workflow.import_cron": w.ImportCron,
			"workflow.purge_cron":  w.PurgeCron,
		} {
			if strings.TrimSpace(v) == "" {
				errs = append(errs, fmt.Errorf("%s is required when workflow is enabled", path))
			}
		}
	}
	return errors.Join(errs...)
}

// ParseDurationField parses a non-negative Go duration; blank means 0. path
// names the field in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
