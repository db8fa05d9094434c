package config

// Config is the whole calsched configuration file.
//
// All durations are Go duration strings ("500ms", "10s", "1h30m").
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Storage    StorageConfig     `json:"storage"`
	Calendar   CalendarConfig    `json:"calendar"`
	Reminders  RemindersConfig   `json:"reminders"`
	Telegram   TelegramConfig    `json:"telegram"`
	Workflow   WorkflowConfig    `json:"workflow"`
	Access     AccessConfig      `json:"access"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger side (cron and one-shot timers).
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls job execution.
//
// Enabled is a pointer so an omitted value follows scheduler.enabled.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 0,
// default_timeout and max_queue_delay disabled.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// StorageConfig selects the persistence backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/calsched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type CalendarConfig struct {
	// MaxPerEvent caps the instances expanded per event and window.
	MaxPerEvent int `json:"max_per_event,omitempty"`
}

type RemindersConfig struct {
	Enabled bool `json:"enabled"`
	// DefaultTimezone applies to users without an entry in UserTimezones.
	DefaultTimezone string            `json:"default_timezone,omitempty"`
	UserTimezones   map[string]string `json:"user_timezones,omitempty"`
	RatePerSec      int               `json:"rate_per_sec,omitempty"`
	DeliveryTimeout string            `json:"delivery_timeout,omitempty"`
}

// TelegramConfig enables reminder delivery over Telegram. When disabled,
// reminders are written to the log.
type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
	ThreadID  int    `json:"thread_id,omitempty"`
	// Chats maps user ids to chat ids.
	Chats map[string]int64 `json:"chats,omitempty"`
}

type WorkflowConfig struct {
	Enabled           bool     `json:"enabled"`
	ResultDir         string   `json:"result_dir,omitempty"`
	SourceDir         string   `json:"source_dir,omitempty"`
	ImportCron        string   `json:"import_cron,omitempty"`
	PurgeCron         string   `json:"purge_cron,omitempty"`
	DelayBeforeImport string   `json:"delay_before_import,omitempty"`
	DelayBeforePurge  string   `json:"delay_before_purge,omitempty"`
	SupportedTypes    []string `json:"supported_types,omitempty"`
	Timeout           string   `json:"timeout,omitempty"`
}

// AccessConfig seeds the role table guarding calendar reads.
//
//	"access": {
//	  "admins": ["1"],
//	  "public": ["team-cal"],
//	  "grants": { "cal-42": { "7": "writer" } }
//	}
type AccessConfig struct {
	Admins []string                     `json:"admins,omitempty"`
	Public []string                     `json:"public,omitempty"`
	Grants map[string]map[string]string `json:"grants,omitempty"`
}
