package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "calsched/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: Europe/Paris
storage:
  driver: sqlite
  path: ./data/calsched.db
reminders:
  enabled: true
  default_timezone: UTC
  user_timezones:
    "7": Asia/Tokyo
telegram:
  enabled: true
  token: "123:abc"
  chats:
    "7": 1007
workflow:
  enabled: true
  result_dir: /var/spool/results
  source_dir: /var/spool/sources
  import_cron: "0 */5 * * * *"
  purge_cron: "@hourly"
  delay_before_import: 1m
  delay_before_purge: 1h
access:
  admins: ["1"]
  grants:
    cal-42:
      "7": writer
`

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("calsched.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "Asia/Tokyo", cfg.Reminders.UserTimezones["7"])
	assert.Equal(t, int64(1007), cfg.Telegram.Chats["7"])
	assert.Equal(t, "writer", cfg.Access.Grants["cal-42"]["7"])
	assert.True(t, cfg.TaskEngineEnabled(), "follows scheduler.enabled")
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"bogus":1}`))
	assert.Error(t, err)

	_, err = Decode("c.json", []byte(`{"logging":{}} {"logging":{}}`))
	assert.Error(t, err)

	cfg, err := Decode("c.json", []byte(`{"scheduler":{"enabled":true},"task_engine":{"enabled":false}}`))
	require.NoError(t, err)
	assert.False(t, cfg.TaskEngineEnabled())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"bad zone", Config{Reminders: RemindersConfig{UserTimezones: map[string]string{"1": "Mars/Olympus"}}}, false},
		{"bad duration", Config{Workflow: WorkflowConfig{DelayBeforePurge: "soon"}}, false},
		{"negative duration", Config{Reminders: RemindersConfig{DeliveryTimeout: "-1s"}}, false},
		{"token missing", Config{Telegram: TelegramConfig{Enabled: true}}, false},
		{"sqlite without path", Config{Storage: StorageConfig{Driver: "sqlite"}}, false},
		{"workflow missing dirs", Config{Workflow: WorkflowConfig{Enabled: true, ImportCron: "@hourly", PurgeCron: "@daily"}}, false},
		{"workflow disabled ignores dirs", Config{Workflow: WorkflowConfig{ImportCron: "@hourly"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	assert.Error(t, Validate(nil))
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationField("workflow.timeout", "ten")
	assert.ErrorContains(t, err, "workflow.timeout")
}

func TestSummarizeChangeHidesToken(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Enabled: true, Token: "old-secret"}}
	newCfg := &Config{
		Telegram: TelegramConfig{Enabled: true, Token: "new-secret"},
		Workflow: WorkflowConfig{Enabled: true, ImportCron: "@hourly"},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"telegram", "workflow"}, changed)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	assert.NotContains(t, buf.String(), "secret")
	assert.Contains(t, buf.String(), "telegram.token_set")

	changed, _ = SummarizeChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calsched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	m := NewManager(path)
	m.SetLogger(logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Same(t, cfg, m.Get())

	rejected := make(chan struct{}, 1)
	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Logging.Level == "trace" {
			select {
			case rejected <- struct{}{}:
			default:
			}
			return assert.AnError
		}
		return nil
	})

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: trace\n"), 0o644))
	select {
	case <-rejected:
	case <-time.After(3 * time.Second):
		t.Fatal("reload was not validated")
	}
	assert.Equal(t, "info", m.Get().Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))
	select {
	case got := <-sub:
		assert.Equal(t, "warn", got.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused.json")
	sub := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-sub)

	m.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
}
