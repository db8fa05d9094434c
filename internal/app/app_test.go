package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsched/internal/access"
	"calsched/internal/calendar"
	"calsched/internal/config"
	"calsched/internal/eventbus"
	"calsched/internal/period"
	"calsched/internal/reminder"
	"calsched/internal/workflow"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calsched.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestMapTaskEngineConfigDefaults(t *testing.T) {
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Enabled: true}}
	ec, err := mapTaskEngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, ec.Enabled)
	assert.Equal(t, 2, ec.Workers)
	assert.Equal(t, 256, ec.QueueSize)
	assert.Equal(t, 200, ec.HistorySize)
	assert.Zero(t, ec.RetryMax)

	off := false
	cfg.TaskEngine = &config.TaskEngineConfig{Enabled: &off}
	_, err = mapTaskEngineConfig(cfg)
	assert.Error(t, err, "engine off while scheduler on")

	cfg.TaskEngine = &config.TaskEngineConfig{Workers: 4, RetryMax: 2, DefaultTimeout: "30s"}
	ec, err = mapTaskEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, ec.Workers)
	assert.Equal(t, 2, ec.RetryMax)
	assert.Equal(t, 30*time.Second, ec.DefaultTimeout)
}

func TestMapWorkflowConfigDefaults(t *testing.T) {
	wc, err := mapWorkflowConfig(&config.Config{Workflow: config.WorkflowConfig{Enabled: true, ResultDir: " /r "}})
	require.NoError(t, err)
	assert.Equal(t, "/r", wc.ResultDir)
	assert.Equal(t, time.Minute, wc.DelayBeforeImport)
	assert.Equal(t, time.Hour, wc.DelayBeforePurge)

	_, err = mapWorkflowConfig(&config.Config{Workflow: config.WorkflowConfig{Timeout: "later"}})
	assert.Error(t, err)
}

func TestZoneTable(t *testing.T) {
	z, err := newZoneTable(config.RemindersConfig{
		DefaultTimezone: "Europe/Paris",
		UserTimezones:   map[string]string{"7": "Asia/Tokyo"},
	})
	require.NoError(t, err)
	ctx := context.Background()

	loc, err := z.ResolveZone(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
	loc, err = z.ResolveZone(ctx, "8")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())

	assert.Error(t, z.apply(config.RemindersConfig{DefaultTimezone: "Nowhere/Land"}))
	loc, _ = z.ResolveZone(ctx, "7")
	assert.Equal(t, "Asia/Tokyo", loc.String(), "failed apply keeps previous table")
}

func TestAccessTableFromConfig(t *testing.T) {
	auth := &swappableAuth{}
	ctx := context.Background()
	assert.False(t, auth.IsAuthorized(ctx, "1", "cal", access.OpRead))

	auth.set(buildAccessTable(config.AccessConfig{
		Admins: []string{"1"},
		Public: []string{"team"},
		Grants: map[string]map[string]string{"cal": {"7": "reader"}},
	}))
	assert.True(t, auth.IsAuthorized(ctx, "1", "anything", access.OpAdmin))
	assert.True(t, auth.IsAuthorized(ctx, "9", "team", access.OpRead))
	assert.True(t, auth.IsAuthorized(ctx, "7", "cal", access.OpRead))
	assert.False(t, auth.IsAuthorized(ctx, "7", "cal", access.OpWrite))
	assert.True(t, auth.IsAuthorized(ctx, "42", "user:42", access.OpWrite))
	assert.False(t, auth.IsAuthorized(ctx, "43", "user:42", access.OpRead))
}

func TestRejectsDisabledStorage(t *testing.T) {
	_, err := New(writeConfig(t, `{"storage":{"driver":"none"}}`))
	assert.Error(t, err)
}

func TestAppEndToEnd(t *testing.T) {
	root := t.TempDir()
	results := filepath.Join(root, "results")
	sources := filepath.Join(root, "sources")
	require.NoError(t, os.MkdirAll(results, 0o755))
	require.NoError(t, os.MkdirAll(sources, 0o755))

	a, err := New(writeConfig(t, `{
  "logging": {"level": "error"},
  "scheduler": {"enabled": true},
  "storage": {"driver": "memory"},
  "reminders": {"enabled": true, "default_timezone": "UTC", "rate_per_sec": 10},
  "workflow": {
    "enabled": true,
    "result_dir": "`+results+`",
    "source_dir": "`+sources+`",
    "import_cron": "@every 1h",
    "purge_cron": "@every 1h"
  },
  "access": {"grants": {"team": {"7": "reader"}}}
}`))
	require.NoError(t, err)

	events, unsub := a.Bus().Subscribe(32)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		assert.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()

	snap := a.Scheduler().Snapshot()
	names := map[string]bool{}
	for _, s := range snap.Schedules {
		names[s.Name] = true
	}
	assert.True(t, names[workflow.ImportJobName])
	assert.True(t, names[workflow.PurgeJobName])

	start := time.Now().Add(3 * time.Second).Truncate(time.Second)
	ev, err := a.Store().Events().SaveEvent(ctx, calendar.RecurringEvent{
		ID: "standup", CalendarID: "team", Title: "standup", Start: start, Span: 15 * time.Minute,
		Rule: "FREQ=DAILY;COUNT=3",
	})
	require.NoError(t, err)

	window := period.Of(start.Add(-time.Hour), 72*time.Hour)
	got, err := a.Timeline().ForUser(ctx, "7", "team", window)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	_, err = a.Timeline().ForUser(ctx, "8", "team", window)
	assert.ErrorIs(t, err, calendar.ErrForbidden)

	r, err := a.Reminders().Create(ctx, reminder.Reminder{
		ContributionID: ev.ID, UserID: "7", Text: "standup soon", Trigger: reminder.Before(time.Second),
	})
	require.NoError(t, err)
	_, err = a.Reminders().Schedule(ctx, r)
	require.NoError(t, err)

	deadline := time.After(6 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != eventbus.ReminderTriggered {
				continue
			}
			got, err := a.Store().Reminders().Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, reminder.Triggered, got.State)
			return
		case <-deadline:
			t.Fatal("reminder did not trigger")
		}
	}
}
