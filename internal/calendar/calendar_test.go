package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"calsched/internal/access"
	"calsched/internal/period"
	logx "calsched/pkg/logx"
)

// memRepo is a minimal Repository keyed like the real stores.
type memRepo struct {
	mu   sync.Mutex
	rows map[string]Occurrence
	seq  int
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]Occurrence{}} }

func rowKey(eventID string, t time.Time) string { return eventID + "@" + t.UTC().Format(time.RFC3339Nano) }

func (r *memRepo) ListByEvent(_ context.Context, eventID string) ([]Occurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Occurrence
	for _, o := range r.rows {
		if o.EventID == eventID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memRepo) ListByEventsInPeriod(_ context.Context, ids []string, p period.Period) ([]Occurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []Occurrence
	for _, o := range r.rows {
		if want[o.EventID] && (o.Period.Overlaps(p) || o.OriginalSlot().Overlaps(p)) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memRepo) Save(_ context.Context, o Occurrence) (Occurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := rowKey(o.EventID, o.OriginalStart)
	if prev, ok := r.rows[k]; ok {
		o.ID = prev.ID
	} else if o.ID == "" {
		r.seq++
		o.ID = fmt.Sprintf("occ-%d", r.seq)
	}
	r.rows[k] = o
	return o, nil
}

func (r *memRepo) DeleteSince(_ context.Context, eventID string, since time.Time) ([]Occurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Occurrence
	for k, o := range r.rows {
		if o.EventID == eventID && !o.OriginalStart.Before(since) {
			out = append(out, o)
			delete(r.rows, k)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteAllByEvent(_ context.Context, eventID string) ([]Occurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Occurrence
	for k, o := range r.rows {
		if o.EventID == eventID {
			out = append(out, o)
			delete(r.rows, k)
		}
	}
	return out, nil
}

// eventStore holds events and records rule rewrites.
type eventStore struct {
	mu     sync.Mutex
	events map[string]RecurringEvent
}

func (s *eventStore) Event(_ context.Context, id string) (RecurringEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return RecurringEvent{}, ErrEventNotFound
	}
	return ev, nil
}

func (s *eventStore) EventsByCalendar(_ context.Context, calendarID string) ([]RecurringEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecurringEvent
	for _, ev := range s.events {
		if ev.CalendarID == calendarID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *eventStore) UpdateRule(_ context.Context, id, rule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.events[id]
	ev.Rule = rule
	s.events[id] = ev
	return nil
}

type failingRepo struct {
	mock.Mock
	*memRepo
}

func (f *failingRepo) DeleteSince(ctx context.Context, eventID string, since time.Time) ([]Occurrence, error) {
	args := f.Called(ctx, eventID, since)
	return nil, args.Error(1)
}

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) // a Monday

func dailyStandup() RecurringEvent {
	return RecurringEvent{ID: "ev1", CalendarID: "cal1", Title: "standup", Start: base, Rule: "FREQ=DAILY;COUNT=10", Span: 30 * time.Minute}
}

func week() period.Period { return period.Of(base, 7*24*time.Hour) }

func newFixture() (*Service, *Materializer, *memRepo, *eventStore) {
	repo := newMemRepo()
	events := &eventStore{events: map[string]RecurringEvent{"ev1": dailyStandup()}}
	svc := NewService(repo, WithTruncator(UntilTruncator{Rules: events}))
	return svc, NewMaterializer(svc, 0, logx.Nop()), repo, events
}

func startsOf(in []Instance) []time.Time {
	out := make([]time.Time, 0, len(in))
	for _, i := range in {
		out = append(out, i.Period.Start())
	}
	return out
}

func TestExpandComputesRuleInstances(t *testing.T) {
	t.Parallel()
	_, mat, _, _ := newFixture()

	got, err := mat.Expand(dailyStandup(), week(), nil)
	require.NoError(t, err)
	require.Len(t, got, 7)
	assert.Equal(t, base, got[0].Period.Start())
	assert.Equal(t, 30*time.Minute, got[0].Period.Duration())
	assert.False(t, got[0].Overridden())
}

func TestOverrideWinsOverRule(t *testing.T) {
	t.Parallel()
	svc, mat, _, _ := newFixture()
	ctx := context.Background()
	ev := dailyStandup()
	target := base.Add(48 * time.Hour)
	moved := period.Of(target.Add(3*time.Hour), time.Hour)

	_, err := svc.Override(ctx, ev, target, moved)
	require.NoError(t, err)

	got, err := mat.Timeline(ctx, []RecurringEvent{ev}, week())
	require.NoError(t, err)
	require.Len(t, got, 7)
	for _, in := range got {
		if in.OriginalStart.Equal(target) {
			assert.True(t, in.Period.Equal(moved), "override period expected, got %s", in.Period)
			assert.True(t, in.Overridden())
		}
		assert.False(t, in.Period.Start().Equal(target), "rule-computed instance leaked at %s", target)
	}
}

func TestCancelSuppressesInstance(t *testing.T) {
	t.Parallel()
	svc, mat, _, _ := newFixture()
	ctx := context.Background()
	ev := dailyStandup()
	target := base.Add(24 * time.Hour)

	_, err := svc.Cancel(ctx, ev, target)
	require.NoError(t, err)

	got, err := mat.Timeline(ctx, []RecurringEvent{ev}, week())
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.NotContains(t, startsOf(got), target)
}

func TestOverrideMovedIntoWindow(t *testing.T) {
	t.Parallel()
	svc, mat, _, _ := newFixture()
	ctx := context.Background()
	ev := dailyStandup()
	// the 9th instance moves back into the first week
	target := base.Add(8 * 24 * time.Hour)
	moved := period.Of(base.Add(2*time.Hour), time.Hour)

	_, err := svc.Override(ctx, ev, target, moved)
	require.NoError(t, err)

	got, err := mat.Timeline(ctx, []RecurringEvent{ev}, week())
	require.NoError(t, err)
	require.Len(t, got, 8)
	assert.True(t, got[1].Period.Equal(moved))
}

func TestOverrideRejectsUnknownInstant(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newFixture()
	_, err := svc.Override(context.Background(), dailyStandup(), base.Add(time.Hour), week())
	assert.ErrorIs(t, err, ErrNoSuchInstance)
}

func TestDeleteSinceIsTotalAndIdempotent(t *testing.T) {
	t.Parallel()
	svc, mat, repo, events := newFixture()
	ctx := context.Background()
	ev := dailyStandup()

	_, err := svc.Cancel(ctx, ev, base.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = svc.Override(ctx, ev, base.Add(3*24*time.Hour), period.Of(base.Add(3*24*time.Hour+time.Hour), time.Hour))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, ev, base.Add(5*24*time.Hour))
	require.NoError(t, err)

	var notified []Occurrence
	svc.notifier = ChangeNotifierFunc(func(_ context.Context, o Occurrence, k ChangeKind) {
		assert.Equal(t, ChangeDeleted, k)
		notified = append(notified, o)
	})

	since := base.Add(3 * 24 * time.Hour)
	n, err := svc.DeleteSince(ctx, ev, since, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, notified, 2)

	left, _ := repo.ListByEvent(ctx, ev.ID)
	require.Len(t, left, 1)
	assert.Equal(t, base.Add(24*time.Hour), left[0].OriginalStart)

	truncated, _ := events.Event(ctx, ev.ID)
	assert.Contains(t, truncated.Rule, "UNTIL=")
	assert.NotContains(t, truncated.Rule, "COUNT=")
	got, err := mat.Expand(truncated, period.Of(base, 30*24*time.Hour), left)
	require.NoError(t, err)
	for _, in := range got {
		assert.True(t, in.OriginalStart.Before(since), "instance %s survived delete-since", in.OriginalStart)
	}
	assert.Len(t, got, 2) // day 0 and day 2; day 1 is canceled

	n, err = svc.DeleteSince(ctx, truncated, since, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAllByEventKeepsRule(t *testing.T) {
	t.Parallel()
	svc, _, repo, events := newFixture()
	ctx := context.Background()
	ev := dailyStandup()
	_, _ = svc.Cancel(ctx, ev, base)
	_, _ = svc.Cancel(ctx, ev, base.Add(9*24*time.Hour))

	calls := 0
	svc.notifier = ChangeNotifierFunc(func(context.Context, Occurrence, ChangeKind) { calls++ })

	n, err := svc.DeleteAllByEvent(ctx, ev, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Zero(t, calls, "notify=false must not fan out")

	rows, _ := repo.ListByEvent(ctx, ev.ID)
	assert.Empty(t, rows)
	kept, _ := events.Event(ctx, ev.ID)
	assert.Equal(t, ev.Rule, kept.Rule)
}

func TestDeleteSinceStoreFailure(t *testing.T) {
	t.Parallel()
	events := &eventStore{events: map[string]RecurringEvent{"ev1": dailyStandup()}}
	repo := &failingRepo{memRepo: newMemRepo()}
	repo.On("DeleteSince", mock.Anything, "ev1", base).Return(nil, errors.New("disk full"))
	svc := NewService(repo, WithTruncator(UntilTruncator{Rules: events}))

	n, err := svc.DeleteSince(context.Background(), dailyStandup(), base, true)
	assert.ErrorIs(t, err, ErrStoreTransaction)
	assert.Zero(t, n)
	kept, _ := events.Event(context.Background(), "ev1")
	assert.Equal(t, dailyStandup().Rule, kept.Rule, "rule must not change when the store fails")
	repo.AssertExpectations(t)
}

func TestTruncateRuleNoopWhenRuleEndsEarlier(t *testing.T) {
	t.Parallel()
	ev := dailyStandup()
	_, changed, err := truncateRule(ev, base.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	rule, changed, err := truncateRule(ev, base.Add(2*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, rule, "UNTIL=20240306T085959Z")
}

func TestTimelineForUserChecksAccess(t *testing.T) {
	t.Parallel()
	_, mat, _, events := newFixture()
	tbl := access.NewTable()
	tbl.Grant("cal1", "alice", access.RoleUser)
	tl := NewTimeline(events, mat, tbl)

	got, err := tl.ForUser(context.Background(), "alice", "cal1", week())
	require.NoError(t, err)
	assert.Len(t, got, 7)

	_, err = tl.ForUser(context.Background(), "mallory", "cal1", week())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEncodeICS(t *testing.T) {
	t.Parallel()
	_, mat, _, _ := newFixture()
	got, err := mat.Expand(dailyStandup(), period.Of(base, 48*time.Hour), nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	// Second day moved by an hour.
	got[1].OccurrenceID = "occ1"
	got[1].Period = period.Of(base.Add(25*time.Hour), 30*time.Minute)

	var buf bytes.Buffer
	require.NoError(t, EncodeICS(&buf, "team", got))
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	assert.Equal(t, 1, strings.Count(out, "RECURRENCE-ID"), "only the overridden instance names its original start")
	assert.Contains(t, out, "RECURRENCE-ID:20240305T090000Z")
	assert.Contains(t, out, "UID:ev1-20240304T090000Z")
	assert.Contains(t, out, "UID:ev1\r\n")
	assert.Contains(t, out, "DTSTART:20240305T100000Z")
	assert.Contains(t, out, "SUMMARY:standup")
}
