package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/samber/mo"

	"calsched/internal/access"
	"calsched/internal/calendar"
	"calsched/internal/config"
)

// zoneTable resolves user zones from config. It is swapped on reload, so a
// reminder armed before the swap keeps its frozen instant.
type zoneTable struct {
	mu    sync.RWMutex
	def   *time.Location
	users map[string]*time.Location
}

func newZoneTable(cfg config.RemindersConfig) (*zoneTable, error) {
	z := &zoneTable{}
	return z, z.apply(cfg)
}

func (z *zoneTable) apply(cfg config.RemindersConfig) error {
	def := time.UTC
	if name := strings.TrimSpace(cfg.DefaultTimezone); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return err
		}
		def = loc
	}
	users := make(map[string]*time.Location, len(cfg.UserTimezones))
	for user, name := range cfg.UserTimezones {
		loc, err := time.LoadLocation(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		users[user] = loc
	}
	z.mu.Lock()
	z.def, z.users = def, users
	z.mu.Unlock()
	return nil
}

func (z *zoneTable) ResolveZone(_ context.Context, userID string) (*time.Location, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if loc, ok := z.users[userID]; ok {
		return loc, nil
	}
	return z.def, nil
}

// eventDates dates a contribution by the start of the event carrying its id.
type eventDates struct {
	events calendar.EventSource
}

func (d eventDates) ResolveDate(ctx context.Context, contributionID string) (mo.Option[time.Time], error) {
	ev, err := d.events.Event(ctx, contributionID)
	if errors.Is(err, calendar.ErrEventNotFound) {
		return mo.None[time.Time](), nil
	}
	if err != nil {
		return mo.None[time.Time](), err
	}
	if ev.Start.IsZero() {
		return mo.None[time.Time](), nil
	}
	return mo.Some(ev.Start), nil
}

// personalPrefix marks calendars owned by the user whose id follows it.
const personalPrefix = "user:"

func ownerOf(resourceID string) string {
	id, ok := strings.CutPrefix(resourceID, personalPrefix)
	if !ok {
		return ""
	}
	return id
}

// swappableAuth lets a reload replace the role table under a live Timeline.
type swappableAuth struct {
	mu sync.RWMutex
	t  *access.Table
}

func (s *swappableAuth) set(t *access.Table) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
}

func (s *swappableAuth) IsAuthorized(ctx context.Context, userID, resourceID string, op access.Operation) bool {
	s.mu.RLock()
	t := s.t
	s.mu.RUnlock()
	return t != nil && t.IsAuthorized(ctx, userID, resourceID, op)
}

func buildAccessTable(cfg config.AccessConfig) *access.Table {
	t := access.NewTable().WithOwners(ownerOf)
	for _, id := range cfg.Admins {
		t.AddAdmin(strings.TrimSpace(id))
	}
	for _, res := range cfg.Public {
		t.SetPublic(strings.TrimSpace(res), true)
	}
	for res, users := range cfg.Grants {
		for user, role := range users {
			t.Grant(res, user, access.ParseRole(role))
		}
	}
	return t
}
