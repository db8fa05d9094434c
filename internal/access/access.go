// Package access answers yes/no authorization questions for calendar and
// component resources.
package access

import (
	"context"
	"strings"
	"sync"
)

type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpAdmin
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Role ranks what a user may do on a resource. Higher roles include the lower
// ones.
type Role int

const (
	RoleNone Role = iota
	RoleUser
	RoleWriter
	RoleAdmin
)

func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "reader":
		return RoleUser
	case "writer", "publisher":
		return RoleWriter
	case "admin":
		return RoleAdmin
	default:
		return RoleNone
	}
}

func (r Role) allows(op Operation) bool {
	switch op {
	case OpRead:
		return r >= RoleUser
	case OpWrite:
		return r >= RoleWriter
	case OpAdmin:
		return r >= RoleAdmin
	}
	return false
}

type Authorizer interface {
	IsAuthorized(ctx context.Context, userID, resourceID string, op Operation) bool
}

type AuthorizerFunc func(ctx context.Context, userID, resourceID string, op Operation) bool

func (f AuthorizerFunc) IsAuthorized(ctx context.Context, userID, resourceID string, op Operation) bool {
	return f(ctx, userID, resourceID, op)
}

// Table is an in-memory role table. Platform admins hold every right; public
// resources grant RoleUser to everybody; otherwise the user's role on the
// resource decides.
type Table struct {
	mu      sync.RWMutex
	admins  map[string]struct{}
	public  map[string]struct{}
	grants  map[string]map[string]Role // resource -> user -> role
	ownerOf func(resourceID string) string
}

func NewTable() *Table {
	return &Table{
		admins: map[string]struct{}{},
		public: map[string]struct{}{},
		grants: map[string]map[string]Role{},
	}
}

// WithOwners makes the owner of a resource its admin. Personal calendars are
// owned by the user whose id they carry.
func (t *Table) WithOwners(ownerOf func(resourceID string) string) *Table {
	t.mu.Lock()
	t.ownerOf = ownerOf
	t.mu.Unlock()
	return t
}

func (t *Table) AddAdmin(userID string) {
	t.mu.Lock()
	t.admins[userID] = struct{}{}
	t.mu.Unlock()
}

func (t *Table) SetPublic(resourceID string, public bool) {
	t.mu.Lock()
	if public {
		t.public[resourceID] = struct{}{}
	} else {
		delete(t.public, resourceID)
	}
	t.mu.Unlock()
}

func (t *Table) Grant(resourceID, userID string, r Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.grants[resourceID]
	if m == nil {
		m = map[string]Role{}
		t.grants[resourceID] = m
	}
	if r == RoleNone {
		delete(m, userID)
		return
	}
	m[userID] = r
}

// RoleOf returns the effective role of userID on resourceID.
func (t *Table) RoleOf(userID, resourceID string) Role {
	if userID == "" {
		return RoleNone
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.admins[userID]; ok {
		return RoleAdmin
	}
	if t.ownerOf != nil && t.ownerOf(resourceID) == userID {
		return RoleAdmin
	}
	role := t.grants[resourceID][userID]
	if _, ok := t.public[resourceID]; ok && role < RoleUser {
		role = RoleUser
	}
	return role
}

func (t *Table) IsAuthorized(_ context.Context, userID, resourceID string, op Operation) bool {
	return t.RoleOf(userID, resourceID).allows(op)
}
