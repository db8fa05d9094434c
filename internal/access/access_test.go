package access

import (
	"context"
	"strings"
	"testing"
)

func TestTableRoles(t *testing.T) {
	t.Parallel()
	tbl := NewTable().WithOwners(func(id string) string {
		if rest, ok := strings.CutPrefix(id, "personal:"); ok {
			return rest
		}
		return ""
	})
	tbl.AddAdmin("root")
	tbl.SetPublic("cal-public", true)
	tbl.Grant("cal-team", "alice", RoleWriter)
	tbl.Grant("cal-team", "bob", RoleUser)
	ctx := context.Background()

	tests := []struct {
		user, res string
		op        Operation
		want      bool
	}{
		{"alice", "cal-team", OpWrite, true},
		{"bob", "cal-team", OpRead, true},
		{"bob", "cal-team", OpWrite, false},
		{"carol", "cal-team", OpRead, false},
		{"carol", "cal-public", OpRead, true},
		{"carol", "cal-public", OpWrite, false},
		{"root", "cal-team", OpAdmin, true},
		{"dave", "personal:dave", OpAdmin, true},
		{"erin", "personal:dave", OpRead, false},
		{"", "cal-public", OpRead, false},
	}
	for _, tt := range tests {
		if got := tbl.IsAuthorized(ctx, tt.user, tt.res, tt.op); got != tt.want {
			t.Fatalf("IsAuthorized(%q, %q, %v) = %v, want %v", tt.user, tt.res, tt.op, got, tt.want)
		}
	}

	tbl.Grant("cal-team", "bob", RoleNone)
	if tbl.IsAuthorized(ctx, "bob", "cal-team", OpRead) {
		t.Fatal("revoked grant still authorizes")
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()
	if ParseRole(" Publisher ") != RoleWriter || ParseRole("admin") != RoleAdmin || ParseRole("x") != RoleNone {
		t.Fatal("unexpected role mapping")
	}
}
