package perm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRoles struct {
	roles map[string]string
	err   error
}

func (f *fakeRoles) MemberRole(ctx context.Context, groupID, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	role, ok := f.roles[groupID+"/"+userID]
	if !ok {
		return "member", nil
	}
	return role, nil
}

type fakeAdmins struct {
	admins map[string]bool
}

func (f *fakeAdmins) IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	return f.admins[groupID+"/"+userID], nil
}

func newTestChecker() *Checker {
	return NewChecker(Options{
		Superusers: []string{"su1"},
		PermLevels: map[string]string{
			"refresh_memes":       "管理员",
			"global_disable_meme": "超管",
			"group_admin_manager": "群主",
		},
		Roles:  &fakeRoles{roles: map[string]string{"g1/owner1": "owner", "g1/admin1": "admin"}},
		Admins: &fakeAdmins{admins: map[string]bool{"g1/plugadmin": true}},
	})
}

func TestLevelOf(t *testing.T) {
	c := newTestChecker()
	ctx := context.Background()

	tests := []struct {
		name    string
		groupID string
		userID  string
		want    Level
	}{
		{"superuser wins everywhere", "g1", "su1", Superuser},
		{"superuser in private chat", "", "su1", Superuser},
		{"native owner", "g1", "owner1", Owner},
		{"native admin", "g1", "admin1", Admin},
		{"plugin group admin", "g1", "plugadmin", Admin},
		{"plain member", "g1", "someone", Member},
		{"private chat is member", "", "someone", Member},
		{"empty user", "g1", "", Member},
	}
	for _, tt := range tests {
		if got := c.LevelOf(ctx, tt.groupID, tt.userID); got != tt.want {
			t.Errorf("%s: LevelOf = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLevelOfRoleLookupErrorFallsBack(t *testing.T) {
	c := NewChecker(Options{
		Roles:  &fakeRoles{err: errors.New("api down")},
		Admins: &fakeAdmins{admins: map[string]bool{"g1/u1": true}},
	})
	if got := c.LevelOf(context.Background(), "g1", "u1"); got != Admin {
		t.Fatalf("LevelOf = %v, want Admin via plugin admin list", got)
	}
}

func TestBlock(t *testing.T) {
	c := newTestChecker()
	ctx := context.Background()

	if msg := c.Block(ctx, "g1", "admin1", "refresh_memes"); msg != "" {
		t.Fatalf("admin blocked from admin command: %q", msg)
	}
	if msg := c.Block(ctx, "g1", "owner1", "refresh_memes"); msg != "" {
		t.Fatalf("owner blocked from admin command: %q", msg)
	}
	if msg := c.Block(ctx, "g1", "someone", "refresh_memes"); msg == "" {
		t.Fatal("member should be blocked from admin command")
	} else if !strings.Contains(msg, "成员") || !strings.Contains(msg, "管理员") {
		t.Fatalf("denial should name both levels: %q", msg)
	}

	if msg := c.Block(ctx, "g1", "owner1", "global_disable_meme"); msg == "" {
		t.Fatal("owner should be blocked from superuser command")
	}
	if msg := c.Block(ctx, "", "su1", "global_disable_meme"); msg != "" {
		t.Fatalf("superuser blocked: %q", msg)
	}

	if msg := c.Block(ctx, "g1", "someone", "unconfigured_command"); msg != "" {
		t.Fatalf("unconfigured command should be unrestricted: %q", msg)
	}
}

func TestLevelStringRoundTrip(t *testing.T) {
	for _, l := range []Level{Superuser, Owner, Admin, Member} {
		if got := LevelFromString(l.String()); got != l {
			t.Errorf("LevelFromString(%q) = %v, want %v", l.String(), got, l)
		}
	}
	if got := LevelFromString("别的"); got != Unknown {
		t.Errorf("LevelFromString unknown = %v", got)
	}
}
