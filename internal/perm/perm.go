// Package perm resolves user permission levels and gates commands on them.
// The checker is constructed once by the composition root and passed where
// needed; there is no process-wide instance.
package perm

import (
	"context"
	"fmt"
	"log/slog"

	"memebot/internal/platform"
)

// Level orders permissions; smaller is stronger.
type Level int

const (
	Superuser Level = iota
	Owner
	Admin
	Member
	Unknown
)

func (l Level) String() string {
	switch l {
	case Superuser:
		return "超管"
	case Owner:
		return "群主"
	case Admin:
		return "管理员"
	case Member:
		return "成员"
	default:
		return "未知"
	}
}

func LevelFromString(s string) Level {
	switch s {
	case "超管":
		return Superuser
	case "群主":
		return Owner
	case "管理员":
		return Admin
	case "成员":
		return Member
	default:
		return Unknown
	}
}

// GroupAdmins is the slice of the store the checker needs.
type GroupAdmins interface {
	IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error)
}

type Checker struct {
	superusers map[string]bool
	required   map[string]Level
	roles      platform.RoleLookup
	admins     GroupAdmins
	logger     *slog.Logger
}

// Options fixes the checker inputs. PermLevels maps a command permission key
// to the human-readable level name from config.
type Options struct {
	Superusers []string
	PermLevels map[string]string
	Roles      platform.RoleLookup
	Admins     GroupAdmins
	Logger     *slog.Logger
}

func NewChecker(opts Options) *Checker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	superusers := make(map[string]bool, len(opts.Superusers))
	for _, id := range opts.Superusers {
		if id != "" {
			superusers[id] = true
		}
	}
	required := make(map[string]Level, len(opts.PermLevels))
	for key, name := range opts.PermLevels {
		required[key] = LevelFromString(name)
	}
	return &Checker{
		superusers: superusers,
		required:   required,
		roles:      opts.Roles,
		admins:     opts.Admins,
		logger:     logger,
	}
}

// LevelOf resolves the effective level of a user in a group. Direct messages
// and unknown users resolve to Member.
func (c *Checker) LevelOf(ctx context.Context, groupID, userID string) Level {
	if userID == "" {
		return Member
	}
	if c.superusers[userID] {
		return Superuser
	}
	if groupID == "" {
		return Member
	}
	if c.roles != nil {
		role, err := c.roles.MemberRole(ctx, groupID, userID)
		if err != nil {
			c.logger.Warn("perm_role_lookup_error", "group_id", groupID, "user_id", userID, "error", err.Error())
		} else {
			switch role {
			case "owner":
				return Owner
			case "admin":
				return Admin
			}
		}
	}
	if c.admins != nil {
		ok, err := c.admins.IsGroupAdmin(ctx, groupID, userID)
		if err != nil {
			c.logger.Warn("perm_group_admin_lookup_error", "group_id", groupID, "user_id", userID, "error", err.Error())
		} else if ok {
			return Admin
		}
	}
	return Member
}

// Block returns a denial message if the user may not run the command keyed
// by permKey, or "" when allowed. Commands without a configured level are
// unrestricted.
func (c *Checker) Block(ctx context.Context, groupID, userID, permKey string) string {
	required, ok := c.required[permKey]
	if !ok {
		return ""
	}
	level := c.LevelOf(ctx, groupID, userID)
	if level > required {
		return fmt.Sprintf("❌ 您的权限（%s）不足以使用此指令（需要：%s）", level, required)
	}
	return ""
}
