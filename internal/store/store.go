// Package store persists usage logs, plugin group admins and meme
// visibility rules in sqlite.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the database and runs the schema migration once.
// Concurrent opens of the same path are serialized by sqlite's busy timeout;
// AutoMigrate itself is idempotent.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := ResolveDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("resolve dsn: %w", err)
	}
	gdb, err := gorm.Open(sqlite.Open(sqliteDSN(path, cfg.SQLite)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := gdb.AutoMigrate(&UsageLog{}, &GroupAdmin{}, &MemeRule{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("store_ready", "path", path)
	return &Store{db: gdb, logger: logger}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordUsage appends one usage row. Empty group ids are recorded as
// "private".
func (s *Store) RecordUsage(ctx context.Context, memeKey, userID, groupID string) error {
	if groupID == "" {
		groupID = GroupPrivate
	}
	row := UsageLog{MemeKey: memeKey, UserID: userID, GroupID: groupID, Timestamp: time.Now().UTC()}
	return s.db.WithContext(ctx).Create(&row).Error
}

// UsageFilter narrows UsageSince. Empty fields match everything.
type UsageFilter struct {
	UserID  string
	GroupID string
	MemeKey string
}

// UsageSince returns usage rows at or after start, oldest first.
func (s *Store) UsageSince(ctx context.Context, start time.Time, filter UsageFilter) ([]UsageLog, error) {
	q := s.db.WithContext(ctx).Where("timestamp >= ?", start)
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.GroupID != "" {
		q = q.Where("group_id = ?", filter.GroupID)
	}
	if filter.MemeKey != "" {
		q = q.Where("meme_key = ?", filter.MemeKey)
	}
	var rows []UsageLog
	if err := q.Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// RecentMemeKeys returns the keys of all usage rows since start, one entry
// per row (duplicates intact, for hot-label counting).
func (s *Store) RecentMemeKeys(ctx context.Context, start time.Time) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&UsageLog{}).
		Where("timestamp >= ?", start).
		Pluck("meme_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) AddGroupAdmin(ctx context.Context, groupID, userID string) error {
	row := GroupAdmin{GroupID: groupID, UserID: userID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) RemoveGroupAdmin(ctx context.Context, groupID, userID string) error {
	return s.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&GroupAdmin{}).Error
}

func (s *Store) ListGroupAdmins(ctx context.Context, groupID string) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&GroupAdmin{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&GroupAdmin{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

// SetRule upserts a visibility rule.
func (s *Store) SetRule(ctx context.Context, memeKey string, scope RuleScope, subjectID string, mode RuleMode) error {
	row := MemeRule{MemeKey: memeKey, Scope: scope, SubjectID: subjectID, Mode: mode}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meme_key"}, {Name: "scope"}, {Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode"}),
	}).Create(&row).Error
}

func (s *Store) RemoveRule(ctx context.Context, memeKey string, scope RuleScope, subjectID string) error {
	return s.db.WithContext(ctx).
		Where("meme_key = ? AND scope = ? AND subject_id = ?", memeKey, scope, subjectID).
		Delete(&MemeRule{}).Error
}

// IsWhitelisted reports whether a key is in global white mode.
func (s *Store) IsWhitelisted(ctx context.Context, memeKey string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MemeRule{}).
		Where("meme_key = ? AND scope = ? AND mode = ?", memeKey, ScopeGlobal, ModeWhite).
		Count(&count).Error
	return count > 0, err
}

// RulesForGroup lists global rules plus the group's own rules.
func (s *Store) RulesForGroup(ctx context.Context, groupID string) ([]MemeRule, error) {
	var rules []MemeRule
	err := s.db.WithContext(ctx).
		Where("(scope = ? AND subject_id = ?) OR scope = ?", ScopeGroup, groupID, ScopeGlobal).
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// IsDisabled evaluates visibility for a key in a scope:
// global white + no group white => disabled; otherwise a group black rule
// disables; no rules at all means enabled.
func (s *Store) IsDisabled(ctx context.Context, memeKey, groupID string) (bool, error) {
	var globalRules []MemeRule
	err := s.db.WithContext(ctx).
		Where("meme_key = ? AND scope = ?", memeKey, ScopeGlobal).
		Limit(1).Find(&globalRules).Error
	if err != nil {
		return false, err
	}
	var groupRules []MemeRule
	if groupID != "" {
		err = s.db.WithContext(ctx).
			Where("meme_key = ? AND scope = ? AND subject_id = ?", memeKey, ScopeGroup, groupID).
			Limit(1).Find(&groupRules).Error
		if err != nil {
			return false, err
		}
	}
	if len(globalRules) > 0 && globalRules[0].Mode == ModeWhite {
		return !(len(groupRules) > 0 && groupRules[0].Mode == ModeWhite), nil
	}
	return len(groupRules) > 0 && groupRules[0].Mode == ModeBlack, nil
}
