package store

import "time"

// GroupPrivate is recorded instead of a group id for direct-message usage.
const GroupPrivate = "private"

type RuleScope string

const (
	ScopeGlobal RuleScope = "global"
	ScopeGroup  RuleScope = "group"
)

// GlobalSubject is the subject id used for global-scope rules.
const GlobalSubject = "*"

type RuleMode string

const (
	ModeBlack RuleMode = "black"
	ModeWhite RuleMode = "white"
)

// UsageLog is one append-only record per generated meme.
type UsageLog struct {
	ID        uint      `gorm:"primaryKey"`
	MemeKey   string    `gorm:"column:meme_key;not null;index"`
	UserID    string    `gorm:"column:user_id;not null"`
	GroupID   string    `gorm:"column:group_id;index"`
	Timestamp time.Time `gorm:"column:timestamp;index"`
}

func (UsageLog) TableName() string { return "meme_usage_logs" }

// GroupAdmin is the plugin-level group admin allowlist.
type GroupAdmin struct {
	GroupID string `gorm:"column:group_id;primaryKey"`
	UserID  string `gorm:"column:user_id;primaryKey"`
}

func (GroupAdmin) TableName() string { return "plugin_group_admins" }

// MemeRule is one visibility rule, unique per (key, scope, subject).
type MemeRule struct {
	MemeKey   string    `gorm:"column:meme_key;primaryKey"`
	Scope     RuleScope `gorm:"column:scope;primaryKey"`
	SubjectID string    `gorm:"column:subject_id;primaryKey"`
	Mode      RuleMode  `gorm:"column:mode;not null"`
}

func (MemeRule) TableName() string { return "meme_manager" }
