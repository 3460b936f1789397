package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

// Log is an append-only audit entry. A nil RoundID marks a system-level entry.
type Log struct {
	ID        uint                   `gorm:"primaryKey" json:"id"`
	RoundID   *uint                  `gorm:"index" json:"round_id"`
	Level     string                 `gorm:"size:20;not null;index;check:chk_logs_level,level IN ('info','warning','error','critical')" json:"level"`
	Message   string                 `gorm:"type:text;not null" json:"message"`
	Context   map[string]interface{} `gorm:"type:text;serializer:json" json:"context,omitempty"`
	Timestamp time.Time              `gorm:"not null;index" json:"timestamp"`
}

func (Log) TableName() string { return "logs" }

func (l *Log) Validate() error {
	if !oneOf(l.Level, LevelInfo, LevelWarning, LevelError, LevelCritical) {
		return invalid("log", "level", "must be info, warning, error or critical; got %q", l.Level)
	}
	if l.Message == "" {
		return invalid("log", "message", "is required")
	}
	return nil
}

func (l *Log) BeforeSave(tx *gorm.DB) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}
	return l.Validate()
}
