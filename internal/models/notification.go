package models

import (
	"time"
)

// Notification represents a notification
type Notification struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	AccountID     int64     `gorm:"not null;uniqueIndex:idx_notifications_unique;column:account_id"`
	FromAccountID int64     `gorm:"not null;column:from_account_id"`
	Type          int16     `gorm:"type:smallint;not null;uniqueIndex:idx_notifications_unique;column:type_id"`
	StatusID      int64     `gorm:"not null;uniqueIndex:idx_notifications_unique;column:status_id"`
	CreatedAt     time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}

// Notification type constants
const (
	NotifyTypeMention    int16 = 1
	NotifyTypeReference  int16 = 2
	NotifyTypeQuote      int16 = 3
	NotifyTypePollClosed int16 = 4
	NotifyTypeReblog     int16 = 5
)
