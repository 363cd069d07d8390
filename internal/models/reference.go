package models

import "time"

// StatusReference is a directed edge from one status to another
type StatusReference struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:id"`
	StatusID       int64     `gorm:"not null;uniqueIndex:idx_status_references_pair;column:status_id"`
	TargetStatusID int64     `gorm:"not null;uniqueIndex:idx_status_references_pair;index;column:target_status_id"`
	Quote          bool      `gorm:"not null;default:false;column:quote"`
	CreatedAt      time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for StatusReference
func (StatusReference) TableName() string {
	return "status_references"
}

// PendingReference records a reference whose target was not known yet
type PendingReference struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	StatusID  int64     `gorm:"not null;uniqueIndex:idx_pending_references_pair;column:status_id"`
	TargetURI string    `gorm:"type:text;not null;uniqueIndex:idx_pending_references_pair;column:target_uri"`
	Quote     bool      `gorm:"not null;default:false;column:quote"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for PendingReference
func (PendingReference) TableName() string {
	return "pending_references"
}
