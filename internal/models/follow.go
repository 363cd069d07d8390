package models

import (
	"time"
)

// Follow represents a follow relationship
type Follow struct {
	ID              int64     `gorm:"primaryKey;autoIncrement;column:id"`
	AccountID       int64     `gorm:"not null;uniqueIndex:idx_follows_pair;column:account_id"`
	TargetAccountID int64     `gorm:"not null;uniqueIndex:idx_follows_pair;index;column:target_account_id"`
	CreatedAt       time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Follow
func (Follow) TableName() string {
	return "follows"
}

// List is a named subset of an account's follows
type List struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	AccountID int64     `gorm:"not null;index;column:account_id"`
	Title     string    `gorm:"type:varchar(255);not null;column:title"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for List
func (List) TableName() string {
	return "lists"
}

// ListAccount places an account on a list
type ListAccount struct {
	ID        int64 `gorm:"primaryKey;autoIncrement;column:id"`
	ListID    int64 `gorm:"not null;uniqueIndex:idx_list_accounts_pair;column:list_id"`
	AccountID int64 `gorm:"not null;uniqueIndex:idx_list_accounts_pair;index;column:account_id"`
}

// TableName specifies the table name for ListAccount
func (ListAccount) TableName() string {
	return "list_accounts"
}
