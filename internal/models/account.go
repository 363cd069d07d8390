package models

import (
	"time"
)

// Account represents a local or remote actor
type Account struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement;column:id"`
	Username             string     `gorm:"type:varchar(255);not null;column:username"`
	Domain               string     `gorm:"type:varchar(255);not null;default:'';index;column:domain"`
	URI                  string     `gorm:"type:text;not null;uniqueIndex;column:uri"`
	URL                  string     `gorm:"type:text;column:url"`
	InboxURL             string     `gorm:"type:text;column:inbox_url"`
	SharedInboxURL       string     `gorm:"type:text;column:shared_inbox_url"`
	FollowersURL         string     `gorm:"type:text;column:followers_url"`
	Bot                  bool       `gorm:"not null;default:false;column:bot"`
	Group                bool       `gorm:"not null;default:false;column:group_actor"`
	Silenced             bool       `gorm:"not null;default:false;column:silenced"`
	Limited              bool       `gorm:"not null;default:false;column:limited"`
	Suspended            bool       `gorm:"not null;default:false;column:suspended"`
	DefaultSearchability Visibility `gorm:"type:smallint;not null;default:0;column:default_searchability"`
	StatusesCount        int64      `gorm:"not null;default:0;column:statuses_count"`
	LastStatusAt         *time.Time `gorm:"column:last_status_at"`
	CreatedAt            time.Time  `gorm:"not null;column:created_at"`
	UpdatedAt            time.Time  `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// Local reports whether the account lives on this server
func (a *Account) Local() bool {
	return a.Domain == ""
}

// Acct returns username for local accounts and username@domain otherwise
func (a *Account) Acct() string {
	if a.Local() {
		return a.Username
	}
	return a.Username + "@" + a.Domain
}

// InboxForDelivery prefers the shared inbox
func (a *Account) InboxForDelivery() string {
	if a.SharedInboxURL != "" {
		return a.SharedInboxURL
	}
	return a.InboxURL
}
