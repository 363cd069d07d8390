package models

import (
	"strings"
	"time"
)

// TagFollow delivers statuses carrying a tag to a home feed or a list
type TagFollow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	TagID     int64     `gorm:"not null;index;column:tag_id"`
	AccountID int64     `gorm:"not null;column:account_id"`
	ListID    *int64    `gorm:"column:list_id"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for TagFollow
func (TagFollow) TableName() string {
	return "tag_follows"
}

// DomainSubscription delivers public statuses from one domain
type DomainSubscription struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Domain        string    `gorm:"type:varchar(255);not null;index;column:domain"`
	AccountID     int64     `gorm:"not null;column:account_id"`
	ListID        *int64    `gorm:"column:list_id"`
	ExcludeReblog bool      `gorm:"not null;default:false;column:exclude_reblog"`
	CreatedAt     time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for DomainSubscription
func (DomainSubscription) TableName() string {
	return "domain_subscribes"
}

// KeywordSubscription delivers public statuses whose text matches.
// Keyword and Exclude are comma separated; Regexp treats Keyword as one pattern.
type KeywordSubscription struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	AccountID int64     `gorm:"not null;index;column:account_id"`
	ListID    *int64    `gorm:"column:list_id"`
	Keyword   string    `gorm:"type:text;not null;column:keyword"`
	Exclude   string    `gorm:"type:text;not null;default:'';column:exclude_keyword"`
	Regexp    bool      `gorm:"not null;default:false;column:regexp"`
	Disabled  bool      `gorm:"not null;default:false;column:disabled"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for KeywordSubscription
func (KeywordSubscription) TableName() string {
	return "keyword_subscribes"
}

// Keywords splits Keyword into trimmed, non-empty terms
func (k *KeywordSubscription) Keywords() []string {
	return splitTerms(k.Keyword)
}

// Excludes splits Exclude into trimmed, non-empty terms
func (k *KeywordSubscription) Excludes() []string {
	return splitTerms(k.Exclude)
}

func splitTerms(s string) []string {
	var out []string
	for _, term := range strings.Split(s, ",") {
		if term = strings.TrimSpace(term); term != "" {
			out = append(out, term)
		}
	}
	return out
}
