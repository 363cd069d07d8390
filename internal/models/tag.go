package models

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tag is a hashtag, unique by normalized name
type Tag struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Name        string    `gorm:"type:varchar(255);not null;uniqueIndex;column:name"`
	DisplayName string    `gorm:"type:varchar(255);column:display_name"`
	CreatedAt   time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Tag
func (Tag) TableName() string {
	return "tags"
}

// StatusTag links a status to a tag
type StatusTag struct {
	StatusID int64 `gorm:"primaryKey;autoIncrement:false;column:status_id"`
	TagID    int64 `gorm:"primaryKey;autoIncrement:false;index;column:tag_id"`
}

// TableName specifies the table name for StatusTag
func (StatusTag) TableName() string {
	return "statuses_tags"
}

// NormalizeTag folds a hashtag to its lookup form: leading '#' removed,
// compatibility-decomposed, lowercased, and reduced to letters, digits,
// underscores and combining marks. Returns "" when nothing usable remains.
func NormalizeTag(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	name = norm.NFKC.String(name)
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
