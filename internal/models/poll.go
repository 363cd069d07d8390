package models

import (
	"time"

	"github.com/lib/pq"
)

// Poll is embedded in a status
type Poll struct {
	ID          int64          `gorm:"primaryKey;autoIncrement:false;column:id"`
	StatusID    int64          `gorm:"not null;index;column:status_id"`
	AccountID   int64          `gorm:"not null;column:account_id"`
	Options     pq.StringArray `gorm:"type:text[];not null;column:options"`
	Tallies     pq.Int64Array  `gorm:"type:bigint[];not null;column:tallies"`
	Multiple    bool           `gorm:"not null;default:false;column:multiple"`
	VotersCount int64          `gorm:"not null;default:0;column:voters_count"`
	ExpiresAt   *time.Time     `gorm:"column:expires_at"`
	ClosedAt    *time.Time     `gorm:"column:closed_at"`
	CreatedAt   time.Time      `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Poll
func (Poll) TableName() string {
	return "polls"
}

// Open reports whether votes are still accepted at now
func (p *Poll) Open(now time.Time) bool {
	if p.ClosedAt != nil {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// OptionIndex returns the index of the option whose title equals name, or -1
func (p *Poll) OptionIndex(name string) int {
	for i, opt := range p.Options {
		if opt == name {
			return i
		}
	}
	return -1
}

// PollVote is one choice of one voter
type PollVote struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PollID    int64     `gorm:"not null;uniqueIndex:idx_poll_votes_choice;column:poll_id"`
	AccountID int64     `gorm:"not null;uniqueIndex:idx_poll_votes_choice;column:account_id"`
	Choice    int       `gorm:"not null;uniqueIndex:idx_poll_votes_choice;column:choice"`
	URI       string    `gorm:"type:text;column:uri"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for PollVote
func (PollVote) TableName() string {
	return "poll_votes"
}
