package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Status represents a post. Rows are soft-deleted so the URI of a deleted
// post keeps occupying the unique index and cannot be created again.
type Status struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement:false;column:id"`
	URI                string         `gorm:"type:text;not null;uniqueIndex:index_statuses_on_uri;column:uri"`
	URL                string         `gorm:"type:text;column:url"`
	AccountID          int64          `gorm:"not null;index;column:account_id"`
	Text               string         `gorm:"type:text;not null;default:'';column:text"`
	SpoilerText        string         `gorm:"type:text;not null;default:'';column:spoiler_text"`
	Language           string         `gorm:"type:varchar(16);column:language"`
	Sensitive          bool           `gorm:"not null;default:false;column:sensitive"`
	Visibility         Visibility     `gorm:"type:smallint;not null;default:0;column:visibility"`
	Searchability      Visibility     `gorm:"type:smallint;not null;default:0;column:searchability"`
	Local              bool           `gorm:"not null;default:false;column:local"`
	InReplyToID        *int64         `gorm:"index;column:in_reply_to_id"`
	InReplyToAccountID *int64         `gorm:"column:in_reply_to_account_id"`
	InReplyToURI       string         `gorm:"type:text;column:in_reply_to_uri"`
	ReblogOfID         *int64         `gorm:"index;column:reblog_of_id"`
	QuoteOfID          *int64         `gorm:"index;column:quote_of_id"`
	ConversationID     *int64         `gorm:"column:conversation_id"`
	PollID             *int64         `gorm:"column:poll_id"`
	MediaAttachmentIDs pq.Int64Array  `gorm:"type:bigint[];column:media_attachment_ids"`
	ExpiresAt          *time.Time     `gorm:"index;column:expires_at"`
	ExpiryAction       ExpiryAction   `gorm:"type:smallint;not null;default:0;column:expiry_action"`
	ExpiredAt          *time.Time     `gorm:"column:expired_at"`
	RepliesCount       int64          `gorm:"not null;default:0;column:replies_count"`
	ReblogsCount       int64          `gorm:"not null;default:0;column:reblogs_count"`
	CreatedAt          time.Time      `gorm:"not null;column:created_at"`
	UpdatedAt          time.Time      `gorm:"not null;column:updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index;column:deleted_at"`

	// Loaded on demand, never written through associations
	Account  *Account   `gorm:"-"`
	Tags     []*Tag     `gorm:"-"`
	Mentions []*Mention `gorm:"-"`
	Poll     *Poll      `gorm:"-"`
}

// TableName specifies the table name for Status
func (Status) TableName() string {
	return "statuses"
}

// IsReblog reports whether the status re-shares another one
func (s *Status) IsReblog() bool {
	return s.ReblogOfID != nil
}

// IsReply reports whether the status answers another one
func (s *Status) IsReply() bool {
	return s.InReplyToID != nil || s.InReplyToURI != ""
}

// HasMedia reports whether any attachment is present
func (s *Status) HasMedia() bool {
	return len(s.MediaAttachmentIDs) > 0
}

// Tombstoned reports whether the status has been deleted
func (s *Status) Tombstoned() bool {
	return s.DeletedAt.Valid
}

// Conversation groups statuses of one thread
type Conversation struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	URI       *string   `gorm:"type:text;uniqueIndex;column:uri"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// MediaAttachment is a placeholder for a remote file, filled in by the media fetch task
type MediaAttachment struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false;column:id"`
	StatusID    *int64    `gorm:"index;column:status_id"`
	AccountID   int64     `gorm:"not null;column:account_id"`
	RemoteURL   string    `gorm:"type:text;not null;column:remote_url"`
	Type        string    `gorm:"type:varchar(32);column:type"`
	Description string    `gorm:"type:text;column:description"`
	ContentType string    `gorm:"type:varchar(255);column:content_type"`
	FileSize    int64     `gorm:"not null;default:0;column:file_size"`
	Fetched     bool      `gorm:"not null;default:false;column:fetched"`
	CreatedAt   time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for MediaAttachment
func (MediaAttachment) TableName() string {
	return "media_attachments"
}

// PreviewCard stores the crawled title of the first link in a status
type PreviewCard struct {
	StatusID  int64     `gorm:"primaryKey;autoIncrement:false;column:status_id"`
	URL       string    `gorm:"type:text;not null;column:url"`
	Title     string    `gorm:"type:text;column:title"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for PreviewCard
func (PreviewCard) TableName() string {
	return "preview_cards"
}
