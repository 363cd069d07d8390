package models

// Mention records an account addressed by a status. Silent mentions
// widen the audience of limited posts without notifying.
type Mention struct {
	ID        int64 `gorm:"primaryKey;autoIncrement;column:id"`
	StatusID  int64 `gorm:"not null;uniqueIndex:idx_mentions_status_account;column:status_id"`
	AccountID int64 `gorm:"not null;uniqueIndex:idx_mentions_status_account;index;column:account_id"`
	Silent    bool  `gorm:"not null;default:false;column:silent"`

	Account *Account `gorm:"-"`
}

// TableName specifies the table name for Mention
func (Mention) TableName() string {
	return "mentions"
}
