package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedibird/fedimind/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// first loads one row into dest, mapping not found to (false, nil)
func first(tx *gorm.DB, dest interface{}) (bool, error) {
	if err := tx.First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AccountRepository provides account-related database operations
type AccountRepository struct {
	*Repository
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(repo *Repository) *AccountRepository {
	return &AccountRepository{Repository: repo}
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	if ok, err := first(r.db.WithContext(ctx).Where("id = ?", id), &account); !ok {
		return nil, err
	}
	return &account, nil
}

// GetByURI retrieves an account by its actor URI
func (r *AccountRepository) GetByURI(ctx context.Context, uri string) (*models.Account, error) {
	var account models.Account
	if ok, err := first(r.db.WithContext(ctx).Where("uri = ?", uri), &account); !ok {
		return nil, err
	}
	return &account, nil
}

// GetByAcct retrieves an account by case-insensitive username and domain;
// an empty domain selects local accounts
func (r *AccountRepository) GetByAcct(ctx context.Context, username, domain string) (*models.Account, error) {
	var account models.Account
	q := r.db.WithContext(ctx).Where("lower(username) = ? AND lower(domain) = ?", strings.ToLower(username), strings.ToLower(domain))
	if ok, err := first(q, &account); !ok {
		return nil, err
	}
	return &account, nil
}

// Upsert inserts or refreshes a remote account keyed by URI
func (r *AccountRepository) Upsert(ctx context.Context, account *models.Account) (*models.Account, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uri"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "url", "inbox_url", "shared_inbox_url", "followers_url",
			"bot", "group_actor", "default_searchability", "updated_at",
		}),
	}).Create(account).Error
	if err != nil {
		return nil, err
	}
	return r.GetByURI(ctx, account.URI)
}

// RemoteFollowerInboxes returns the distinct delivery inboxes of remote followers
func (r *AccountRepository) RemoteFollowerInboxes(ctx context.Context, accountID int64) ([]string, error) {
	var inboxes []string
	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Distinct().
		Joins("JOIN follows ON follows.account_id = accounts.id").
		Where("follows.target_account_id = ? AND accounts.domain <> '' AND accounts.suspended = false", accountID).
		Pluck("COALESCE(NULLIF(accounts.shared_inbox_url, ''), accounts.inbox_url)", &inboxes).Error
	if err != nil {
		return nil, err
	}
	out := inboxes[:0]
	for _, inbox := range inboxes {
		if inbox != "" {
			out = append(out, inbox)
		}
	}
	return out, nil
}

// incrementStatuses bumps the author's status counter inside tx
func incrementStatuses(tx *gorm.DB, accountID int64, at time.Time) error {
	return tx.Model(&models.Account{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"statuses_count": gorm.Expr("statuses_count + 1"),
		"last_status_at": at,
	}).Error
}
