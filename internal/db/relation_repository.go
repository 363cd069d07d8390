package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fedibird/fedimind/internal/models"
)

// RelationRepository reads follows, lists and subscriptions for fan-out
type RelationRepository struct {
	*Repository
}

// NewRelationRepository creates a new relation repository
func NewRelationRepository(repo *Repository) *RelationRepository {
	return &RelationRepository{Repository: repo}
}

// mutualFilter keeps rows whose account the author follows back
const mutualFilter = "EXISTS (SELECT 1 FROM follows back WHERE back.account_id = ? AND back.target_account_id = %s)"

// FollowerBatches calls fn with the ids of local followers of accountID,
// at most size at a time. With mutual set only followers the account
// follows back are included.
func (r *RelationRepository) FollowerBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(ids []int64) error) error {
	q := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Select("follows.*").
		Joins("JOIN accounts ON accounts.id = follows.account_id AND accounts.domain = '' AND accounts.suspended = false").
		Where("follows.target_account_id = ?", accountID)
	if mutual {
		q = q.Where(fmt.Sprintf(mutualFilter, "follows.account_id"), accountID)
	}

	var rows []models.Follow
	return q.FindInBatches(&rows, size, func(tx *gorm.DB, batch int) error {
		ids := make([]int64, len(rows))
		for i, f := range rows {
			ids[i] = f.AccountID
		}
		return fn(ids)
	}).Error
}

// ListOwner returns the account owning listID, or 0 when there is no such list
func (r *RelationRepository) ListOwner(ctx context.Context, listID int64) (int64, error) {
	var list models.List
	err := r.db.WithContext(ctx).Select("id", "account_id").First(&list, listID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return list.AccountID, nil
}

// ListBatches calls fn with the ids of lists that contain accountID, at
// most size at a time. With mutual set only lists owned by accounts the
// author follows are included.
func (r *RelationRepository) ListBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(listIDs []int64, owners []int64) error) error {
	type row struct {
		ID        int64
		ListID    int64
		AccountID int64
		OwnerID   int64
	}
	q := r.db.WithContext(ctx).
		Model(&models.ListAccount{}).
		Select("list_accounts.id, list_accounts.list_id, list_accounts.account_id, lists.account_id AS owner_id").
		Joins("JOIN lists ON lists.id = list_accounts.list_id").
		Where("list_accounts.account_id = ?", accountID)
	if mutual {
		q = q.Where(fmt.Sprintf(mutualFilter, "lists.account_id"), accountID)
	}

	var rows []row
	return q.FindInBatches(&rows, size, func(tx *gorm.DB, batch int) error {
		listIDs := make([]int64, len(rows))
		owners := make([]int64, len(rows))
		for i, l := range rows {
			listIDs[i], owners[i] = l.ListID, l.OwnerID
		}
		return fn(listIDs, owners)
	}).Error
}

// TagFollows returns the follow subscriptions of the given tags
func (r *RelationRepository) TagFollows(ctx context.Context, tagIDs []int64) ([]models.TagFollow, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	var follows []models.TagFollow
	err := r.db.WithContext(ctx).Where("tag_id IN ?", tagIDs).Find(&follows).Error
	return follows, err
}

// DomainSubscriptions returns subscriptions to statuses from domain
func (r *RelationRepository) DomainSubscriptions(ctx context.Context, domain string) ([]models.DomainSubscription, error) {
	var subs []models.DomainSubscription
	err := r.db.WithContext(ctx).Where("lower(domain) = lower(?)", domain).Find(&subs).Error
	return subs, err
}

// KeywordSubscriptions returns every enabled keyword subscription
func (r *RelationRepository) KeywordSubscriptions(ctx context.Context) ([]models.KeywordSubscription, error) {
	var subs []models.KeywordSubscription
	err := r.db.WithContext(ctx).Where("disabled = false").Find(&subs).Error
	return subs, err
}
