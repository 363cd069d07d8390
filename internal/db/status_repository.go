package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/models"
)

// StatusRepository provides status-related database operations
type StatusRepository struct {
	*Repository
}

// NewStatusRepository creates a new status repository
func NewStatusRepository(repo *Repository) *StatusRepository {
	return &StatusRepository{Repository: repo}
}

// GetByID retrieves a live status by ID
func (r *StatusRepository) GetByID(ctx context.Context, id int64) (*models.Status, error) {
	var status models.Status
	if ok, err := first(r.db.WithContext(ctx).Where("id = ?", id), &status); !ok {
		return nil, err
	}
	return &status, nil
}

// GetByURI retrieves a live status by URI
func (r *StatusRepository) GetByURI(ctx context.Context, uri string) (*models.Status, error) {
	var status models.Status
	if ok, err := first(r.db.WithContext(ctx).Where("uri = ?", uri), &status); !ok {
		return nil, err
	}
	return &status, nil
}

// GetByURIUnscoped retrieves a status by URI including tombstones
func (r *StatusRepository) GetByURIUnscoped(ctx context.Context, uri string) (*models.Status, error) {
	var status models.Status
	if ok, err := first(r.db.WithContext(ctx).Unscoped().Where("uri = ?", uri), &status); !ok {
		return nil, err
	}
	return &status, nil
}

// Create persists a status with its conversation, media, poll, tags and
// mentions in one transaction and bumps the related counters. A URI that
// already exists yields ErrDuplicateURI.
func (r *StatusRepository) Create(ctx context.Context, b *builder.Bundle) error {
	s := b.Status
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.ConversationID == nil {
			id, err := conversationID(tx, b.ConversationURI, s.CreatedAt)
			if err != nil {
				return err
			}
			s.ConversationID = &id
		}

		if err := tx.Create(s).Error; err != nil {
			if isUniqueViolation(err, statusURIIndex) {
				return ErrDuplicateURI
			}
			return err
		}

		if len(b.Media) > 0 {
			if err := tx.Create(&b.Media).Error; err != nil {
				return err
			}
		}
		if b.Poll != nil {
			if err := tx.Create(b.Poll).Error; err != nil {
				return err
			}
		}

		for _, tag := range b.Tags {
			if err := findOrCreateTag(tx, tag, s.CreatedAt); err != nil {
				return err
			}
			link := models.StatusTag{StatusID: s.ID, TagID: tag.ID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return err
			}
		}

		if len(b.Mentions) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&b.Mentions).Error; err != nil {
				return err
			}
		}

		if s.InReplyToID != nil {
			if err := bump(tx, *s.InReplyToID, "replies_count"); err != nil {
				return err
			}
		}
		if s.ReblogOfID != nil {
			if err := bump(tx, *s.ReblogOfID, "reblogs_count"); err != nil {
				return err
			}
		}
		return incrementStatuses(tx, s.AccountID, s.CreatedAt)
	})
}

// statusURIIndex is the unique index on statuses.uri
const statusURIIndex = "index_statuses_on_uri"

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique violation of constraint
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

func conversationID(tx *gorm.DB, uri string, at time.Time) (int64, error) {
	if uri == "" {
		c := models.Conversation{CreatedAt: at}
		if err := tx.Create(&c).Error; err != nil {
			return 0, err
		}
		return c.ID, nil
	}
	c := models.Conversation{URI: &uri, CreatedAt: at}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&c).Error; err != nil {
		return 0, err
	}
	if c.ID != 0 {
		return c.ID, nil
	}
	if err := tx.Where("uri = ?", uri).First(&c).Error; err != nil {
		return 0, err
	}
	return c.ID, nil
}

func findOrCreateTag(tx *gorm.DB, tag *models.Tag, at time.Time) error {
	tag.CreatedAt = at
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(tag).Error; err != nil {
		return err
	}
	if tag.ID != 0 {
		return nil
	}
	return tx.Where("name = ?", tag.Name).First(tag).Error
}

func bump(tx *gorm.DB, statusID int64, column string) error {
	return tx.Model(&models.Status{}).Where("id = ?", statusID).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
}

// SoftDelete tombstones a status and reports whether a live row was found
func (r *StatusRepository) SoftDelete(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Status{}, id)
	return res.RowsAffected > 0, res.Error
}

// MarkExpired records that the status expired at at
func (r *StatusRepository) MarkExpired(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Status{}).
		Where("id = ? AND expired_at IS NULL", id).
		UpdateColumn("expired_at", at).Error
}

// SetQuote records quoteID as the quote target of a status that has none
func (r *StatusRepository) SetQuote(ctx context.Context, id, quoteID int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Status{}).
		Where("id = ? AND quote_of_id IS NULL", id).
		UpdateColumn("quote_of_id", quoteID)
	return res.RowsAffected > 0, res.Error
}

// ExpiringBefore returns live statuses whose expiration passed and has not been applied
func (r *StatusRepository) ExpiringBefore(ctx context.Context, t time.Time, limit int) ([]*models.Status, error) {
	var statuses []*models.Status
	err := r.db.WithContext(ctx).
		Where("expires_at <= ? AND expired_at IS NULL AND expiry_action <> ?", t, models.ExpiryNone).
		Order("expires_at ASC").
		Limit(limit).
		Find(&statuses).Error
	return statuses, err
}

// AttachChildren links replies that only knew the parent by URI
func (r *StatusRepository) AttachChildren(ctx context.Context, parent *models.Status) (int64, error) {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Status{}).
			Where("in_reply_to_uri = ? AND in_reply_to_id IS NULL", parent.URI).
			Updates(map[string]interface{}{
				"in_reply_to_id":         parent.ID,
				"in_reply_to_account_id": parent.AccountID,
				"conversation_id":        parent.ConversationID,
			})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected == 0 {
			return nil
		}
		return tx.Model(&models.Status{}).Where("id = ?", parent.ID).
			UpdateColumn("replies_count", gorm.Expr("replies_count + ?", affected)).Error
	})
	return affected, err
}

// Tags returns the tags attached to a status
func (r *StatusRepository) Tags(ctx context.Context, statusID int64) ([]*models.Tag, error) {
	var tags []*models.Tag
	err := r.db.WithContext(ctx).
		Joins("JOIN statuses_tags ON statuses_tags.tag_id = tags.id").
		Where("statuses_tags.status_id = ?", statusID).
		Order("tags.id").
		Find(&tags).Error
	return tags, err
}

// Mentions returns the mentions of a status with their accounts loaded
func (r *StatusRepository) Mentions(ctx context.Context, statusID int64) ([]*models.Mention, error) {
	var mentions []*models.Mention
	if err := r.db.WithContext(ctx).Where("status_id = ?", statusID).Order("id").Find(&mentions).Error; err != nil {
		return nil, err
	}
	if len(mentions) == 0 {
		return mentions, nil
	}
	ids := make([]int64, len(mentions))
	for i, m := range mentions {
		ids[i] = m.AccountID
	}
	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	for _, m := range mentions {
		m.Account = byID[m.AccountID]
	}
	return mentions, nil
}
