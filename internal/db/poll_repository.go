package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedibird/fedimind/internal/models"
)

// PollRepository provides poll-related database operations
type PollRepository struct {
	*Repository
}

// NewPollRepository creates a new poll repository
func NewPollRepository(repo *Repository) *PollRepository {
	return &PollRepository{Repository: repo}
}

// GetByID retrieves a poll by ID
func (r *PollRepository) GetByID(ctx context.Context, id int64) (*models.Poll, error) {
	var poll models.Poll
	if ok, err := first(r.db.WithContext(ctx).Where("id = ?", id), &poll); !ok {
		return nil, err
	}
	return &poll, nil
}

// RecordVote stores one choice of a voter and updates the tallies. It
// reports false when the vote was already counted or a single-choice poll
// already has a vote from this account.
func (r *PollRepository) RecordVote(ctx context.Context, poll *models.Poll, accountID int64, choice int, uri string) (bool, error) {
	recorded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serialize voters of one poll so tallies and voters_count stay consistent
		var locked models.Poll
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", poll.ID).First(&locked).Error; err != nil {
			return err
		}

		var prior int64
		if err := tx.Model(&models.PollVote{}).Where("poll_id = ? AND account_id = ?", poll.ID, accountID).Count(&prior).Error; err != nil {
			return err
		}
		if prior > 0 && !locked.Multiple {
			return nil
		}

		vote := models.PollVote{PollID: poll.ID, AccountID: accountID, Choice: choice, URI: uri, CreatedAt: time.Now().UTC()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&vote)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}

		newVoter := 0
		if prior == 0 {
			newVoter = 1
		}
		// Postgres arrays are 1-based
		if err := tx.Exec("UPDATE polls SET tallies[?] = tallies[?] + 1, voters_count = voters_count + ? WHERE id = ?",
			choice+1, choice+1, newVoter, poll.ID).Error; err != nil {
			return err
		}
		recorded = true
		return nil
	})
	return recorded, err
}

// Close marks a poll closed at at; it reports false if it was already closed
func (r *PollRepository) Close(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND closed_at IS NULL", id).
		UpdateColumn("closed_at", at)
	return res.RowsAffected > 0, res.Error
}

// LocalVoters returns the distinct local accounts that voted on a poll
func (r *PollRepository) LocalVoters(ctx context.Context, pollID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.PollVote{}).
		Distinct().
		Joins("JOIN accounts ON accounts.id = poll_votes.account_id").
		Where("poll_votes.poll_id = ? AND accounts.domain = ''", pollID).
		Pluck("poll_votes.account_id", &ids).Error
	return ids, err
}

// ReferenceRepository provides reference-edge database operations
type ReferenceRepository struct {
	*Repository
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(repo *Repository) *ReferenceRepository {
	return &ReferenceRepository{Repository: repo}
}

// CreateMany inserts edges, skipping pairs that already exist, and returns
// only the edges that were new
func (r *ReferenceRepository) CreateMany(ctx context.Context, refs []models.StatusReference) ([]models.StatusReference, error) {
	var created []models.StatusReference
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ref := range refs {
			if ref.CreatedAt.IsZero() {
				ref.CreatedAt = time.Now().UTC()
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ref)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				created = append(created, ref)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreatePending records the intent to reference a not yet known target
func (r *ReferenceRepository) CreatePending(ctx context.Context, ref *models.PendingReference) error {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ref).Error; err != nil {
		return err
	}
	if ref.ID != 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("status_id = ? AND target_uri = ?", ref.StatusID, ref.TargetURI).First(ref).Error
}

// GetPending retrieves a pending reference by ID
func (r *ReferenceRepository) GetPending(ctx context.Context, id int64) (*models.PendingReference, error) {
	var ref models.PendingReference
	if ok, err := first(r.db.WithContext(ctx).Where("id = ?", id), &ref); !ok {
		return nil, err
	}
	return &ref, nil
}

// DeletePending removes a pending reference
func (r *ReferenceRepository) DeletePending(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&models.PendingReference{}, id).Error
}

// NotificationRepository provides notification-related database operations
type NotificationRepository struct {
	*Repository
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(repo *Repository) *NotificationRepository {
	return &NotificationRepository{Repository: repo}
}

// CreateMany inserts notifications, ignoring duplicates of (account, type, status)
func (r *NotificationRepository) CreateMany(ctx context.Context, notifications []*models.Notification) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&notifications).Error
}

// MediaRepository provides attachment and preview card operations
type MediaRepository struct {
	*Repository
}

// NewMediaRepository creates a new media repository
func NewMediaRepository(repo *Repository) *MediaRepository {
	return &MediaRepository{Repository: repo}
}

// GetByID retrieves an attachment by ID
func (r *MediaRepository) GetByID(ctx context.Context, id int64) (*models.MediaAttachment, error) {
	var media models.MediaAttachment
	if ok, err := first(r.db.WithContext(ctx).Where("id = ?", id), &media); !ok {
		return nil, err
	}
	return &media, nil
}

// MarkFetched records the fetched content type and size of an attachment
func (r *MediaRepository) MarkFetched(ctx context.Context, id int64, contentType string, size int64) error {
	return r.db.WithContext(ctx).Model(&models.MediaAttachment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"content_type": contentType,
		"file_size":    size,
		"fetched":      true,
	}).Error
}

// CreatePreviewCard stores the preview of a status's first link
func (r *MediaRepository) CreatePreviewCard(ctx context.Context, card *models.PreviewCard) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(card).Error
}
