package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/models"
)

// Store aggregates the repositories behind the method sets consumed by
// the resolver, ingest, fan-out and notification packages
type Store struct {
	Accounts      *AccountRepository
	Statuses      *StatusRepository
	Polls         *PollRepository
	References    *ReferenceRepository
	Notifications *NotificationRepository
	Media         *MediaRepository
	Relations     *RelationRepository
}

// NewStore creates a store over db
func NewStore(db *gorm.DB) *Store {
	repo := NewRepository(db)
	return &Store{
		Accounts:      NewAccountRepository(repo),
		Statuses:      NewStatusRepository(repo),
		Polls:         NewPollRepository(repo),
		References:    NewReferenceRepository(repo),
		Notifications: NewNotificationRepository(repo),
		Media:         NewMediaRepository(repo),
		Relations:     NewRelationRepository(repo),
	}
}

func (s *Store) StatusByID(ctx context.Context, id int64) (*models.Status, error) {
	return s.Statuses.GetByID(ctx, id)
}

func (s *Store) StatusByURI(ctx context.Context, uri string) (*models.Status, error) {
	return s.Statuses.GetByURI(ctx, uri)
}

func (s *Store) StatusByURIUnscoped(ctx context.Context, uri string) (*models.Status, error) {
	return s.Statuses.GetByURIUnscoped(ctx, uri)
}

func (s *Store) CreateStatus(ctx context.Context, b *builder.Bundle) error {
	return s.Statuses.Create(ctx, b)
}

func (s *Store) SoftDeleteStatus(ctx context.Context, id int64) (bool, error) {
	return s.Statuses.SoftDelete(ctx, id)
}

func (s *Store) MarkExpired(ctx context.Context, id int64, at time.Time) error {
	return s.Statuses.MarkExpired(ctx, id, at)
}

func (s *Store) ExpiringBefore(ctx context.Context, t time.Time, limit int) ([]*models.Status, error) {
	return s.Statuses.ExpiringBefore(ctx, t, limit)
}

func (s *Store) SetQuote(ctx context.Context, id, quoteID int64) (bool, error) {
	return s.Statuses.SetQuote(ctx, id, quoteID)
}

func (s *Store) AttachChildren(ctx context.Context, parent *models.Status) (int64, error) {
	return s.Statuses.AttachChildren(ctx, parent)
}

func (s *Store) StatusTags(ctx context.Context, statusID int64) ([]*models.Tag, error) {
	return s.Statuses.Tags(ctx, statusID)
}

func (s *Store) StatusMentions(ctx context.Context, statusID int64) ([]*models.Mention, error) {
	return s.Statuses.Mentions(ctx, statusID)
}

func (s *Store) AccountByID(ctx context.Context, id int64) (*models.Account, error) {
	return s.Accounts.GetByID(ctx, id)
}

func (s *Store) AccountByURI(ctx context.Context, uri string) (*models.Account, error) {
	return s.Accounts.GetByURI(ctx, uri)
}

func (s *Store) LocalAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.Accounts.GetByAcct(ctx, username, "")
}

func (s *Store) AccountByAcct(ctx context.Context, username, domain string) (*models.Account, error) {
	return s.Accounts.GetByAcct(ctx, username, domain)
}

func (s *Store) UpsertAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	return s.Accounts.Upsert(ctx, account)
}

func (s *Store) RemoteFollowerInboxes(ctx context.Context, accountID int64) ([]string, error) {
	return s.Accounts.RemoteFollowerInboxes(ctx, accountID)
}

func (s *Store) PollByID(ctx context.Context, id int64) (*models.Poll, error) {
	return s.Polls.GetByID(ctx, id)
}

func (s *Store) RecordVote(ctx context.Context, poll *models.Poll, accountID int64, choice int, uri string) (bool, error) {
	return s.Polls.RecordVote(ctx, poll, accountID, choice, uri)
}

func (s *Store) ClosePoll(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.Polls.Close(ctx, id, at)
}

func (s *Store) LocalPollVoters(ctx context.Context, pollID int64) ([]int64, error) {
	return s.Polls.LocalVoters(ctx, pollID)
}

func (s *Store) CreateReferences(ctx context.Context, refs []models.StatusReference) ([]models.StatusReference, error) {
	return s.References.CreateMany(ctx, refs)
}

func (s *Store) CreatePendingReference(ctx context.Context, ref *models.PendingReference) error {
	return s.References.CreatePending(ctx, ref)
}

func (s *Store) PendingReferenceByID(ctx context.Context, id int64) (*models.PendingReference, error) {
	return s.References.GetPending(ctx, id)
}

func (s *Store) DeletePendingReference(ctx context.Context, id int64) error {
	return s.References.DeletePending(ctx, id)
}

func (s *Store) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	return s.Notifications.CreateMany(ctx, notifications)
}

func (s *Store) MediaByID(ctx context.Context, id int64) (*models.MediaAttachment, error) {
	return s.Media.GetByID(ctx, id)
}

func (s *Store) MarkMediaFetched(ctx context.Context, id int64, contentType string, size int64) error {
	return s.Media.MarkFetched(ctx, id, contentType, size)
}

func (s *Store) CreatePreviewCard(ctx context.Context, card *models.PreviewCard) error {
	return s.Media.CreatePreviewCard(ctx, card)
}

func (s *Store) FollowerBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(ids []int64) error) error {
	return s.Relations.FollowerBatches(ctx, accountID, mutual, size, fn)
}

func (s *Store) ListBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(listIDs, owners []int64) error) error {
	return s.Relations.ListBatches(ctx, accountID, mutual, size, fn)
}

func (s *Store) ListOwner(ctx context.Context, listID int64) (int64, error) {
	return s.Relations.ListOwner(ctx, listID)
}

func (s *Store) TagFollows(ctx context.Context, tagIDs []int64) ([]models.TagFollow, error) {
	return s.Relations.TagFollows(ctx, tagIDs)
}

func (s *Store) DomainSubscriptions(ctx context.Context, domain string) ([]models.DomainSubscription, error) {
	return s.Relations.DomainSubscriptions(ctx, domain)
}

func (s *Store) KeywordSubscriptions(ctx context.Context) ([]models.KeywordSubscription, error) {
	return s.Relations.KeywordSubscriptions(ctx)
}
