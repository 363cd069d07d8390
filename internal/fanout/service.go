package fanout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/audience"
	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Store is the read side fan-out needs
type Store interface {
	Relations
	StatusByID(ctx context.Context, id int64) (*models.Status, error)
	AccountByID(ctx context.Context, id int64) (*models.Account, error)
	StatusTags(ctx context.Context, statusID int64) ([]*models.Tag, error)
	StatusMentions(ctx context.Context, statusID int64) ([]*models.Mention, error)
	TagFollows(ctx context.Context, tagIDs []int64) ([]models.TagFollow, error)
	DomainSubscriptions(ctx context.Context, domain string) ([]models.DomainSubscription, error)
	KeywordSubscriptions(ctx context.Context) ([]models.KeywordSubscription, error)
}

// Service loads a persisted status, classifies it and dispatches it
type Service struct {
	store       Store
	dispatcher  *Dispatcher
	localDomain string
	logger      *zap.Logger
}

// NewService creates a fan-out service
func NewService(store Store, dispatcher *Dispatcher, localDomain string) *Service {
	return &Service{
		store:       store,
		dispatcher:  dispatcher,
		localDomain: localDomain,
		logger:      logging.WithComponent("fanout"),
	}
}

// FanOut delivers statusID. A status deleted before fan-out is skipped.
// A *PartialDeliveryError means every other destination was delivered.
func (s *Service) FanOut(ctx context.Context, statusID int64) error {
	ctx, span := telemetry.StartSpan(ctx, "fanout.fan_out")
	defer span.End()

	post, in, err := s.load(ctx, statusID)
	if err != nil {
		return err
	}
	if post == nil {
		s.logger.Debug("status gone before fan-out", zap.Int64("status_id", statusID))
		return nil
	}

	set := audience.Classify(*in)
	s.logger.Debug("classified",
		zap.Int64("status_id", statusID),
		zap.Int("destinations", len(set.Destinations())),
		zap.Int("expansions", len(set.Expansions())))
	return s.dispatcher.Dispatch(ctx, post, set)
}

func (s *Service) load(ctx context.Context, statusID int64) (*Post, *audience.Input, error) {
	status, err := s.store.StatusByID(ctx, statusID)
	if err != nil {
		return nil, nil, fmt.Errorf("load status %d: %w", statusID, err)
	}
	if status == nil {
		return nil, nil, nil
	}
	author, err := s.store.AccountByID(ctx, status.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("load author %d: %w", status.AccountID, err)
	}
	if author == nil || author.Suspended {
		return nil, nil, nil
	}

	post := &Post{Status: status, Author: author}
	// content fields of a reblog come from the original
	content := status
	if status.IsReblog() {
		original, err := s.store.StatusByID(ctx, *status.ReblogOfID)
		if err != nil {
			return nil, nil, fmt.Errorf("load reblogged status: %w", err)
		}
		if original == nil {
			return nil, nil, nil
		}
		post.Original = original
		content = original
		if post.OriginalAuthor, err = s.store.AccountByID(ctx, original.AccountID); err != nil {
			return nil, nil, fmt.Errorf("load reblogged author: %w", err)
		}
	}

	tags, err := s.store.StatusTags(ctx, content.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load tags: %w", err)
	}
	post.Tags = tags

	in := &audience.Input{
		Status:   status,
		Author:   author,
		Original: post.Original,
		Tags:     tags,
	}

	mentions, err := s.store.StatusMentions(ctx, status.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load mentions: %w", err)
	}
	for _, m := range mentions {
		if m.Account != nil && m.Account.Local() {
			in.Recipients = append(in.Recipients, m.AccountID)
		}
	}

	if status.Visibility != models.VisibilityPublic || author.Silenced {
		return post, in, nil
	}
	if err := s.loadSubscriptions(ctx, in, content); err != nil {
		return nil, nil, err
	}
	return post, in, nil
}

// loadSubscriptions fills the subscriber rules that can match a public status
func (s *Service) loadSubscriptions(ctx context.Context, in *audience.Input, content *models.Status) error {
	domain := in.Author.Domain
	if in.Author.Local() {
		domain = s.localDomain
	}
	subs, err := s.store.DomainSubscriptions(ctx, domain)
	if err != nil {
		return fmt.Errorf("load domain subscriptions: %w", err)
	}
	in.DomainSubscriptions = subs

	if in.Status.IsReblog() {
		return nil
	}

	if len(in.Tags) > 0 {
		ids := make([]int64, len(in.Tags))
		for i, t := range in.Tags {
			ids[i] = t.ID
		}
		if in.TagFollows, err = s.store.TagFollows(ctx, ids); err != nil {
			return fmt.Errorf("load tag follows: %w", err)
		}
	}

	if in.KeywordSubscriptions, err = s.store.KeywordSubscriptions(ctx); err != nil {
		return fmt.Errorf("load keyword subscriptions: %w", err)
	}
	in.Text = builder.PlainText(content.SpoilerText + "\n" + content.Text)
	return nil
}
