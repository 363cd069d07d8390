package builder

import (
	"context"
	"errors"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// ErrTargetUnresolved is returned when a reblogged status is not known yet
var ErrTargetUnresolved = errors.New("reblog target not resolved")

// PrepareReblog builds a content-free draft that re-shares the announced status
func (b *Builder) PrepareReblog(ctx context.Context, author *models.Account, announce activity.CreateReblog) (*Draft, error) {
	ctx, span := telemetry.StartSpan(ctx, "builder.PrepareReblog")
	defer span.End()

	target, err := b.resolver.ResolveStatus(ctx, announce.Object)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrTargetUnresolved
	}
	if target.ReblogOfID != nil {
		original, err := b.store.StatusByID(ctx, *target.ReblogOfID)
		if err != nil {
			return nil, err
		}
		if original == nil {
			return nil, ErrTargetUnresolved
		}
		target = original
	}
	if target.Tombstoned() {
		return nil, invalid("reblog target %d is deleted", target.ID)
	}
	if !rebloggable(target, author) {
		return nil, invalid("status %d is %s and cannot be reblogged", target.ID, target.Visibility)
	}

	visibility := models.VisibilityPrivate
	switch {
	case announce.To.Contains(activity.IsPublic):
		visibility = models.VisibilityPublic
	case announce.Cc.Contains(activity.IsPublic):
		visibility = models.VisibilityUnlisted
	}
	visibility = restrictVisibility(visibility, author)

	d := &Draft{
		URI:          announce.ID,
		Author:       author,
		ReblogOf:     target,
		Visibility:   visibility,
		CreatedAt:    b.now().UTC(),
		ExpiryAction: models.ExpiryNone,
	}
	if announce.Published != nil && !announce.Published.After(d.CreatedAt) {
		d.CreatedAt = announce.Published.UTC()
	}
	d.Searchability = models.MostRestrictive(target.Searchability, visibility)

	if err := validate(d); err != nil {
		return nil, err
	}
	return d, nil
}
