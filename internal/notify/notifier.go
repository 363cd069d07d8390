// Package notify records notifications for local accounts.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/logging"
)

// Store persists notifications. Rows that already exist for the same
// (account, type, status) are skipped.
type Store interface {
	CreateNotifications(ctx context.Context, notifications []*models.Notification) error
	AccountByID(ctx context.Context, id int64) (*models.Account, error)
	LocalPollVoters(ctx context.Context, pollID int64) ([]int64, error)
}

// Notifier handles notification creation
type Notifier struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a new notifier
func New(store Store) *Notifier {
	return &Notifier{
		store:  store,
		logger: logging.WithComponent("notify"),
		now:    time.Now,
	}
}

// Mention notifies every local account mentioned by status, except
// silent mentions and the author
func (n *Notifier) Mention(ctx context.Context, status *models.Status, mentions []*models.Mention) error {
	var out []*models.Notification
	for _, m := range mentions {
		if m.Silent || m.AccountID == status.AccountID {
			continue
		}
		local, err := n.isLocal(ctx, m.Account, m.AccountID)
		if err != nil {
			return err
		}
		if local {
			out = append(out, n.notification(models.NotifyTypeMention, m.AccountID, status.AccountID, status.ID))
		}
	}
	return n.write(ctx, out)
}

// Reference notifies the local author of target that source refers to it
func (n *Notifier) Reference(ctx context.Context, source, target *models.Status, quote bool) error {
	if !target.Local || source.AccountID == target.AccountID {
		return nil
	}
	typeID := models.NotifyTypeReference
	if quote {
		typeID = models.NotifyTypeQuote
	}
	return n.write(ctx, []*models.Notification{n.notification(typeID, target.AccountID, source.AccountID, source.ID)})
}

// Reblog notifies the local author of target that reblog re-shared it
func (n *Notifier) Reblog(ctx context.Context, reblog, target *models.Status) error {
	if !target.Local || reblog.AccountID == target.AccountID {
		return nil
	}
	return n.write(ctx, []*models.Notification{n.notification(models.NotifyTypeReblog, target.AccountID, reblog.AccountID, target.ID)})
}

// PollClosed notifies the local author and local voters of a closed poll
func (n *Notifier) PollClosed(ctx context.Context, status *models.Status, poll *models.Poll) error {
	voters, err := n.store.LocalPollVoters(ctx, poll.ID)
	if err != nil {
		return err
	}
	var out []*models.Notification
	if status.Local {
		out = append(out, n.notification(models.NotifyTypePollClosed, status.AccountID, status.AccountID, status.ID))
	}
	for _, id := range voters {
		if id != status.AccountID {
			out = append(out, n.notification(models.NotifyTypePollClosed, id, status.AccountID, status.ID))
		}
	}
	return n.write(ctx, out)
}

func (n *Notifier) isLocal(ctx context.Context, account *models.Account, id int64) (bool, error) {
	if account == nil {
		var err error
		if account, err = n.store.AccountByID(ctx, id); err != nil {
			return false, err
		}
	}
	return account != nil && account.Local() && !account.Suspended, nil
}

func (n *Notifier) notification(typeID int16, to, from, statusID int64) *models.Notification {
	return &models.Notification{
		AccountID:     to,
		FromAccountID: from,
		Type:          typeID,
		StatusID:      statusID,
		CreatedAt:     n.now().UTC(),
	}
}

func (n *Notifier) write(ctx context.Context, notifications []*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	for _, notif := range notifications {
		n.logger.Debug("[NOTIFY]",
			zap.String("type", TypeName(notif.Type)),
			zap.Int64("account_id", notif.AccountID),
			zap.Int64("from_account_id", notif.FromAccountID),
			zap.Int64("status_id", notif.StatusID))
	}
	return n.store.CreateNotifications(ctx, notifications)
}

// TypeName returns the wire name of a notification type
func TypeName(typeID int16) string {
	names := map[int16]string{
		models.NotifyTypeMention:    "mention",
		models.NotifyTypeReference:  "status_reference",
		models.NotifyTypeQuote:      "quote",
		models.NotifyTypePollClosed: "poll",
		models.NotifyTypeReblog:     "reblog",
	}
	if name, ok := names[typeID]; ok {
		return name
	}
	return "unknown"
}
