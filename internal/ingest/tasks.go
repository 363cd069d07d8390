package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/federation"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/resolver"
	"github.com/fedibird/fedimind/internal/tasks"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Task kinds produced by the coordinator
const (
	TaskResolveThread   = "resolve_thread"
	TaskRetryReblog     = "retry_reblog"
	TaskExpireStatus    = "expire_status"
	TaskClosePoll       = "close_poll"
	TaskFetchMedia      = "fetch_media"
	TaskFetchPreview    = "fetch_preview"
	TaskDeliverStatus   = "deliver_status"
	TaskForwardActivity = "forward_activity"
	TaskDeliver         = "deliver"
)

// ThreadPayload asks for the missing parent of a reply
type ThreadPayload struct {
	StatusID  int64  `json:"status_id"`
	ParentURI string `json:"parent_uri"`
}

// RetryPayload replays an announce whose target was not known yet
type RetryPayload struct {
	Actor string          `json:"actor"`
	Body  json.RawMessage `json:"body"`
}

// StatusPayload names one status
type StatusPayload struct {
	StatusID int64 `json:"status_id"`
}

// PollPayload names one poll
type PollPayload struct {
	PollID int64 `json:"poll_id"`
}

// MediaPayload names one attachment
type MediaPayload struct {
	MediaID int64 `json:"media_id"`
}

// PreviewPayload names the link to crawl for a status
type PreviewPayload struct {
	StatusID int64  `json:"status_id"`
	URL      string `json:"url"`
}

// ForwardPayload relays a remote reply to the followers of a local account
type ForwardPayload struct {
	AccountID  int64           `json:"account_id"`
	OriginHost string          `json:"origin_host"`
	Body       json.RawMessage `json:"body"`
}

// DeliverPayload posts one activity to one inbox
type DeliverPayload struct {
	Inbox string          `json:"inbox"`
	Body  json.RawMessage `json:"body"`
}

// Registry binds task kinds to handlers
type Registry interface {
	Register(kind string, h tasks.Handler)
}

// RegisterTasks binds every task kind the pipeline schedules, including
// the ones the resolver produces
func (c *Coordinator) RegisterTasks(r Registry) {
	r.Register(TaskResolveThread, c.handleResolveThread)
	r.Register(TaskRetryReblog, c.handleRetryReblog)
	r.Register(TaskExpireStatus, c.handleExpireStatus)
	r.Register(TaskClosePoll, c.handleClosePoll)
	r.Register(TaskFetchMedia, c.handleFetchMedia)
	r.Register(TaskFetchPreview, c.handleFetchPreview)
	r.Register(TaskDeliverStatus, c.handleDeliverStatus)
	r.Register(TaskForwardActivity, c.handleForwardActivity)
	r.Register(TaskDeliver, c.handleDeliver)
	r.Register(resolver.TaskFetchStatus, c.handleFetchStatus)
	r.Register(resolver.TaskResolveReference, c.handleResolveReference)
}

// FetchStatus fetches a remote post by uri and ingests it as if its
// author had delivered it
func (c *Coordinator) FetchStatus(ctx context.Context, uri string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.FetchStatus")
	defer span.End()

	if res, done, err := c.precheck(ctx, uri); done {
		return res, err
	}

	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	raw, err := c.fetcher.Fetch(fctx, uri)
	cancel()
	if err != nil {
		return Result{}, fetchError(err, ErrValidation, "fetch "+uri)
	}
	note, err := activity.ParseObject(raw)
	if err != nil {
		return Result{}, reject(ErrValidation, "%v", err)
	}
	if !activity.SameOrigin(note.ID, uri) {
		return Result{}, reject(ErrUntrusted, "%s answered with foreign object %s", uri, note.ID)
	}
	if !activity.IsPost(note) {
		return Result{}, reject(ErrUnsupported, "%s", note.Type)
	}
	env := activity.Envelope{
		ID:        note.ID,
		Actor:     string(note.AttributedTo),
		To:        note.To,
		Cc:        note.Cc,
		Published: note.Published,
	}
	return c.createPost(ctx, env, note, nil)
}

// taskError stops retrying work that can never succeed
func taskError(err error) error {
	if IsRejected(err) {
		return tasks.Permanent(err)
	}
	return err
}

func decode(task tasks.Task, v interface{}) error {
	if err := task.Decode(v); err != nil {
		return tasks.Permanent(fmt.Errorf("decode %s: %w", task.Kind, err))
	}
	return nil
}

func (c *Coordinator) handleFetchStatus(ctx context.Context, task tasks.Task) error {
	var p resolver.FetchPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	_, err := c.FetchStatus(ctx, p.URI)
	return taskError(err)
}

func (c *Coordinator) handleResolveReference(ctx context.Context, task tasks.Task) error {
	var p resolver.PendingPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	return c.resolver.RetryPending(ctx, p.PendingID)
}

// handleResolveThread fetches the parent; once created, the parent adopts
// its waiting replies
func (c *Coordinator) handleResolveThread(ctx context.Context, task tasks.Task) error {
	var p ThreadPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	_, err := c.FetchStatus(ctx, p.ParentURI)
	return taskError(err)
}

func (c *Coordinator) handleRetryReblog(ctx context.Context, task tasks.Task) error {
	var p RetryPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	res, err := c.ingest(ctx, Delivery{Actor: p.Actor, Body: p.Body}, true)
	c.record(ctx, res, err)
	return taskError(err)
}

func (c *Coordinator) handleExpireStatus(ctx context.Context, task tasks.Task) error {
	var p StatusPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	_, err := c.ExpireStatus(ctx, p.StatusID)
	return err
}

// ExpireStatus applies the expiry action of a status whose time has come.
// It reports whether anything changed.
func (c *Coordinator) ExpireStatus(ctx context.Context, id int64) (bool, error) {
	status, err := c.store.StatusByID(ctx, id)
	if err != nil {
		return false, err
	}
	if status == nil || status.ExpiresAt == nil || status.ExpiredAt != nil {
		return false, nil
	}
	now := c.now()
	if status.ExpiresAt.After(now) {
		return false, c.tasks.Schedule(ctx, TaskExpireStatus, StatusPayload{StatusID: id}, c.until(*status.ExpiresAt))
	}

	switch status.ExpiryAction {
	case models.ExpiryMark:
		if err := c.store.MarkExpired(ctx, id, now); err != nil {
			return false, fmt.Errorf("mark status %d expired: %w", id, err)
		}
		c.logger.Debug("Status expired", zap.Int64("status_id", id))
		return true, nil
	case models.ExpiryDelete:
		res, err := c.withLock(ctx, lockKey(status.URI), func(ctx context.Context) (Result, error) {
			return c.tombstone(ctx, status)
		})
		return err == nil && res.Outcome == Deleted, err
	default:
		return false, nil
	}
}

func (c *Coordinator) handleClosePoll(ctx context.Context, task tasks.Task) error {
	var p PollPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	poll, err := c.store.PollByID(ctx, p.PollID)
	if err != nil || poll == nil || poll.ClosedAt != nil {
		return err
	}
	now := c.now()
	if poll.ExpiresAt == nil {
		return nil
	}
	if poll.ExpiresAt.After(now) {
		return c.tasks.Schedule(ctx, TaskClosePoll, p, c.until(*poll.ExpiresAt))
	}

	closed, err := c.store.ClosePoll(ctx, poll.ID, now)
	if err != nil || !closed {
		return err
	}
	poll.ClosedAt = &now
	status, err := c.store.StatusByID(ctx, poll.StatusID)
	if err != nil || status == nil {
		return err
	}
	return c.notifier.PollClosed(ctx, status, poll)
}

func (c *Coordinator) handleFetchMedia(ctx context.Context, task tasks.Task) error {
	var p MediaPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	media, err := c.store.MediaByID(ctx, p.MediaID)
	if err != nil || media == nil || media.Fetched {
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	contentType, size, err := c.fetcher.Probe(fctx, media.RemoteURL)
	if err != nil {
		return deliveryError(err)
	}
	if contentType == "" {
		contentType = media.ContentType
	}
	return c.store.MarkMediaFetched(ctx, media.ID, contentType, size)
}

func (c *Coordinator) handleFetchPreview(ctx context.Context, task tasks.Task) error {
	var p PreviewPayload
	if err := decode(task, &p); err != nil {
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	page, err := c.fetcher.FetchPage(fctx, p.URL)
	if err != nil {
		return deliveryError(err)
	}
	title := pageTitle(page)
	if title == "" {
		return nil
	}
	return c.store.CreatePreviewCard(ctx, &models.PreviewCard{
		StatusID:  p.StatusID,
		URL:       p.URL,
		Title:     title,
		CreatedAt: c.now().UTC(),
	})
}

// handleDeliverStatus renders a local status once and fans the delivery
// out into one task per inbox
func (c *Coordinator) handleDeliverStatus(ctx context.Context, task tasks.Task) error {
	var p StatusPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	status, err := c.store.StatusByID(ctx, p.StatusID)
	if err != nil || status == nil || !status.Local {
		return err
	}
	author, err := c.store.AccountByID(ctx, status.AccountID)
	if err != nil || author == nil {
		return err
	}
	mentions, err := c.mentionedAccounts(ctx, status.ID)
	if err != nil {
		return err
	}
	tags, err := c.store.StatusTags(ctx, status.ID)
	if err != nil {
		return err
	}
	post := outboxPost{Author: author, Status: status, Mentions: mentions, Tags: tags}
	if status.ReblogOfID != nil {
		if post.Original, err = c.store.StatusByID(ctx, *status.ReblogOfID); err != nil || post.Original == nil {
			return err
		}
	}
	if status.QuoteOfID != nil {
		if post.Quote, err = c.store.StatusByID(ctx, *status.QuoteOfID); err != nil {
			return err
		}
	}

	body, err := json.Marshal(renderActivity(c.domain, post))
	if err != nil {
		return tasks.Permanent(err)
	}
	inboxes, err := c.inboxes(ctx, author, status, mentions)
	if err != nil {
		return err
	}
	return c.deliverAll(ctx, inboxes, body)
}

func (c *Coordinator) handleForwardActivity(ctx context.Context, task tasks.Task) error {
	var p ForwardPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	inboxes, err := c.store.RemoteFollowerInboxes(ctx, p.AccountID)
	if err != nil {
		return err
	}
	var out []string
	for _, inbox := range inboxes {
		if activity.Host(inbox) != p.OriginHost {
			out = append(out, inbox)
		}
	}
	return c.deliverAll(ctx, out, p.Body)
}

func (c *Coordinator) handleDeliver(ctx context.Context, task tasks.Task) error {
	var p DeliverPayload
	if err := decode(task, &p); err != nil {
		return err
	}
	return deliveryError(c.fetcher.Deliver(ctx, p.Inbox, p.Body))
}

func (c *Coordinator) deliverAll(ctx context.Context, inboxes []string, body []byte) error {
	for _, inbox := range inboxes {
		if err := c.tasks.Schedule(ctx, TaskDeliver, DeliverPayload{Inbox: inbox, Body: body}, 0); err != nil {
			return err
		}
	}
	return nil
}

// inboxes picks the remote recipients of a local status: followers for
// follower-visible posts plus every remote account it addresses
func (c *Coordinator) inboxes(ctx context.Context, author *models.Account, status *models.Status, mentions []*models.Account) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(inbox string) {
		if inbox != "" && !seen[inbox] {
			seen[inbox] = true
			out = append(out, inbox)
		}
	}

	if status.Visibility <= models.VisibilityMutual {
		followers, err := c.store.RemoteFollowerInboxes(ctx, author.ID)
		if err != nil {
			return nil, err
		}
		for _, inbox := range followers {
			add(inbox)
		}
	}
	for _, a := range mentions {
		if !a.Local() {
			add(a.InboxForDelivery())
		}
	}
	return out, nil
}

func (c *Coordinator) mentionedAccounts(ctx context.Context, statusID int64) ([]*models.Account, error) {
	mentions, err := c.store.StatusMentions(ctx, statusID)
	if err != nil {
		return nil, err
	}
	accounts := make([]*models.Account, 0, len(mentions))
	for _, m := range mentions {
		account := m.Account
		if account == nil {
			if account, err = c.store.AccountByID(ctx, m.AccountID); err != nil {
				return nil, err
			}
		}
		if account != nil {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// deliveryError marks remote failures that a retry cannot fix
func deliveryError(err error) error {
	var se *federation.StatusError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, federation.ErrNotFound):
		return tasks.Permanent(err)
	case errors.As(err, &se) && !se.Temporary():
		return tasks.Permanent(err)
	default:
		return err
	}
}
