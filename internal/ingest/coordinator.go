// Package ingest turns inbound create activities and local publish
// requests into exactly one persisted status each, then hands the status
// to fan-out.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/db"
	"github.com/fedibird/fedimind/internal/federation"
	"github.com/fedibird/fedimind/internal/lock"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/search"
	"github.com/fedibird/fedimind/internal/tasks"
	"github.com/fedibird/fedimind/pkg/config"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Store is the persistence the coordinator reads and writes
type Store interface {
	StatusByID(ctx context.Context, id int64) (*models.Status, error)
	StatusByURIUnscoped(ctx context.Context, uri string) (*models.Status, error)
	CreateStatus(ctx context.Context, b *builder.Bundle) error
	SoftDeleteStatus(ctx context.Context, id int64) (bool, error)
	MarkExpired(ctx context.Context, id int64, at time.Time) error
	ExpiringBefore(ctx context.Context, t time.Time, limit int) ([]*models.Status, error)
	AttachChildren(ctx context.Context, parent *models.Status) (int64, error)
	StatusTags(ctx context.Context, statusID int64) ([]*models.Tag, error)
	StatusMentions(ctx context.Context, statusID int64) ([]*models.Mention, error)
	AccountByID(ctx context.Context, id int64) (*models.Account, error)
	RemoteFollowerInboxes(ctx context.Context, accountID int64) ([]string, error)
	PollByID(ctx context.Context, id int64) (*models.Poll, error)
	RecordVote(ctx context.Context, poll *models.Poll, accountID int64, choice int, uri string) (bool, error)
	ClosePoll(ctx context.Context, id int64, at time.Time) (bool, error)
	MediaByID(ctx context.Context, id int64) (*models.MediaAttachment, error)
	MarkMediaFetched(ctx context.Context, id int64, contentType string, size int64) error
	CreatePreviewCard(ctx context.Context, card *models.PreviewCard) error
}

// Resolver is the reference resolution the coordinator needs
type Resolver interface {
	ResolveAccount(ctx context.Context, uri string) (*models.Account, error)
	LookupStatus(ctx context.Context, url string) (*models.Status, error)
	LinkReferences(ctx context.Context, source *models.Status, urls []string, quote *models.Status, quoteURI string) error
	RetryPending(ctx context.Context, pendingID int64) error
}

// Fetcher talks to remote servers
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	FetchPage(ctx context.Context, url string) ([]byte, error)
	Probe(ctx context.Context, url string) (string, int64, error)
	Deliver(ctx context.Context, inbox string, body []byte) error
}

// Cache holds delete markers and idempotency records
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// FanOut delivers a persisted status
type FanOut interface {
	FanOut(ctx context.Context, statusID int64) error
}

// Notifier creates notifications for local accounts
type Notifier interface {
	Mention(ctx context.Context, status *models.Status, mentions []*models.Mention) error
	Reblog(ctx context.Context, reblog, target *models.Status) error
	PollClosed(ctx context.Context, status *models.Status, poll *models.Poll) error
}

// Deps are the collaborators of a Coordinator
type Deps struct {
	Store    Store
	Builder  *builder.Builder
	Resolver Resolver
	Locker   lock.Locker
	Cache    Cache
	IDs      builder.IDSource
	FanOut   FanOut
	Notifier Notifier
	Tasks    tasks.Scheduler
	Fetcher  Fetcher
	Search   search.Sink
	Metrics  *telemetry.Metrics
}

// Delivery is one inbound activity
type Delivery struct {
	// Actor delivered the activity; empty for documents this server fetched itself
	Actor string
	Body  []byte
}

// Coordinator orchestrates lock, build, persistence and side effects
type Coordinator struct {
	store    Store
	builder  *builder.Builder
	resolver Resolver
	locker   lock.Locker
	cache    Cache
	ids      builder.IDSource
	fanout   FanOut
	notifier Notifier
	tasks    tasks.Scheduler
	fetcher  Fetcher
	search   search.Sink
	metrics  *telemetry.Metrics
	cfg      config.IngestConfig
	domain   string
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a coordinator for the instance at domain
func New(deps Deps, cfg *config.IngestConfig, domain string) *Coordinator {
	if deps.Search == nil {
		deps.Search = search.NopSink{}
	}
	return &Coordinator{
		store:    deps.Store,
		builder:  deps.Builder,
		resolver: deps.Resolver,
		locker:   deps.Locker,
		cache:    deps.Cache,
		ids:      deps.IDs,
		fanout:   deps.FanOut,
		notifier: deps.Notifier,
		tasks:    deps.Tasks,
		fetcher:  deps.Fetcher,
		search:   deps.Search,
		metrics:  deps.Metrics,
		cfg:      *cfg,
		domain:   domain,
		now:      time.Now,
		logger:   logging.WithComponent("ingest"),
	}
}

// Ingest applies one inbound activity. A nil error comes with Created,
// AlreadyProcessed, Deferred or Deleted; errors wrap ErrRejected or
// ErrTransient, or are persistence failures.
func (c *Coordinator) Ingest(ctx context.Context, dl Delivery) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.Ingest")
	defer span.End()

	res, err := c.ingest(ctx, dl, false)
	c.record(ctx, res, err)
	return res, err
}

func (c *Coordinator) ingest(ctx context.Context, dl Delivery, retry bool) (Result, error) {
	msg, err := activity.Parse(dl.Body)
	if err != nil {
		return Result{}, reject(ErrValidation, "%v", err)
	}
	if dl.Actor != "" && msg.ActorURI() != dl.Actor {
		return Result{}, reject(ErrUntrusted, "actor %s delivered by %s", msg.ActorURI(), dl.Actor)
	}

	switch m := msg.(type) {
	case activity.CreatePost:
		return c.createPost(ctx, m.Envelope, m.Note, dl.Body)
	case activity.CreateVote:
		return c.createVote(ctx, m, dl.Body)
	case activity.CreateReblog:
		return c.createReblog(ctx, m, dl, retry)
	case activity.Delete:
		return c.delete(ctx, m.Actor, m.Object)
	case activity.Unsupported:
		return Result{}, reject(ErrUnsupported, "%s", m.Type)
	default:
		return Result{}, reject(ErrUnsupported, "%T", msg)
	}
}

func (c *Coordinator) record(ctx context.Context, res Result, err error) {
	outcome := res.Outcome.String()
	switch {
	case err == nil:
	case IsRejected(err):
		outcome = "rejected"
	case IsTransient(err):
		outcome = "transient"
	default:
		outcome = "error"
	}
	c.metrics.IngestOutcome(ctx, outcome)
	if err != nil && !IsRejected(err) {
		c.logger.Warn("Ingestion failed", zap.String("outcome", outcome), zap.Error(err))
	}
}

// checkOrigin refuses notes that do not belong to the delivering actor
func checkOrigin(actor string, note *activity.Object) error {
	if !activity.SameOrigin(note.ID, actor) {
		return reject(ErrUntrusted, "object %s is not hosted with actor %s", note.ID, actor)
	}
	if note.AttributedTo != "" && string(note.AttributedTo) != actor {
		return reject(ErrUntrusted, "object %s is attributed to %s, not %s", note.ID, note.AttributedTo, actor)
	}
	return nil
}

func (c *Coordinator) createPost(ctx context.Context, env activity.Envelope, note *activity.Object, raw []byte) (Result, error) {
	if err := checkOrigin(env.Actor, note); err != nil {
		return Result{}, err
	}
	if res, done, err := c.precheck(ctx, note.ID); done {
		return res, err
	}
	author, err := c.author(ctx, env.Actor)
	if err != nil {
		return Result{}, err
	}

	draft, err := c.builder.Prepare(ctx, note, author, env)
	if err != nil {
		return Result{}, buildError(err)
	}
	return c.commit(ctx, draft, raw)
}

// createVote records a poll answer when the note names an option of an
// open local poll, and is treated as a post otherwise
func (c *Coordinator) createVote(ctx context.Context, m activity.CreateVote, raw []byte) (Result, error) {
	if err := checkOrigin(m.Actor, m.Note); err != nil {
		return Result{}, err
	}
	if res, done, err := c.precheck(ctx, m.Note.ID); done {
		return res, err
	}
	poll, parent, err := c.votablePoll(ctx, m.Note)
	if err != nil {
		return Result{}, err
	}
	if poll == nil {
		return c.createPost(ctx, m.Envelope, m.Note, raw)
	}
	voter, err := c.author(ctx, m.Actor)
	if err != nil {
		return Result{}, err
	}
	choice := poll.OptionIndex(m.Note.Name)

	return c.withLock(ctx, lockKey(m.Note.ID), func(ctx context.Context) (Result, error) {
		if res, done, err := c.recheck(ctx, m.Note.ID); done {
			return res, err
		}
		recorded, err := c.store.RecordVote(ctx, poll, voter.ID, choice, m.Note.ID)
		if err != nil {
			return Result{}, fmt.Errorf("record vote on poll %d: %w", poll.ID, err)
		}
		c.logger.Debug("Poll vote",
			zap.Int64("poll_id", poll.ID),
			zap.Int64("account_id", voter.ID),
			zap.Int("choice", choice),
			zap.Bool("counted", recorded))
		return Result{Outcome: AlreadyProcessed, Status: parent}, nil
	})
}

func (c *Coordinator) votablePoll(ctx context.Context, note *activity.Object) (*models.Poll, *models.Status, error) {
	parent, err := c.resolver.LookupStatus(ctx, string(note.InReplyTo))
	if err != nil || parent == nil || !parent.Local || parent.PollID == nil {
		return nil, nil, nil
	}
	poll, err := c.store.PollByID(ctx, *parent.PollID)
	if err != nil {
		return nil, nil, fmt.Errorf("load poll %d: %w", *parent.PollID, err)
	}
	if poll == nil || !poll.Open(c.now()) || poll.OptionIndex(note.Name) < 0 {
		return nil, nil, nil
	}
	return poll, parent, nil
}

// reblogRetryDelay leaves the scheduled fetch of the target time to land
const reblogRetryDelay = 30 * time.Second

func (c *Coordinator) createReblog(ctx context.Context, m activity.CreateReblog, dl Delivery, retry bool) (Result, error) {
	if !activity.SameOrigin(m.ID, m.Actor) {
		return Result{}, reject(ErrUntrusted, "announce %s is not hosted with actor %s", m.ID, m.Actor)
	}
	if res, done, err := c.precheck(ctx, m.ID); done {
		return res, err
	}
	author, err := c.author(ctx, m.Actor)
	if err != nil {
		return Result{}, err
	}

	draft, err := c.builder.PrepareReblog(ctx, author, m)
	switch {
	case errors.Is(err, builder.ErrTargetUnresolved) && retry:
		return Result{}, transient(err)
	case errors.Is(err, builder.ErrTargetUnresolved):
		payload := RetryPayload{Actor: dl.Actor, Body: dl.Body}
		if err := c.tasks.Schedule(ctx, TaskRetryReblog, payload, reblogRetryDelay); err != nil {
			return Result{}, transient(err)
		}
		return Result{Outcome: Deferred}, nil
	case err != nil:
		return Result{}, buildError(err)
	}
	return c.commit(ctx, draft, dl.Body)
}

// precheck short-circuits activities already applied, without the lock
func (c *Coordinator) precheck(ctx context.Context, uri string) (Result, bool, error) {
	existing, err := c.store.StatusByURIUnscoped(ctx, uri)
	switch {
	case err != nil:
		return Result{}, true, fmt.Errorf("look up %s: %w", uri, err)
	case existing == nil:
		return Result{}, false, nil
	case existing.Tombstoned():
		return Result{}, true, reject(ErrTombstoned, "%s", uri)
	default:
		return Result{Outcome: AlreadyProcessed, Status: existing}, true, nil
	}
}

// recheck repeats precheck under the lock and also honours delete markers
func (c *Coordinator) recheck(ctx context.Context, uri string) (Result, bool, error) {
	if res, done, err := c.precheck(ctx, uri); done {
		return res, done, err
	}
	marked, err := c.cache.Exists(ctx, deleteMarkerKey(uri))
	if err != nil {
		return Result{}, true, transient(fmt.Errorf("check delete marker: %w", err))
	}
	if marked {
		c.logger.Debug("Delete arrived before create", zap.String("uri", uri))
		return Result{Outcome: AlreadyProcessed}, true, nil
	}
	return Result{}, false, nil
}

func (c *Coordinator) author(ctx context.Context, uri string) (*models.Account, error) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	account, err := c.resolver.ResolveAccount(fctx, uri)
	if err != nil {
		return nil, fetchError(err, ErrUntrusted, "resolve actor "+uri)
	}
	if account == nil {
		return nil, reject(ErrUntrusted, "unknown actor %s", uri)
	}
	if account.Suspended {
		return nil, reject(ErrUntrusted, "actor %s is suspended", uri)
	}
	return account, nil
}

// commit persists draft under the dedup lock, then runs side effects
func (c *Coordinator) commit(ctx context.Context, draft *builder.Draft, raw []byte) (Result, error) {
	var bundle *builder.Bundle
	res, err := c.withLock(ctx, lockKey(draft.URI), func(ctx context.Context) (Result, error) {
		if res, done, err := c.recheck(ctx, draft.URI); done {
			return res, err
		}
		bundle = c.builder.Build(draft, c.ids)
		return c.persist(ctx, bundle)
	})
	if err != nil || res.Outcome != Created {
		return res, err
	}
	c.afterCreate(ctx, draft, bundle, raw)
	return res, nil
}

func (c *Coordinator) persist(ctx context.Context, bundle *builder.Bundle) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.persist")
	defer span.End()

	err := c.store.CreateStatus(ctx, bundle)
	switch {
	case errors.Is(err, db.ErrDuplicateURI):
		return Result{Outcome: AlreadyProcessed}, nil
	case err != nil:
		return Result{}, fmt.Errorf("persist status %s: %w", bundle.Status.URI, err)
	}
	return Result{Outcome: Created, Status: bundle.Status}, nil
}

// withLock runs fn holding the lock on key. Failing to get the lock in
// time is transient.
func (c *Coordinator) withLock(ctx context.Context, key string, fn func(ctx context.Context) (Result, error)) (Result, error) {
	lease, err := c.locker.Acquire(ctx, key, c.cfg.LockTTL, c.cfg.LockWait)
	if err != nil {
		return Result{}, transient(fmt.Errorf("lock %s: %w", key, err))
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			c.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func lockKey(uri string) string {
	return "ingest:" + uri
}

func deleteMarkerKey(uri string) string {
	return "deleted:" + uri
}

// buildError classifies a Prepare failure
func buildError(err error) error {
	if errors.Is(err, builder.ErrInvalid) {
		return reject(ErrValidation, "%v", err)
	}
	return fetchError(err, ErrValidation, "prepare status")
}

// fetchError classifies a remote failure: timeouts and server errors are
// transient, missing or malformed documents are rejected with reason
func fetchError(err error, reason error, what string) error {
	var se *federation.StatusError
	switch {
	case errors.Is(err, federation.ErrNotFound), errors.Is(err, activity.ErrMalformed):
		return reject(reason, "%s: %v", what, err)
	case errors.As(err, &se) && !se.Temporary():
		return reject(reason, "%s: %v", what, err)
	default:
		return transient(fmt.Errorf("%s: %w", what, err))
	}
}
