// Package resolver maps URLs to known statuses and accounts, fetching or
// deferring unknown targets.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/cache"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/tasks"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Task kinds scheduled by the resolver
const (
	TaskFetchStatus      = "fetch_status"
	TaskResolveReference = "resolve_reference"
)

// ErrUnresolved is returned by background retries whose target is still unknown
var ErrUnresolved = errors.New("reference target not resolved yet")

// Store is the persistence the resolver reads and writes
type Store interface {
	StatusByID(ctx context.Context, id int64) (*models.Status, error)
	StatusByURI(ctx context.Context, uri string) (*models.Status, error)
	AccountByID(ctx context.Context, id int64) (*models.Account, error)
	AccountByURI(ctx context.Context, uri string) (*models.Account, error)
	LocalAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	AccountByAcct(ctx context.Context, username, domain string) (*models.Account, error)
	UpsertAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	CreateReferences(ctx context.Context, refs []models.StatusReference) ([]models.StatusReference, error)
	CreatePendingReference(ctx context.Context, ref *models.PendingReference) error
	PendingReferenceByID(ctx context.Context, id int64) (*models.PendingReference, error)
	DeletePendingReference(ctx context.Context, id int64) error
	SetQuote(ctx context.Context, id, quoteID int64) (bool, error)
}

// Fetcher retrieves remote documents
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cache is the read-through cache of URL to record id
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Notifier is told about new references to local statuses
type Notifier interface {
	Reference(ctx context.Context, source, target *models.Status, quote bool) error
}

// Result is a resolved status or account; both nil means unresolved
type Result struct {
	Status  *models.Status
	Account *models.Account
}

// Resolved reports whether anything was found
func (r Result) Resolved() bool {
	return r.Status != nil || r.Account != nil
}

// Options configures a Resolver
type Options struct {
	Domain   string
	CacheTTL time.Duration
	// RetryDelay is the delay before the first attempt to link a pending reference
	RetryDelay time.Duration
}

// Resolver implements URL resolution for the ingestion pipeline
type Resolver struct {
	store    Store
	fetcher  Fetcher
	cache    Cache
	tasks    tasks.Scheduler
	notifier Notifier
	opts     Options
	logger   *zap.Logger
}

// New creates a resolver
func New(store Store, fetcher Fetcher, c Cache, scheduler tasks.Scheduler, notifier Notifier, opts Options) *Resolver {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 30 * time.Second
	}
	return &Resolver{
		store:    store,
		fetcher:  fetcher,
		cache:    c,
		tasks:    scheduler,
		notifier: notifier,
		opts:     opts,
		logger:   logging.WithComponent("resolver"),
	}
}

// IsLocal reports whether url points at this server
func (r *Resolver) IsLocal(url string) bool {
	return activity.Host(url) == strings.ToLower(r.opts.Domain)
}

// Resolve finds the status or account a URL designates. Unknown remote
// URLs schedule an out-of-band fetch and return an empty Result.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "resolver.Resolve")
	defer span.End()

	res, norm, err := r.lookup(ctx, rawURL)
	if err != nil || res.Resolved() || r.IsLocal(norm) {
		return res, err
	}
	if err := r.tasks.Schedule(ctx, TaskFetchStatus, FetchPayload{URI: norm}, 0); err != nil {
		r.logger.Warn("Failed to schedule fetch", zap.String("url", norm), zap.Error(err))
	}
	return Result{}, nil
}

// ResolveStatus is Resolve restricted to statuses
func (r *Resolver) ResolveStatus(ctx context.Context, rawURL string) (*models.Status, error) {
	res, err := r.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return res.Status, nil
}

// LookupStatus returns a known status without scheduling any fetch
func (r *Resolver) LookupStatus(ctx context.Context, rawURL string) (*models.Status, error) {
	res, _, err := r.lookup(ctx, rawURL)
	return res.Status, err
}

// ResolveAccount returns the account for uri, fetching and storing remote
// actors inline. The caller bounds the fetch through ctx.
func (r *Resolver) ResolveAccount(ctx context.Context, uri string) (*models.Account, error) {
	ctx, span := telemetry.StartSpan(ctx, "resolver.ResolveAccount")
	defer span.End()

	res, norm, err := r.lookup(ctx, uri)
	if err != nil {
		return nil, err
	}
	if res.Account != nil {
		return res.Account, nil
	}
	if r.IsLocal(norm) {
		return nil, nil
	}

	body, err := r.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("fetch actor %s: %w", uri, err)
	}
	actor, err := activity.ParseActor(body)
	if err != nil {
		return nil, err
	}
	if !activity.SameOrigin(actor.ID, uri) {
		return nil, fmt.Errorf("actor %s served from %s", actor.ID, uri)
	}

	account, err := r.store.UpsertAccount(ctx, accountFromActor(actor))
	if err != nil {
		return nil, fmt.Errorf("store actor %s: %w", actor.ID, err)
	}
	r.remember(ctx, norm, "a", account.ID)
	return account, nil
}

// AccountByAcct finds a local account by username, or an already known remote one by username@domain
func (r *Resolver) AccountByAcct(ctx context.Context, acct string) (*models.Account, error) {
	acct = strings.TrimPrefix(acct, "@")
	username, domain, remote := strings.Cut(acct, "@")
	if !remote || strings.EqualFold(domain, r.opts.Domain) {
		return r.store.LocalAccountByUsername(ctx, username)
	}
	return r.store.AccountByAcct(ctx, username, strings.ToLower(domain))
}

func (r *Resolver) lookup(ctx context.Context, rawURL string) (Result, string, error) {
	norm, err := Normalize(rawURL)
	if err != nil {
		return Result{}, "", err
	}

	if r.IsLocal(norm) {
		res, err := r.lookupLocal(ctx, norm)
		return res, norm, err
	}

	key := "resolve:" + cache.HashKey(norm)
	if r.cache != nil {
		if v, err := r.cache.Get(ctx, key); err == nil {
			if res, ok := r.fromCache(ctx, v); ok {
				return res, norm, nil
			}
		}
	}

	status, err := r.store.StatusByURI(ctx, norm)
	if err == nil && status == nil && norm != rawURL {
		status, err = r.store.StatusByURI(ctx, rawURL)
	}
	if err != nil {
		return Result{}, norm, err
	}
	if status != nil {
		r.remember(ctx, norm, "s", status.ID)
		return Result{Status: status}, norm, nil
	}

	account, err := r.store.AccountByURI(ctx, norm)
	if err == nil && account == nil && norm != rawURL {
		account, err = r.store.AccountByURI(ctx, rawURL)
	}
	if err != nil {
		return Result{}, norm, err
	}
	if account != nil {
		r.remember(ctx, norm, "a", account.ID)
		return Result{Account: account}, norm, nil
	}
	return Result{}, norm, nil
}

func (r *Resolver) lookupLocal(ctx context.Context, norm string) (Result, error) {
	target, ok := matchLocal(norm)
	if !ok {
		return Result{}, nil
	}
	switch target.kind {
	case routeStatus:
		s, err := r.store.StatusByID(ctx, target.statusID)
		return Result{Status: s}, err
	default:
		a, err := r.store.LocalAccountByUsername(ctx, target.username)
		return Result{Account: a}, err
	}
}

func (r *Resolver) fromCache(ctx context.Context, v string) (Result, bool) {
	kind, idStr, ok := strings.Cut(v, ":")
	if !ok {
		return Result{}, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Result{}, false
	}
	switch kind {
	case "s":
		s, err := r.store.StatusByID(ctx, id)
		if err != nil || s == nil {
			return Result{}, false
		}
		return Result{Status: s}, true
	case "a":
		a, err := r.store.AccountByID(ctx, id)
		if err != nil || a == nil {
			return Result{}, false
		}
		return Result{Account: a}, true
	}
	return Result{}, false
}

func (r *Resolver) remember(ctx context.Context, norm, kind string, id int64) {
	if r.cache == nil {
		return
	}
	key := "resolve:" + cache.HashKey(norm)
	if err := r.cache.Set(ctx, key, kind+":"+strconv.FormatInt(id, 10), r.opts.CacheTTL); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		r.logger.Debug("Failed to cache resolution", zap.String("url", norm), zap.Error(err))
	}
}

func accountFromActor(a *activity.Actor) *models.Account {
	account := &models.Account{
		Username:       a.PreferredUsername,
		Domain:         activity.Host(a.ID),
		URI:            a.ID,
		URL:            string(a.URL),
		InboxURL:       a.Inbox,
		SharedInboxURL: a.Endpoints.SharedInbox,
		FollowersURL:   a.Followers,
		Bot:            a.IsBot(),
		Group:          a.IsGroup(),
	}
	if a.SearchableBy != nil {
		account.DefaultSearchability = SearchabilityFrom(*a.SearchableBy, a.Followers)
	}
	return account
}

// SearchabilityFrom maps a searchableBy address list to a level
func SearchabilityFrom(addrs activity.RefList, followersURL string) models.Visibility {
	switch {
	case addrs.Contains(activity.IsPublic):
		return models.VisibilityPublic
	case followersURL != "" && addrs.Contains(func(s string) bool { return s == followersURL }):
		return models.VisibilityPrivate
	case addrs.Contains(func(s string) bool { return s == "kmyblue:Limited" || s == "as:Limited" }):
		return models.VisibilityLimited
	default:
		return models.VisibilityDirect
	}
}
