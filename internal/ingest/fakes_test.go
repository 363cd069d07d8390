package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/cache"
	"github.com/fedibird/fedimind/internal/db"
	"github.com/fedibird/fedimind/internal/federation"
	"github.com/fedibird/fedimind/internal/lock"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/search"
	"github.com/fedibird/fedimind/internal/tasks"
	"github.com/fedibird/fedimind/pkg/config"
)

const localDomain = "local.example"

type fakeStore struct {
	mu       sync.Mutex
	statuses map[int64]*models.Status
	accounts map[int64]*models.Account
	polls    map[int64]*models.Poll
	votes    map[string]bool
	media    map[int64]*models.MediaAttachment
	cards    []*models.PreviewCard
	inboxes  map[int64][]string
	expired  map[int64]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[int64]*models.Status),
		accounts: make(map[int64]*models.Account),
		polls:    make(map[int64]*models.Poll),
		votes:    make(map[string]bool),
		media:    make(map[int64]*models.MediaAttachment),
		inboxes:  make(map[int64][]string),
		expired:  make(map[int64]time.Time),
	}
}

func (f *fakeStore) put(s *models.Status) *models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[s.ID] = s
	return s
}

func (f *fakeStore) live() []*models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Status
	for _, s := range f.statuses {
		if !s.Tombstoned() {
			out = append(out, s)
		}
	}
	return out
}

func copyStatus(s *models.Status) *models.Status {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (f *fakeStore) StatusByID(ctx context.Context, id int64) (*models.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[id]
	if s == nil || s.Tombstoned() {
		return nil, nil
	}
	return copyStatus(s), nil
}

func (f *fakeStore) statusByURI(uri string, unscoped bool) *models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.statuses {
		if s.URI == uri && (unscoped || !s.Tombstoned()) {
			return copyStatus(s)
		}
	}
	return nil
}

func (f *fakeStore) StatusByURIUnscoped(ctx context.Context, uri string) (*models.Status, error) {
	return f.statusByURI(uri, true), nil
}

func (f *fakeStore) CreateStatus(ctx context.Context, b *builder.Bundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.statuses {
		if s.URI == b.Status.URI {
			return db.ErrDuplicateURI
		}
	}
	if _, ok := f.statuses[b.Status.ID]; ok {
		return errDuplicateID
	}
	f.statuses[b.Status.ID] = copyStatus(b.Status)
	for _, m := range b.Media {
		f.media[m.ID] = m
	}
	if b.Poll != nil {
		f.polls[b.Poll.ID] = b.Poll
	}
	return nil
}

func (f *fakeStore) SoftDeleteStatus(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[id]
	if s == nil || s.Tombstoned() {
		return false, nil
	}
	s.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	return true, nil
}

func (f *fakeStore) MarkExpired(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired[id] = at
	if s := f.statuses[id]; s != nil {
		s.ExpiredAt = &at
	}
	return nil
}

func (f *fakeStore) ExpiringBefore(ctx context.Context, t time.Time, limit int) ([]*models.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Status
	for _, s := range f.statuses {
		if s.ExpiresAt != nil && s.ExpiredAt == nil && !s.Tombstoned() && s.ExpiresAt.Before(t) && len(out) < limit {
			out = append(out, copyStatus(s))
		}
	}
	return out, nil
}

func (f *fakeStore) AttachChildren(ctx context.Context, parent *models.Status) (int64, error) {
	return 0, nil
}

func (f *fakeStore) StatusTags(ctx context.Context, statusID int64) ([]*models.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.statuses[statusID]; s != nil {
		return s.Tags, nil
	}
	return nil, nil
}

func (f *fakeStore) StatusMentions(ctx context.Context, statusID int64) ([]*models.Mention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.statuses[statusID]; s != nil {
		return s.Mentions, nil
	}
	return nil, nil
}

func (f *fakeStore) AccountByID(ctx context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeStore) RemoteFollowerInboxes(ctx context.Context, accountID int64) ([]string, error) {
	return f.inboxes[accountID], nil
}

func (f *fakeStore) PollByID(ctx context.Context, id int64) (*models.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[id], nil
}

func (f *fakeStore) RecordVote(ctx context.Context, poll *models.Poll, accountID int64, choice int, uri string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d/%d/%d", poll.ID, accountID, choice)
	if f.votes[key] {
		return false, nil
	}
	f.votes[key] = true
	stored := f.polls[poll.ID]
	stored.Tallies[choice]++
	stored.VotersCount++
	return true, nil
}

func (f *fakeStore) ClosePoll(ctx context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.polls[id]
	if p == nil || p.ClosedAt != nil {
		return false, nil
	}
	p.ClosedAt = &at
	return true, nil
}

func (f *fakeStore) MediaByID(ctx context.Context, id int64) (*models.MediaAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.media[id], nil
}

func (f *fakeStore) MarkMediaFetched(ctx context.Context, id int64, contentType string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.media[id]; m != nil {
		m.Fetched, m.ContentType, m.FileSize = true, contentType, size
	}
	return nil
}

func (f *fakeStore) CreatePreviewCard(ctx context.Context, card *models.PreviewCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, card)
	return nil
}

// fakeResolver serves both the builder and the coordinator from the store
type fakeResolver struct {
	store    *fakeStore
	accounts map[string]*models.Account
	links    int32
}

func (r *fakeResolver) ResolveAccount(ctx context.Context, uri string) (*models.Account, error) {
	return r.accounts[uri], nil
}

func (r *fakeResolver) ResolveStatus(ctx context.Context, url string) (*models.Status, error) {
	return r.store.statusByURI(url, false), nil
}

func (r *fakeResolver) LookupStatus(ctx context.Context, url string) (*models.Status, error) {
	return r.store.statusByURI(url, false), nil
}

func (r *fakeResolver) AccountByAcct(ctx context.Context, acct string) (*models.Account, error) {
	for _, a := range r.accounts {
		if a.Acct() == acct {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeResolver) IsLocal(url string) bool {
	return strings.HasPrefix(url, "https://"+localDomain+"/")
}

func (r *fakeResolver) LinkReferences(ctx context.Context, source *models.Status, urls []string, quote *models.Status, quoteURI string) error {
	atomic.AddInt32(&r.links, 1)
	return nil
}

func (r *fakeResolver) RetryPending(ctx context.Context, pendingID int64) error {
	return nil
}

type fakeFetcher struct {
	docs      map[string]string
	delivered []string
	mu        sync.Mutex
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if doc, ok := f.docs[url]; ok {
		return []byte(doc), nil
	}
	return nil, federation.ErrNotFound
}

func (f *fakeFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return f.Fetch(ctx, url)
}

func (f *fakeFetcher) Probe(ctx context.Context, url string) (string, int64, error) {
	return "image/png", 42, nil
}

func (f *fakeFetcher) Deliver(ctx context.Context, inbox string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, inbox)
	return nil
}

type fakeFanOut struct {
	calls int32
}

func (f *fakeFanOut) FanOut(ctx context.Context, statusID int64) error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) add(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) Mention(ctx context.Context, status *models.Status, mentions []*models.Mention) error {
	if len(mentions) > 0 {
		n.add("mention")
	}
	return nil
}

func (n *fakeNotifier) Reblog(ctx context.Context, reblog, target *models.Status) error {
	n.add("reblog")
	return nil
}

func (n *fakeNotifier) PollClosed(ctx context.Context, status *models.Status, poll *models.Poll) error {
	n.add("poll")
	return nil
}

type scheduled struct {
	kind    string
	payload interface{}
	delay   time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduled
}

func (s *fakeScheduler) Schedule(ctx context.Context, kind string, payload interface{}, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduled{kind, payload, delay})
	return nil
}

func (s *fakeScheduler) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.kind == kind {
			n++
		}
	}
	return n
}

type registry map[string]tasks.Handler

func (r registry) Register(kind string, h tasks.Handler) {
	r[kind] = h
}

var errDuplicateID = errors.New(`duplicate key value violates unique constraint "statuses_pkey"`)

type sequence struct{ n int64 }

func (s *sequence) Next() int64 {
	return atomic.AddInt64(&s.n, 1)
}

func (s *sequence) NextAt(t time.Time) int64 {
	return s.Next()
}

type fixture struct {
	c        *Coordinator
	store    *fakeStore
	resolver *fakeResolver
	fetcher  *fakeFetcher
	fanout   *fakeFanOut
	notifier *fakeNotifier
	tasks    *fakeScheduler
	search   *search.MemorySink
	cache    *cache.Memory
	alice    *models.Account // remote
	bob      *models.Account // local
}

func newFixture() *fixture {
	f := &fixture{
		store:    newFakeStore(),
		fetcher:  &fakeFetcher{docs: map[string]string{}},
		fanout:   &fakeFanOut{},
		notifier: &fakeNotifier{},
		tasks:    &fakeScheduler{},
		search:   &search.MemorySink{},
		cache:    cache.NewMemory(),
		alice: &models.Account{ID: 1, Username: "alice", Domain: "remote.example",
			URI: "https://remote.example/users/alice", InboxURL: "https://remote.example/users/alice/inbox",
			FollowersURL: "https://remote.example/users/alice/followers"},
		bob: &models.Account{ID: 2, Username: "bob", URI: "https://local.example/users/bob"},
	}
	f.store.accounts[f.alice.ID] = f.alice
	f.store.accounts[f.bob.ID] = f.bob
	f.resolver = &fakeResolver{
		store:    f.store,
		accounts: map[string]*models.Account{f.alice.URI: f.alice, f.bob.URI: f.bob},
	}

	cfg := &config.IngestConfig{
		LockTTL:         5 * time.Second,
		LockWait:        5 * time.Second,
		FetchTimeout:    time.Second,
		IdempotencyTTL:  time.Hour,
		DeleteMarkerTTL: time.Hour,
	}
	f.c = New(Deps{
		Store:    f.store,
		Builder:  builder.New(f.resolver, f.store, localDomain, time.Minute),
		Resolver: f.resolver,
		Locker:   lock.NewMemoryLocker(),
		Cache:    f.cache,
		IDs:      &sequence{n: 100},
		FanOut:   f.fanout,
		Notifier: f.notifier,
		Tasks:    f.tasks,
		Fetcher:  f.fetcher,
		Search:   f.search,
	}, cfg, localDomain)
	return f
}

func createNote(id, content string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "%[1]s/activity",
		"type": "Create",
		"actor": "https://remote.example/users/alice",
		"object": {
			"id": "%[1]s",
			"type": "Note",
			"attributedTo": "https://remote.example/users/alice",
			"content": %[2]q,
			"to": ["https://www.w3.org/ns/activitystreams#Public"],
			"cc": ["https://remote.example/users/alice/followers"]
		}
	}`, id, content))
}

func deliver(body []byte) Delivery {
	return Delivery{Actor: "https://remote.example/users/alice", Body: body}
}
