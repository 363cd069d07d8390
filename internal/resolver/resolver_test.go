package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fedibird/fedimind/internal/cache"
	"github.com/fedibird/fedimind/internal/federation"
	"github.com/fedibird/fedimind/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	statuses   map[int64]*models.Status
	accounts   map[int64]*models.Account
	refs       map[[2]int64]models.StatusReference
	pending    map[int64]*models.PendingReference
	nextID     int64
	statusHits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[int64]*models.Status),
		accounts: make(map[int64]*models.Account),
		refs:     make(map[[2]int64]models.StatusReference),
		pending:  make(map[int64]*models.PendingReference),
		nextID:   100,
	}
}

func (f *fakeStore) StatusByID(ctx context.Context, id int64) (*models.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id], nil
}

func (f *fakeStore) StatusByURI(ctx context.Context, uri string) (*models.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHits++
	for _, s := range f.statuses {
		if s.URI == uri {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AccountByID(ctx context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeStore) AccountByURI(ctx context.Context, uri string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.URI == uri {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) LocalAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return f.AccountByAcct(ctx, username, "")
}

func (f *fakeStore) AccountByAcct(ctx context.Context, username, domain string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Username == username && a.Domain == domain {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	account.ID = f.nextID
	f.accounts[account.ID] = account
	return account, nil
}

func (f *fakeStore) CreateReferences(ctx context.Context, refs []models.StatusReference) ([]models.StatusReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var created []models.StatusReference
	for _, r := range refs {
		key := [2]int64{r.StatusID, r.TargetStatusID}
		if _, ok := f.refs[key]; ok {
			continue
		}
		f.refs[key] = r
		created = append(created, r)
	}
	return created, nil
}

func (f *fakeStore) CreatePendingReference(ctx context.Context, ref *models.PendingReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref.ID = f.nextID
	f.pending[ref.ID] = ref
	return nil
}

func (f *fakeStore) PendingReferenceByID(ctx context.Context, id int64) (*models.PendingReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[id], nil
}

func (f *fakeStore) DeletePendingReference(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	return nil
}

func (f *fakeStore) SetQuote(ctx context.Context, id, quoteID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[id]
	if s == nil || s.QuoteOfID != nil {
		return false, nil
	}
	s.QuoteOfID = &quoteID
	return true, nil
}

type fakeFetcher struct {
	docs  map[string]string
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	doc, ok := f.docs[url]
	if !ok {
		return nil, federation.ErrNotFound
	}
	return []byte(doc), nil
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

func (f *fakeScheduler) Schedule(ctx context.Context, kind string, payload interface{}, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, scheduled{kind, payload, delay})
	return nil
}

func (f *fakeScheduler) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.tasks {
		out = append(out, t.kind)
	}
	return out
}

type notification struct {
	sourceID, targetID int64
	quote              bool
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) Reference(ctx context.Context, source, target *models.Status, quote bool) error {
	f.sent = append(f.sent, notification{source.ID, target.ID, quote})
	return nil
}

const localDomain = "local.example"

func newTestResolver() (*Resolver, *fakeStore, *fakeFetcher, *fakeScheduler, *fakeNotifier) {
	store := newFakeStore()
	fetcher := &fakeFetcher{docs: make(map[string]string)}
	sched := &fakeScheduler{}
	notifier := &fakeNotifier{}
	r := New(store, fetcher, cache.NewMemory(), sched, notifier, Options{Domain: localDomain, CacheTTL: time.Minute})
	return r, store, fetcher, sched, notifier
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"HTTPS://Remote.Example/notes/1#frag", "https://remote.example/notes/1", false},
		{"https://remote.example:443/notes/1/", "https://remote.example/notes/1", false},
		{"http://remote.example:8080/x?y=1", "http://remote.example:8080/x?y=1", false},
		{"https://remote.example/", "https://remote.example/", false},
		{"mailto:bob@remote.example", "", true},
		{"/relative/path", "", true},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Normalize(%q) = %q, %v, want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestResolveLocalRoutes(t *testing.T) {
	r, store, fetcher, sched, _ := newTestResolver()
	store.accounts[1] = &models.Account{ID: 1, Username: "alice", URI: AccountURI(localDomain, "alice")}
	store.statuses[7] = &models.Status{ID: 7, AccountID: 1, Local: true, URI: StatusURI(localDomain, "alice", 7)}

	tests := []struct {
		url       string
		statusID  int64
		accountID int64
	}{
		{"https://local.example/users/alice/statuses/7", 7, 0},
		{"https://local.example/@alice/7", 7, 0},
		{"https://local.example/@alice", 0, 1},
		{"https://local.example/users/alice", 0, 1},
		{"https://local.example/about", 0, 0},
		{"https://local.example/@alice/999", 0, 0},
	}

	ctx := context.Background()
	for _, tt := range tests {
		res, err := r.Resolve(ctx, tt.url)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tt.url, err)
		}
		var gotStatus, gotAccount int64
		if res.Status != nil {
			gotStatus = res.Status.ID
		}
		if res.Account != nil {
			gotAccount = res.Account.ID
		}
		if gotStatus != tt.statusID || gotAccount != tt.accountID {
			t.Errorf("Resolve(%q) = status %d account %d, want %d %d", tt.url, gotStatus, gotAccount, tt.statusID, tt.accountID)
		}
	}

	if fetcher.calls != 0 || len(sched.kinds()) != 0 {
		t.Errorf("local resolution fetched %d times and scheduled %v, want none", fetcher.calls, sched.kinds())
	}
}

func TestResolveRemoteStatusDefersFetch(t *testing.T) {
	r, store, fetcher, sched, _ := newTestResolver()
	ctx := context.Background()

	res, err := r.Resolve(ctx, "https://remote.example/notes/1")
	if err != nil || res.Resolved() {
		t.Fatalf("Resolve() = %+v, %v, want unresolved", res, err)
	}
	if fetcher.calls != 0 {
		t.Errorf("status resolution fetched inline %d times, want 0", fetcher.calls)
	}
	if kinds := sched.kinds(); len(kinds) != 1 || kinds[0] != TaskFetchStatus {
		t.Errorf("scheduled = %v, want [%s]", kinds, TaskFetchStatus)
	}

	store.statuses[5] = &models.Status{ID: 5, URI: "https://remote.example/notes/1"}
	res, _ = r.Resolve(ctx, "https://remote.example/notes/1")
	if res.Status == nil || res.Status.ID != 5 {
		t.Fatalf("Resolve() after fetch = %+v, want status 5", res)
	}

	hits := store.statusHits
	r.Resolve(ctx, "https://REMOTE.example/notes/1#x")
	if store.statusHits != hits {
		t.Errorf("cached resolution queried the store by URI again")
	}
}

func TestResolveAccountFetchesInline(t *testing.T) {
	r, store, fetcher, _, _ := newTestResolver()
	fetcher.docs["https://remote.example/users/bob"] = `{
		"id":"https://remote.example/users/bob","type":"Service","preferredUsername":"bob",
		"inbox":"https://remote.example/users/bob/inbox",
		"followers":"https://remote.example/users/bob/followers",
		"endpoints":{"sharedInbox":"https://remote.example/inbox"},
		"searchableBy":["https://remote.example/users/bob/followers"]}`

	ctx := context.Background()
	a, err := r.ResolveAccount(ctx, "https://remote.example/users/bob")
	if err != nil {
		t.Fatalf("ResolveAccount() error = %v", err)
	}
	if a.Domain != "remote.example" || !a.Bot || a.SharedInboxURL != "https://remote.example/inbox" {
		t.Errorf("ResolveAccount() = %+v", a)
	}
	if a.DefaultSearchability != models.VisibilityPrivate {
		t.Errorf("DefaultSearchability = %v, want private", a.DefaultSearchability)
	}

	if _, err := r.ResolveAccount(ctx, "https://remote.example/users/bob"); err != nil {
		t.Fatalf("second ResolveAccount() error = %v", err)
	}
	if fetcher.calls != 1 || len(store.accounts) != 1 {
		t.Errorf("fetch calls = %d, accounts = %d, want 1, 1", fetcher.calls, len(store.accounts))
	}

	if _, err := r.ResolveAccount(ctx, "https://remote.example/users/ghost"); !errors.Is(err, federation.ErrNotFound) {
		t.Errorf("ResolveAccount(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestResolveAccountRejectsForeignActor(t *testing.T) {
	r, _, fetcher, _, _ := newTestResolver()
	fetcher.docs["https://remote.example/users/bob"] = `{"id":"https://evil.example/users/bob","inbox":"https://evil.example/inbox"}`

	if _, err := r.ResolveAccount(context.Background(), "https://remote.example/users/bob"); err == nil {
		t.Error("ResolveAccount() accepted an actor served from another host")
	}
}

func TestLinkReferences(t *testing.T) {
	r, store, _, sched, notifier := newTestResolver()
	now := time.Now()

	store.statuses[10] = &models.Status{ID: 10, AccountID: 1, Local: true, URI: StatusURI(localDomain, "alice", 10)}
	store.statuses[11] = &models.Status{ID: 11, AccountID: 1, Local: true, URI: StatusURI(localDomain, "alice", 11)}
	store.statuses[12] = &models.Status{ID: 12, AccountID: 3, Local: false, URI: "https://remote.example/notes/12"}
	source := &models.Status{ID: 50, AccountID: 2, URI: "https://remote.example/notes/50", CreatedAt: now}

	urls := []string{
		"https://local.example/@alice/11",
		"https://local.example/users/alice/statuses/10",
		"https://remote.example/notes/12",
		"https://remote.example/notes/12#dup",
		"https://remote.example/notes/50",
		"https://unknown.example/notes/77",
		"https://local.example/@alice",
	}

	ctx := context.Background()
	if err := r.LinkReferences(ctx, source, urls, nil, ""); err != nil {
		t.Fatalf("LinkReferences() error = %v", err)
	}

	if len(store.refs) != 3 {
		t.Errorf("edges = %d, want 3", len(store.refs))
	}
	if len(store.pending) != 1 {
		t.Errorf("pending = %d, want 1", len(store.pending))
	}
	if len(notifier.sent) != 1 || notifier.sent[0].targetID != 10 {
		t.Errorf("notifications = %+v, want one for the earliest target 10", notifier.sent)
	}

	var sawRetry bool
	for _, k := range sched.kinds() {
		if k == TaskResolveReference {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Errorf("scheduled = %v, want a %s task", sched.kinds(), TaskResolveReference)
	}

	// second pass creates nothing new and notifies nobody
	if err := r.LinkReferences(ctx, source, urls[:3], nil, ""); err != nil {
		t.Fatalf("LinkReferences() again error = %v", err)
	}
	if len(store.refs) != 3 || len(notifier.sent) != 1 {
		t.Errorf("after repeat: edges = %d notifications = %d, want 3, 1", len(store.refs), len(notifier.sent))
	}
}

func TestLinkReferencesQuote(t *testing.T) {
	r, store, _, _, notifier := newTestResolver()
	quoted := &models.Status{ID: 20, AccountID: 1, Local: true, URI: StatusURI(localDomain, "alice", 20)}
	store.statuses[20] = quoted
	source := &models.Status{ID: 60, AccountID: 2, URI: "https://remote.example/notes/60"}

	if err := r.LinkReferences(context.Background(), source, nil, quoted, quoted.URI); err != nil {
		t.Fatalf("LinkReferences() error = %v", err)
	}
	ref, ok := store.refs[[2]int64{60, 20}]
	if !ok || !ref.Quote {
		t.Errorf("quote edge = %+v, %v, want quote edge", ref, ok)
	}
	if len(notifier.sent) != 1 || !notifier.sent[0].quote {
		t.Errorf("notifications = %+v, want one quote notification", notifier.sent)
	}
}

func TestLinkReferencesRejectsSelf(t *testing.T) {
	r, store, _, _, _ := newTestResolver()
	self := &models.Status{ID: 30, AccountID: 1, Local: true, URI: StatusURI(localDomain, "alice", 30)}
	store.statuses[30] = self

	if err := r.LinkReferences(context.Background(), self, []string{self.URI}, self, self.URI); err != nil {
		t.Fatalf("LinkReferences() error = %v", err)
	}
	if len(store.refs) != 0 {
		t.Errorf("edges = %d, want 0 for a self reference", len(store.refs))
	}
}

func TestRetryPending(t *testing.T) {
	r, store, _, _, notifier := newTestResolver()
	ctx := context.Background()

	source := &models.Status{ID: 70, AccountID: 2, URI: "https://remote.example/notes/70"}
	store.statuses[70] = source
	pending := &models.PendingReference{StatusID: 70, TargetURI: "https://other.example/notes/1"}
	store.CreatePendingReference(ctx, pending)

	if err := r.RetryPending(ctx, pending.ID); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("RetryPending() error = %v, want ErrUnresolved", err)
	}

	store.statuses[80] = &models.Status{ID: 80, AccountID: 1, Local: true, URI: "https://other.example/notes/1"}
	if err := r.RetryPending(ctx, pending.ID); err != nil {
		t.Fatalf("RetryPending() error = %v", err)
	}
	if _, ok := store.refs[[2]int64{70, 80}]; !ok {
		t.Error("edge not created after target became known")
	}
	if len(store.pending) != 0 {
		t.Errorf("pending = %d, want 0", len(store.pending))
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(notifier.sent))
	}

	if err := r.RetryPending(ctx, pending.ID); err != nil {
		t.Errorf("RetryPending() on finished entry error = %v, want nil", err)
	}
}

func TestRetryPendingQuote(t *testing.T) {
	quoteURI := "https://other.example/notes/2"
	tests := []struct {
		name       string
		visibility models.Visibility
		wantQuote  bool
	}{
		{"public", models.VisibilityPublic, true},
		{"unlisted", models.VisibilityUnlisted, true},
		{"private", models.VisibilityPrivate, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, _, _, notifier := newTestResolver()
			ctx := context.Background()

			source := &models.Status{ID: 90, AccountID: 2, URI: "https://remote.example/notes/90"}
			store.statuses[90] = source
			urls := []string{"https://unknown.example/notes/5", quoteURI}
			if err := r.LinkReferences(ctx, source, urls, nil, quoteURI); err != nil {
				t.Fatalf("LinkReferences() error = %v", err)
			}

			var quoteID, otherID int64
			for id, p := range store.pending {
				if p.TargetURI == quoteURI {
					quoteID = id
				} else {
					otherID = id
				}
			}
			if quoteID == 0 || !store.pending[quoteID].Quote {
				t.Fatalf("pending quote = %+v, want a quote row for %s", store.pending[quoteID], quoteURI)
			}
			if store.pending[otherID].Quote {
				t.Errorf("pending %s Quote = true, want false", store.pending[otherID].TargetURI)
			}

			store.statuses[95] = &models.Status{ID: 95, AccountID: 1, Local: true, URI: quoteURI, Visibility: tt.visibility}
			if err := r.RetryPending(ctx, quoteID); err != nil {
				t.Fatalf("RetryPending() error = %v", err)
			}

			edge, ok := store.refs[[2]int64{90, 95}]
			if !ok || !edge.Quote {
				t.Errorf("edge = %+v, %v, want quote edge", edge, ok)
			}
			if len(notifier.sent) != 1 || !notifier.sent[0].quote {
				t.Errorf("notifications = %+v, want one quote notification", notifier.sent)
			}
			gotQuote := source.QuoteOfID != nil && *source.QuoteOfID == 95
			if gotQuote != tt.wantQuote {
				t.Errorf("QuoteOfID = %v, want set %v", source.QuoteOfID, tt.wantQuote)
			}
		})
	}
}

func TestSearchabilityFrom(t *testing.T) {
	followers := "https://remote.example/users/bob/followers"
	tests := []struct {
		name  string
		addrs []string
		want  models.Visibility
	}{
		{"public", []string{"as:Public"}, models.VisibilityPublic},
		{"followers", []string{followers}, models.VisibilityPrivate},
		{"limited", []string{"kmyblue:Limited"}, models.VisibilityLimited},
		{"nobody", nil, models.VisibilityDirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchabilityFrom(tt.addrs, followers); got != tt.want {
				t.Errorf("SearchabilityFrom(%v) = %v, want %v", tt.addrs, got, tt.want)
			}
		})
	}
}
