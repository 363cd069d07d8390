package fanout

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fedibird/fedimind/internal/audience"
	"github.com/fedibird/fedimind/internal/feed"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/search"
	"github.com/fedibird/fedimind/internal/stream"
)

func int64Ptr(v int64) *int64 { return &v }

type fakeStore struct {
	statuses  map[int64]*models.Status
	accounts  map[int64]*models.Account
	tags      map[int64][]*models.Tag
	mentions  map[int64][]*models.Mention
	followers map[int64][]int64
	lists     map[int64][]int64
	tagFollow []models.TagFollow
	keywords  []models.KeywordSubscription

	batches int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:  make(map[int64]*models.Status),
		accounts:  make(map[int64]*models.Account),
		tags:      make(map[int64][]*models.Tag),
		mentions:  make(map[int64][]*models.Mention),
		followers: make(map[int64][]int64),
		lists:     make(map[int64][]int64),
	}
}

func (s *fakeStore) StatusByID(ctx context.Context, id int64) (*models.Status, error) {
	return s.statuses[id], nil
}

func (s *fakeStore) AccountByID(ctx context.Context, id int64) (*models.Account, error) {
	return s.accounts[id], nil
}

func (s *fakeStore) StatusTags(ctx context.Context, statusID int64) ([]*models.Tag, error) {
	return s.tags[statusID], nil
}

func (s *fakeStore) StatusMentions(ctx context.Context, statusID int64) ([]*models.Mention, error) {
	return s.mentions[statusID], nil
}

func (s *fakeStore) FollowerBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(ids []int64) error) error {
	ids := s.followers[accountID]
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		s.batches++
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) ListBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(listIDs, owners []int64) error) error {
	ids := s.lists[accountID]
	if len(ids) == 0 {
		return nil
	}
	return fn(ids, make([]int64, len(ids)))
}

func (s *fakeStore) TagFollows(ctx context.Context, tagIDs []int64) ([]models.TagFollow, error) {
	return s.tagFollow, nil
}

func (s *fakeStore) DomainSubscriptions(ctx context.Context, domain string) ([]models.DomainSubscription, error) {
	return nil, nil
}

func (s *fakeStore) KeywordSubscriptions(ctx context.Context) ([]models.KeywordSubscription, error) {
	return s.keywords, nil
}

type fixture struct {
	store  *fakeStore
	feeds  *feed.MemoryQueue
	stream *stream.MemoryBroadcaster
	index  *search.MemorySink
	svc    *Service
}

// newFixture seeds alice (1, local) followed by 2, 3 and 5, with list 10
// containing her, and bob (4, local) who does not follow her
func newFixture() *fixture {
	store := newFakeStore()
	store.accounts[1] = &models.Account{ID: 1, Username: "alice"}
	store.accounts[4] = &models.Account{ID: 4, Username: "bob"}
	store.followers[1] = []int64{2, 3, 5}
	store.lists[1] = []int64{10}

	f := &fixture{
		store:  store,
		feeds:  feed.NewMemoryQueue(0),
		stream: stream.NewMemoryBroadcaster(),
		index:  &search.MemorySink{},
	}
	d := NewDispatcher(store, f.feeds, f.stream, f.index, 2, 4, nil)
	f.svc = NewService(store, d, "local.example")
	return f
}

func (f *fixture) channels() map[string][]byte {
	out := make(map[string][]byte)
	for _, m := range f.stream.Published() {
		out[m.Channel] = m.Payload
	}
	return out
}

func hasKey(keys []string, want string) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}

func TestFanOutPublicPostWithHashtagAndMention(t *testing.T) {
	f := newFixture()
	f.store.statuses[100] = &models.Status{
		ID: 100, AccountID: 1, Local: true, Text: "<p>hi @bob #test</p>",
		Visibility: models.VisibilityPublic, Searchability: models.VisibilityPublic,
	}
	f.store.tags[100] = []*models.Tag{{ID: 7, Name: "test"}}
	f.store.mentions[100] = []*models.Mention{{StatusID: 100, AccountID: 4, Account: f.store.accounts[4]}}

	if err := f.svc.FanOut(context.Background(), 100); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}

	keys := f.feeds.Keys()
	for _, want := range []string{"feed:home:1", "feed:home:2", "feed:home:3", "feed:home:5", "feed:list:10"} {
		if !hasKey(keys, want) {
			t.Errorf("feed keys = %v, missing %s", keys, want)
		}
	}
	if hasKey(keys, "feed:home:4") {
		t.Errorf("feed keys = %v, mentioned non-follower must not get a home entry", keys)
	}
	if f.store.batches != 2 {
		t.Errorf("follower batches = %d, want 2 with batch size 2", f.store.batches)
	}

	published := f.channels()
	for _, want := range []string{"timeline:public", "timeline:public:local", "hashtag:test", "hashtag:test:local", "timeline:1", "timeline:2", "timeline:list:10"} {
		if _, ok := published[want]; !ok {
			t.Errorf("channel %s not published", want)
		}
	}
	if _, ok := published["timeline:public:remote"]; ok {
		t.Errorf("local post published to the remote partition")
	}

	docs := f.index.Documents()
	if len(docs) != 1 || docs[0].ID != 100 {
		t.Errorf("index documents = %v, want status 100", docs)
	}
}

func TestFanOutDirectReachesOnlyAddressees(t *testing.T) {
	f := newFixture()
	f.store.statuses[100] = &models.Status{
		ID: 100, AccountID: 1, Local: true, Text: "psst @bob",
		Visibility: models.VisibilityDirect, Searchability: models.VisibilityDirect,
	}
	f.store.mentions[100] = []*models.Mention{{StatusID: 100, AccountID: 4, Account: f.store.accounts[4]}}

	if err := f.svc.FanOut(context.Background(), 100); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}

	keys := f.feeds.Keys()
	if len(keys) != 2 || keys[0] != "feed:home:1" || keys[1] != "feed:home:4" {
		t.Errorf("feed keys = %v, want [feed:home:1 feed:home:4]", keys)
	}
	for _, m := range f.stream.Published() {
		if m.Channel != "timeline:1" && m.Channel != "timeline:4" {
			t.Errorf("published to %s, want only the addressees' streams", m.Channel)
		}
	}
	if docs := f.index.Documents(); len(docs) != 0 {
		t.Errorf("index documents = %v, want none", docs)
	}
}

func TestFanOutReblogSkipsHashtagsAndIndex(t *testing.T) {
	f := newFixture()
	f.store.accounts[9] = &models.Account{ID: 9, Username: "zed", Domain: "remote.example"}
	f.store.statuses[50] = &models.Status{
		ID: 50, AccountID: 9, Text: "#test original",
		Visibility: models.VisibilityPublic, Searchability: models.VisibilityPublic,
	}
	f.store.tags[50] = []*models.Tag{{ID: 7, Name: "test"}}
	f.store.statuses[100] = &models.Status{
		ID: 100, AccountID: 1, Local: true, ReblogOfID: int64Ptr(50),
		Visibility: models.VisibilityPublic, Searchability: models.VisibilityPublic,
	}

	if err := f.svc.FanOut(context.Background(), 100); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}

	published := f.channels()
	if _, ok := published["hashtag:test"]; ok {
		t.Error("reblog published to a hashtag timeline")
	}
	if _, ok := published["timeline:public:local"]; !ok {
		t.Error("reblog missing from the local public timeline")
	}
	if docs := f.index.Documents(); len(docs) != 0 {
		t.Errorf("index documents = %v, want none for a reblog", docs)
	}
}

func TestFanOutMissingStatus(t *testing.T) {
	f := newFixture()
	if err := f.svc.FanOut(context.Background(), 404); err != nil {
		t.Errorf("FanOut(missing) = %v, want nil", err)
	}
	if keys := f.feeds.Keys(); len(keys) != 0 {
		t.Errorf("feed keys = %v, want none", keys)
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	f := newFixture()
	f.stream.Fail = map[string]error{"timeline:public": errors.New("connection reset")}
	f.store.statuses[100] = &models.Status{
		ID: 100, AccountID: 1, Local: true, Text: "hello #test",
		Visibility: models.VisibilityPublic, Searchability: models.VisibilityPublic,
	}
	f.store.tags[100] = []*models.Tag{{ID: 7, Name: "test"}}

	err := f.svc.FanOut(context.Background(), 100)
	if !IsPartial(err) {
		t.Fatalf("FanOut() = %v, want a partial delivery error", err)
	}
	var partial *PartialDeliveryError
	errors.As(err, &partial)
	if len(partial.Failures) != 1 || partial.Failures[0].Target != "timeline:public" {
		t.Errorf("failures = %+v, want only timeline:public", partial.Failures)
	}

	published := f.channels()
	for _, want := range []string{"timeline:public:local", "hashtag:test"} {
		if _, ok := published[want]; !ok {
			t.Errorf("channel %s not published after an unrelated failure", want)
		}
	}
	if !hasKey(f.feeds.Keys(), "feed:home:2") {
		t.Error("follower feed missing after an unrelated failure")
	}
}

func TestDispatchSharesPayloadAcrossChannels(t *testing.T) {
	f := newFixture()
	f.store.statuses[100] = &models.Status{
		ID: 100, AccountID: 1, Local: true, Text: "hello",
		Visibility: models.VisibilityPublic, Searchability: models.VisibilityPublic,
	}
	if err := f.svc.FanOut(context.Background(), 100); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}

	var first []byte
	for _, m := range f.stream.Published() {
		if first == nil {
			first = m.Payload
			continue
		}
		if &m.Payload[0] != &first[0] {
			t.Errorf("payload of %s was rendered separately", m.Channel)
		}
		if !bytes.Equal(m.Payload, first) {
			t.Errorf("payload of %s differs", m.Channel)
		}
	}
	if first == nil {
		t.Fatal("nothing published")
	}
}

func TestDispatchOrderingIndependentOfCompletion(t *testing.T) {
	feeds := feed.NewMemoryQueue(0)
	d := NewDispatcher(newFakeStore(), feeds, stream.NewMemoryBroadcaster(), nil, 10, 4, nil)
	author := &models.Account{ID: 1, Username: "alice"}

	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(1000 + i)
	}
	rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			set := audience.NewSet()
			set.Add(audience.Home(audience.ClassHome, 7))
			post := &Post{Status: &models.Status{ID: id, AccountID: 1, Visibility: models.VisibilityPrivate}, Author: author}
			if err := d.Dispatch(context.Background(), post, set); err != nil {
				t.Errorf("Dispatch(%d) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	got, _ := feeds.Range(context.Background(), "feed:home:7", 100)
	if len(got) != len(ids) {
		t.Fatalf("len(Range()) = %d, want %d", len(got), len(ids))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] <= got[i] {
			t.Fatalf("Range() not newest first at %d: %d then %d", i, got[i-1], got[i])
		}
	}
}

func TestRenderReblog(t *testing.T) {
	post := &Post{
		Status:         &models.Status{ID: 2, AccountID: 1, ReblogOfID: int64Ptr(1), Visibility: models.VisibilityPublic},
		Author:         &models.Account{ID: 1, Username: "alice"},
		Original:       &models.Status{ID: 1, AccountID: 9, Text: "orig", MediaAttachmentIDs: []int64{5}},
		OriginalAuthor: &models.Account{ID: 9, Username: "zed", Domain: "remote.example"},
		Tags:           []*models.Tag{{Name: "go"}},
	}
	p := Render(post)
	if p.Reblog == nil || p.Reblog.Content != "orig" || p.Reblog.Account.Acct != "zed@remote.example" {
		t.Fatalf("Render() = %+v, want nested original by zed", p)
	}
	if len(p.Reblog.MediaIDs) != 1 || p.Reblog.MediaIDs[0] != "5" || p.Reblog.Tags[0] != "go" {
		t.Errorf("Render().Reblog = %+v, want media 5 and tag go", p.Reblog)
	}
	if p.Content != "" || len(p.Tags) != 0 {
		t.Errorf("Render() = %+v, want an empty wrapper", p)
	}
}
