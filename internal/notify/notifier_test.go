package notify

import (
	"context"
	"testing"

	"github.com/fedibird/fedimind/internal/models"
)

type fakeStore struct {
	accounts map[int64]*models.Account
	voters   []int64
	created  []*models.Notification
}

func (f *fakeStore) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	f.created = append(f.created, notifications...)
	return nil
}

func (f *fakeStore) AccountByID(ctx context.Context, id int64) (*models.Account, error) {
	return f.accounts[id], nil
}

func (f *fakeStore) LocalPollVoters(ctx context.Context, pollID int64) ([]int64, error) {
	return f.voters, nil
}

func newStore() *fakeStore {
	return &fakeStore{accounts: map[int64]*models.Account{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "bob", Domain: "remote.example"},
		3: {ID: 3, Username: "carol", Suspended: true},
		4: {ID: 4, Username: "dave"},
	}}
}

func TestMention(t *testing.T) {
	store := newStore()
	n := New(store)
	status := &models.Status{ID: 100, AccountID: 1}
	mentions := []*models.Mention{
		{AccountID: 1},               // author
		{AccountID: 2},               // remote
		{AccountID: 3},               // suspended
		{AccountID: 4},               // local
		{AccountID: 4, Silent: true}, // silent
	}

	if err := n.Mention(context.Background(), status, mentions); err != nil {
		t.Fatalf("Mention() error = %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d notifications, want 1", len(store.created))
	}
	got := store.created[0]
	if got.AccountID != 4 || got.FromAccountID != 1 || got.Type != models.NotifyTypeMention || got.StatusID != 100 {
		t.Errorf("notification = %+v, want mention of dave by alice", got)
	}
}

func TestReference(t *testing.T) {
	tests := []struct {
		name   string
		source *models.Status
		target *models.Status
		quote  bool
		want   int16
	}{
		{"reference", &models.Status{ID: 10, AccountID: 2}, &models.Status{ID: 5, AccountID: 1, Local: true}, false, models.NotifyTypeReference},
		{"quote", &models.Status{ID: 10, AccountID: 2}, &models.Status{ID: 5, AccountID: 1, Local: true}, true, models.NotifyTypeQuote},
		{"remote target", &models.Status{ID: 10, AccountID: 1}, &models.Status{ID: 5, AccountID: 2}, false, 0},
		{"self", &models.Status{ID: 10, AccountID: 1}, &models.Status{ID: 5, AccountID: 1, Local: true}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore()
			if err := New(store).Reference(context.Background(), tt.source, tt.target, tt.quote); err != nil {
				t.Fatalf("Reference() error = %v", err)
			}
			if tt.want == 0 {
				if len(store.created) != 0 {
					t.Errorf("created %v, want none", store.created)
				}
				return
			}
			if len(store.created) != 1 || store.created[0].Type != tt.want || store.created[0].StatusID != tt.source.ID {
				t.Errorf("created %+v, want one %s", store.created, TypeName(tt.want))
			}
		})
	}
}

func TestPollClosed(t *testing.T) {
	store := newStore()
	store.voters = []int64{1, 4}
	status := &models.Status{ID: 100, AccountID: 1, Local: true}

	if err := New(store).PollClosed(context.Background(), status, &models.Poll{ID: 7}); err != nil {
		t.Fatalf("PollClosed() error = %v", err)
	}
	if len(store.created) != 2 {
		t.Fatalf("created %d notifications, want author and one voter", len(store.created))
	}
	if store.created[0].AccountID != 1 || store.created[1].AccountID != 4 {
		t.Errorf("recipients = %d, %d, want 1, 4", store.created[0].AccountID, store.created[1].AccountID)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		typeID   int16
		expected string
	}{
		{models.NotifyTypeMention, "mention"},
		{models.NotifyTypeQuote, "quote"},
		{models.NotifyTypePollClosed, "poll"},
		{999, "unknown"},
	}
	for _, tt := range tests {
		if got := TypeName(tt.typeID); got != tt.expected {
			t.Errorf("TypeName(%d) = %v, want %v", tt.typeID, got, tt.expected)
		}
	}
}
