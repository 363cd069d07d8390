package models

import (
	"testing"
	"time"
)

func TestMostRestrictive(t *testing.T) {
	tests := []struct {
		name   string
		levels []Visibility
		want   Visibility
	}{
		{"none", nil, VisibilityPublic},
		{"public unlisted", []Visibility{VisibilityPublic, VisibilityUnlisted}, VisibilityUnlisted},
		{"mutual private", []Visibility{VisibilityMutual, VisibilityPrivate}, VisibilityMutual},
		{"direct wins", []Visibility{VisibilityDirect, VisibilityLimited, VisibilityPublic}, VisibilityDirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MostRestrictive(tt.levels...); got != tt.want {
				t.Errorf("MostRestrictive(%v) = %v, want %v", tt.levels, got, tt.want)
			}
		})
	}
}

func TestParseVisibility(t *testing.T) {
	tests := []struct {
		in     string
		want   Visibility
		wantOK bool
	}{
		{"public", VisibilityPublic, true},
		{" Unlisted ", VisibilityUnlisted, true},
		{"mutual", VisibilityMutual, true},
		{"limited", VisibilityLimited, true},
		{"direct", VisibilityDirect, true},
		{"circle", VisibilityPublic, false},
	}

	for _, tt := range tests {
		got, ok := ParseVisibility(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseVisibility(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"#Test", "test"},
		{"GoLang", "golang"},
		{"#ｆｕｌｌｗｉｄｔｈ", "fullwidth"},
		{"snake_case", "snake_case"},
		{"#with-dash", "withdash"},
		{"#", ""},
	}

	for _, tt := range tests {
		if got := NormalizeTag(tt.in); got != tt.want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPollOpen(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		poll Poll
		want bool
	}{
		{"no expiry", Poll{}, true},
		{"future expiry", Poll{ExpiresAt: &future}, true},
		{"past expiry", Poll{ExpiresAt: &past}, false},
		{"closed", Poll{ExpiresAt: &future, ClosedAt: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.poll.Open(now); got != tt.want {
				t.Errorf("Open() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywordSubscriptionTerms(t *testing.T) {
	k := KeywordSubscription{Keyword: "go, rust ,,zig", Exclude: " spam "}
	if got := k.Keywords(); len(got) != 3 || got[1] != "rust" {
		t.Errorf("Keywords() = %v, want [go rust zig]", got)
	}
	if got := k.Excludes(); len(got) != 1 || got[0] != "spam" {
		t.Errorf("Excludes() = %v, want [spam]", got)
	}
}

func TestAccountAcct(t *testing.T) {
	local := Account{Username: "alice"}
	remote := Account{Username: "bob", Domain: "remote.example", InboxURL: "https://remote.example/users/bob/inbox"}

	if got := local.Acct(); got != "alice" {
		t.Errorf("Acct() = %q, want %q", got, "alice")
	}
	if got := remote.Acct(); got != "bob@remote.example" {
		t.Errorf("Acct() = %q, want %q", got, "bob@remote.example")
	}
	if got := remote.InboxForDelivery(); got != remote.InboxURL {
		t.Errorf("InboxForDelivery() = %q, want %q", got, remote.InboxURL)
	}
}
