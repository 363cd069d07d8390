package activity

import (
	"errors"
	"testing"
)

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "create note",
			raw: `{"id":"https://r.example/a/1","type":"Create","actor":"https://r.example/users/bob",
				"object":{"id":"https://r.example/notes/1","type":"Note","content":"<p>hi</p>"}}`,
			want: "post",
		},
		{
			name: "create question",
			raw: `{"id":"https://r.example/a/2","type":"Create","actor":"https://r.example/users/bob",
				"object":{"id":"https://r.example/notes/2","type":"Question","content":"pick","oneOf":[{"name":"a"}]}}`,
			want: "post",
		},
		{
			name: "vote candidate",
			raw: `{"id":"https://r.example/a/3","type":"Create","actor":{"id":"https://r.example/users/bob"},
				"object":{"id":"https://r.example/votes/3","type":"Note","name":"a","inReplyTo":"https://local.example/users/alice/statuses/9"}}`,
			want: "vote",
		},
		{
			name: "announce",
			raw:  `{"id":"https://r.example/a/4","type":"Announce","actor":"https://r.example/users/bob","object":"https://o.example/notes/7"}`,
			want: "reblog",
		},
		{
			name: "delete tombstone object",
			raw:  `{"id":"https://r.example/a/5","type":"Delete","actor":"https://r.example/users/bob","object":{"id":"https://r.example/notes/1","type":"Tombstone"}}`,
			want: "delete",
		},
		{
			name: "like",
			raw:  `{"id":"https://r.example/a/6","type":"Like","actor":"https://r.example/users/bob","object":"https://o.example/notes/7"}`,
			want: "unsupported",
		},
		{
			name: "create chat message",
			raw: `{"id":"https://r.example/a/7","type":"Create","actor":"https://r.example/users/bob",
				"object":{"id":"https://r.example/chat/7","type":"ChatMessage","content":"x"}}`,
			want: "unsupported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			var got string
			switch msg.(type) {
			case CreatePost:
				got = "post"
			case CreateVote:
				got = "vote"
			case CreateReblog:
				got = "reblog"
			case Delete:
				got = "delete"
			case Unsupported:
				got = "unsupported"
			}
			if got != tt.want {
				t.Errorf("Parse() variant = %s, want %s", got, tt.want)
			}
			if msg.ActorURI() != "https://r.example/users/bob" {
				t.Errorf("ActorURI() = %q, want bob", msg.ActorURI())
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"no actor", `{"type":"Create","object":{"id":"x","type":"Note"}}`},
		{"create without object", `{"type":"Create","actor":"https://r.example/users/bob"}`},
		{"object without id", `{"type":"Create","actor":"https://r.example/users/bob","object":{"type":"Note"}}`},
		{"announce without object", `{"type":"Announce","actor":"https://r.example/users/bob","object":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestObjectFields(t *testing.T) {
	raw := `{"id":"https://r.example/notes/1","type":"Note",
		"to":"https://www.w3.org/ns/activitystreams#Public",
		"cc":["https://r.example/users/bob/followers",{"id":"https://local.example/users/alice"}],
		"attributedTo":[{"id":"https://r.example/users/bob","type":"Person"}],
		"_misskey_quote":"https://o.example/notes/2",
		"searchableBy":[],
		"url":{"type":"Link","href":"https://r.example/@bob/1"}}`

	o, err := ParseObject([]byte(raw))
	if err != nil {
		t.Fatalf("ParseObject() error = %v", err)
	}
	if len(o.To) != 1 || !IsPublic(o.To[0]) {
		t.Errorf("To = %v, want public", o.To)
	}
	if len(o.Cc) != 2 || o.Cc[1] != "https://local.example/users/alice" {
		t.Errorf("Cc = %v", o.Cc)
	}
	if o.AttributedTo != "https://r.example/users/bob" {
		t.Errorf("AttributedTo = %q", o.AttributedTo)
	}
	if o.QuoteTarget() != "https://o.example/notes/2" {
		t.Errorf("QuoteTarget() = %q", o.QuoteTarget())
	}
	if o.SearchableBy == nil || len(*o.SearchableBy) != 0 {
		t.Errorf("SearchableBy = %v, want explicit empty list", o.SearchableBy)
	}
	if o.URL != "https://r.example/@bob/1" {
		t.Errorf("URL = %q", o.URL)
	}
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"https://r.example/notes/1", "https://R.example/users/bob", true},
		{"https://r.example/notes/1", "https://evil.example/users/bob", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := SameOrigin(tt.a, tt.b); got != tt.want {
			t.Errorf("SameOrigin(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
