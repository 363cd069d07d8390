package activity

import (
	"bytes"
	"encoding/json"
	"time"
)

// PublicCollection is the special audience meaning "everyone"
const PublicCollection = "https://www.w3.org/ns/activitystreams#Public"

// IsPublic reports whether addr names the public collection in any of its spellings
func IsPublic(addr string) bool {
	return addr == PublicCollection || addr == "as:Public" || addr == "Public"
}

// Ref is an object reference that may be serialized as a bare IRI or an embedded object
type Ref string

// UnmarshalJSON accepts "iri", {"id": "iri"}, {"href": "iri"} or a one-element array of either
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(s)
	case data[0] == '[':
		var refs []Ref
		if err := json.Unmarshal(data, &refs); err != nil {
			return err
		}
		*r = ""
		if len(refs) > 0 {
			*r = refs[0]
		}
	default:
		var obj struct {
			ID   string `json:"id"`
			Href string `json:"href"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.ID != "" {
			*r = Ref(obj.ID)
		} else {
			*r = Ref(obj.Href)
		}
	}
	return nil
}

// RefList is a list of references that may also be serialized as a single value
type RefList []string

// UnmarshalJSON accepts a single reference or an array of references
func (l *RefList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] != '[' {
		var r Ref
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		*l = nil
		if r != "" {
			*l = RefList{string(r)}
		}
		return nil
	}
	var refs []Ref
	if err := json.Unmarshal(data, &refs); err != nil {
		return err
	}
	out := make(RefList, 0, len(refs))
	for _, r := range refs {
		if r != "" {
			out = append(out, string(r))
		}
	}
	*l = out
	return nil
}

// Contains reports whether any entry satisfies match
func (l RefList) Contains(match func(string) bool) bool {
	for _, s := range l {
		if match(s) {
			return true
		}
	}
	return false
}

// Object is the subset of a federated note/question consumed by the pipeline
type Object struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	URL          Ref               `json:"url"`
	AttributedTo Ref               `json:"attributedTo"`
	Content      string            `json:"content"`
	ContentMap   map[string]string `json:"contentMap"`
	Name         string            `json:"name"`
	Summary      string            `json:"summary"`
	Sensitive    bool              `json:"sensitive"`
	InReplyTo    Ref               `json:"inReplyTo"`
	Conversation string            `json:"conversation"`
	Context      Ref               `json:"context"`
	Published    *time.Time        `json:"published"`
	To           RefList           `json:"to"`
	Cc           RefList           `json:"cc"`
	Tag          []Tag             `json:"tag"`
	Attachment   []Attachment      `json:"attachment"`

	QuoteURL     string `json:"quoteUrl"`
	QuoteURI     string `json:"quoteUri"`
	MisskeyQuote string `json:"_misskey_quote"`

	References   RefList    `json:"references"`
	SearchableBy *RefList   `json:"searchableBy"`
	LimitedScope string     `json:"limitedScope"`
	Expiry       *time.Time `json:"expiry"`

	OneOf       []Option   `json:"oneOf"`
	AnyOf       []Option   `json:"anyOf"`
	EndTime     *time.Time `json:"endTime"`
	Closed      *time.Time `json:"closed"`
	VotersCount *int64     `json:"votersCount"`
}

// Tag is a mention, hashtag or emoji entry
type Tag struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name"`
}

// Attachment is a media entry
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       Ref    `json:"url"`
	Name      string `json:"name"`
}

// Option is one poll choice
type Option struct {
	Name    string `json:"name"`
	Replies struct {
		TotalItems int64 `json:"totalItems"`
	} `json:"replies"`
}

// QuoteTarget returns the structured quote reference, if any
func (o *Object) QuoteTarget() string {
	switch {
	case o.QuoteURI != "":
		return o.QuoteURI
	case o.QuoteURL != "":
		return o.QuoteURL
	default:
		return o.MisskeyQuote
	}
}

// ConversationURI returns the thread grouping reference
func (o *Object) ConversationURI() string {
	if o.Conversation != "" {
		return o.Conversation
	}
	return string(o.Context)
}

// IsQuestion reports whether the object carries poll options
func (o *Object) IsQuestion() bool {
	return len(o.OneOf) > 0 || len(o.AnyOf) > 0
}

// Actor is the subset of a federated actor document stored for accounts
type Actor struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	URL               Ref    `json:"url"`
	Inbox             string `json:"inbox"`
	Followers         string `json:"followers"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	SearchableBy *RefList `json:"searchableBy"`
}

// IsBot reports whether the actor type is automated
func (a *Actor) IsBot() bool {
	return a.Type == "Service" || a.Type == "Application"
}

// IsGroup reports whether the actor is a group
func (a *Actor) IsGroup() bool {
	return a.Type == "Group"
}
