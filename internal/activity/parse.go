// Package activity classifies inbound federation messages into a closed set of variants.
package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrMalformed is returned for payloads that are not a usable activity
var ErrMalformed = errors.New("malformed activity")

// Message is one of CreatePost, CreateVote, CreateReblog, Delete or Unsupported
type Message interface {
	ActivityID() string
	ActorURI() string
}

// Envelope holds the fields common to every activity
type Envelope struct {
	ID        string
	Actor     string
	To        RefList
	Cc        RefList
	Published *time.Time
}

// ActivityID implements Message
func (e Envelope) ActivityID() string { return e.ID }

// ActorURI implements Message
func (e Envelope) ActorURI() string { return e.Actor }

// CreatePost is a Create of a new note, article, page or question
type CreatePost struct {
	Envelope
	Note *Object
}

// CreateVote is a Create whose object looks like a poll answer: a reply
// carrying a name and no content. It may still turn out to be a post.
type CreateVote struct {
	Envelope
	Note *Object
}

// CreateReblog is an Announce of an existing status
type CreateReblog struct {
	Envelope
	Object string
}

// Delete removes a previously created object
type Delete struct {
	Envelope
	Object string
}

// Unsupported is any other activity
type Unsupported struct {
	Envelope
	Type string
}

var postTypes = map[string]bool{
	"Note":     true,
	"Article":  true,
	"Page":     true,
	"Question": true,
}

type rawActivity struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Ref             `json:"actor"`
	Object    json.RawMessage `json:"object"`
	To        RefList         `json:"to"`
	Cc        RefList         `json:"cc"`
	Published *time.Time      `json:"published"`
}

// Parse classifies raw once so later stages dispatch on the variant
func Parse(raw []byte) (Message, error) {
	var a rawActivity
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := Envelope{ID: a.ID, Actor: string(a.Actor), To: a.To, Cc: a.Cc, Published: a.Published}
	if env.Actor == "" {
		return nil, fmt.Errorf("%w: missing actor", ErrMalformed)
	}

	switch a.Type {
	case "Create":
		note, err := ParseObject(a.Object)
		if err != nil {
			return nil, err
		}
		if !postTypes[note.Type] {
			return Unsupported{Envelope: env, Type: "Create/" + note.Type}, nil
		}
		if isVoteCandidate(note) {
			return CreateVote{Envelope: env, Note: note}, nil
		}
		return CreatePost{Envelope: env, Note: note}, nil
	case "Announce":
		target, err := objectRef(a.Object)
		if err != nil {
			return nil, err
		}
		return CreateReblog{Envelope: env, Object: target}, nil
	case "Delete":
		target, err := objectRef(a.Object)
		if err != nil {
			return nil, err
		}
		return Delete{Envelope: env, Object: target}, nil
	default:
		return Unsupported{Envelope: env, Type: a.Type}, nil
	}
}

// ParseObject decodes an embedded or fetched object document
func ParseObject(raw []byte) (*Object, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing object", ErrMalformed)
	}
	var o Object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: object: %v", ErrMalformed, err)
	}
	if o.ID == "" {
		return nil, fmt.Errorf("%w: object without id", ErrMalformed)
	}
	return &o, nil
}

// ParseActor decodes a fetched actor document
func ParseActor(raw []byte) (*Actor, error) {
	var a Actor
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: actor: %v", ErrMalformed, err)
	}
	if a.ID == "" || a.Inbox == "" {
		return nil, fmt.Errorf("%w: actor without id or inbox", ErrMalformed)
	}
	return &a, nil
}

func objectRef(raw json.RawMessage) (string, error) {
	var r Ref
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("%w: object reference: %v", ErrMalformed, err)
	}
	if r == "" {
		return "", fmt.Errorf("%w: missing object", ErrMalformed)
	}
	return string(r), nil
}

// IsPost reports whether o is an object type the pipeline stores as a status
func IsPost(o *Object) bool {
	return postTypes[o.Type]
}

func isVoteCandidate(o *Object) bool {
	return o.Type == "Note" && o.InReplyTo != "" && o.Name != "" && o.Content == "" && len(o.ContentMap) == 0
}

// Host returns the lowercased host of an IRI, or "" when it has none
func Host(iri string) string {
	u, err := url.Parse(iri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameOrigin reports whether both IRIs share a non-empty host
func SameOrigin(a, b string) bool {
	ha := Host(a)
	return ha != "" && ha == Host(b)
}
