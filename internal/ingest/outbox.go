package ingest

import (
	"fmt"
	"time"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/resolver"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// outboxPost is a local status with everything needed to federate it
type outboxPost struct {
	Author   *models.Account
	Status   *models.Status
	Original *models.Status
	Quote    *models.Status
	Mentions []*models.Account
	Tags     []*models.Tag
}

type outboxActivity struct {
	Context   string      `json:"@context"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Published string      `json:"published"`
	To        []string    `json:"to"`
	Cc        []string    `json:"cc,omitempty"`
	Object    interface{} `json:"object"`
}

type outboxNote struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	URL          string         `json:"url,omitempty"`
	AttributedTo string         `json:"attributedTo"`
	Content      string         `json:"content"`
	Summary      string         `json:"summary,omitempty"`
	Sensitive    bool           `json:"sensitive"`
	InReplyTo    string         `json:"inReplyTo,omitempty"`
	QuoteURI     string         `json:"quoteUri,omitempty"`
	Published    string         `json:"published"`
	To           []string       `json:"to"`
	Cc           []string       `json:"cc,omitempty"`
	Tag          []activity.Tag `json:"tag,omitempty"`
	SearchableBy []string       `json:"searchableBy,omitempty"`
	Expiry       string         `json:"expiry,omitempty"`
}

// renderActivity builds the Create, or Announce for reblogs, that
// federates p to remote servers
func renderActivity(domain string, p outboxPost) outboxActivity {
	actor := resolver.AccountURI(domain, p.Author.Username)
	followers := actor + "/followers"
	to, cc := addressing(p.Status.Visibility, followers, p.Mentions)
	published := p.Status.CreatedAt.UTC().Format(time.RFC3339)

	if p.Original != nil {
		return outboxActivity{
			Context:   activityStreamsContext,
			ID:        p.Status.URI + "/activity",
			Type:      "Announce",
			Actor:     actor,
			Published: published,
			To:        to,
			Cc:        cc,
			Object:    p.Original.URI,
		}
	}

	note := outboxNote{
		ID:           p.Status.URI,
		Type:         "Note",
		URL:          p.Status.URL,
		AttributedTo: actor,
		Content:      p.Status.Text,
		Summary:      p.Status.SpoilerText,
		Sensitive:    p.Status.Sensitive,
		InReplyTo:    p.Status.InReplyToURI,
		Published:    published,
		To:           to,
		Cc:           cc,
		SearchableBy: searchableBy(p.Status.Searchability, followers),
	}
	if p.Quote != nil {
		note.QuoteURI = p.Quote.URI
	}
	if p.Status.ExpiresAt != nil {
		note.Expiry = p.Status.ExpiresAt.UTC().Format(time.RFC3339)
	}
	for _, a := range p.Mentions {
		note.Tag = append(note.Tag, activity.Tag{Type: "Mention", Href: a.URI, Name: "@" + acct(a, domain)})
	}
	for _, t := range p.Tags {
		note.Tag = append(note.Tag, activity.Tag{
			Type: "Hashtag",
			Href: fmt.Sprintf("https://%s/tags/%s", domain, t.Name),
			Name: "#" + t.Name,
		})
	}

	return outboxActivity{
		Context:   activityStreamsContext,
		ID:        p.Status.URI + "/activity",
		Type:      "Create",
		Actor:     actor,
		Published: published,
		To:        to,
		Cc:        cc,
		Object:    note,
	}
}

// addressing maps a visibility onto to/cc audiences
func addressing(v models.Visibility, followers string, mentions []*models.Account) (to, cc []string) {
	mentioned := make([]string, 0, len(mentions))
	for _, a := range mentions {
		mentioned = append(mentioned, a.URI)
	}

	switch v {
	case models.VisibilityPublic:
		return []string{activity.PublicCollection}, append([]string{followers}, mentioned...)
	case models.VisibilityUnlisted:
		return []string{followers}, append([]string{activity.PublicCollection}, mentioned...)
	case models.VisibilityPrivate, models.VisibilityMutual:
		return []string{followers}, mentioned
	default:
		return mentioned, nil
	}
}

func searchableBy(v models.Visibility, followers string) []string {
	switch {
	case v == models.VisibilityPublic:
		return []string{activity.PublicCollection}
	case v <= models.VisibilityMutual:
		return []string{followers}
	default:
		return nil
	}
}

func acct(a *models.Account, domain string) string {
	if a.Local() {
		return a.Username + "@" + domain
	}
	return a.Acct()
}
