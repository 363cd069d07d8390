package builder

import (
	"time"

	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/resolver"
)

// IDSource hands out time-ordered identifiers
type IDSource interface {
	Next() int64
	// NextAt returns an identifier that sorts by t
	NextAt(t time.Time) int64
}

// Bundle is everything persisted together for one new status
type Bundle struct {
	Status          *models.Status
	Tags            []*models.Tag
	Mentions        []*models.Mention
	Media           []*models.MediaAttachment
	Poll            *models.Poll
	ConversationURI string
}

// Build assigns ids and assembles the rows for d. The status id follows
// CreatedAt so late deliveries sort by creation time. It performs no I/O
// and is safe to call while holding the dedup lock.
func (b *Builder) Build(d *Draft, ids IDSource) *Bundle {
	id := ids.NextAt(d.CreatedAt)
	s := &models.Status{
		ID:            id,
		URI:           d.URI,
		URL:           d.URL,
		AccountID:     d.Author.ID,
		Text:          d.Text,
		SpoilerText:   d.SpoilerText,
		Language:      d.Language,
		Sensitive:     d.Sensitive,
		Visibility:    d.Visibility,
		Searchability: models.MostRestrictive(d.Searchability, d.Visibility),
		Local:         d.Local,
		InReplyToURI:  d.ParentURI,
		ExpiresAt:     d.ExpiresAt,
		ExpiryAction:  d.ExpiryAction,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.CreatedAt,
		Account:       d.Author,
	}
	if d.ExpiredOnArrival && d.ExpiryAction == models.ExpiryMark {
		s.ExpiredAt = d.ExpiresAt
	}
	if d.Local {
		s.URI = resolver.StatusURI(b.domain, d.Author.Username, id)
		s.URL = resolver.StatusURL(b.domain, d.Author.Username, id)
	}

	bundle := &Bundle{Status: s, ConversationURI: d.ConversationURI}

	if d.ReblogOf != nil {
		s.ReblogOfID = &d.ReblogOf.ID
		s.Text, s.SpoilerText = "", ""
		return bundle
	}

	if d.Parent != nil {
		s.InReplyToID = &d.Parent.ID
		s.InReplyToAccountID = &d.Parent.AccountID
		s.ConversationID = d.Parent.ConversationID
		s.InReplyToURI = d.Parent.URI
	}
	if d.Quote != nil {
		s.QuoteOfID = &d.Quote.ID
	}

	for _, a := range d.Mentions {
		bundle.Mentions = append(bundle.Mentions, &models.Mention{StatusID: id, AccountID: a.ID, Account: a})
	}
	for _, a := range d.Addressed {
		if hasMention(bundle.Mentions, a.ID) {
			continue
		}
		bundle.Mentions = append(bundle.Mentions, &models.Mention{StatusID: id, AccountID: a.ID, Silent: true, Account: a})
	}
	s.Mentions = bundle.Mentions

	for i := range d.Tags {
		t := d.Tags[i]
		bundle.Tags = append(bundle.Tags, &t)
	}
	s.Tags = bundle.Tags

	for _, m := range d.Media {
		mediaID := ids.Next()
		bundle.Media = append(bundle.Media, &models.MediaAttachment{
			ID:          mediaID,
			StatusID:    &s.ID,
			AccountID:   d.Author.ID,
			RemoteURL:   m.URL,
			Type:        m.Type,
			ContentType: m.ContentType,
			Description: m.Description,
			CreatedAt:   d.CreatedAt,
		})
		s.MediaAttachmentIDs = append(s.MediaAttachmentIDs, mediaID)
	}

	if d.Poll != nil {
		pollID := ids.Next()
		bundle.Poll = &models.Poll{
			ID:          pollID,
			StatusID:    id,
			AccountID:   d.Author.ID,
			Options:     append([]string(nil), d.Poll.Options...),
			Tallies:     append([]int64(nil), d.Poll.Tallies...),
			Multiple:    d.Poll.Multiple,
			VotersCount: d.Poll.VotersCount,
			ExpiresAt:   d.Poll.ExpiresAt,
			CreatedAt:   d.CreatedAt,
		}
		s.PollID = &pollID
		s.Poll = bundle.Poll
	}

	return bundle
}

func hasMention(mentions []*models.Mention, accountID int64) bool {
	for _, m := range mentions {
		if m.AccountID == accountID {
			return true
		}
	}
	return false
}
