package fanout

import (
	"strconv"
	"sync"
	"time"

	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/stream"
)

// Post is a persisted status with what dispatch needs to render it
type Post struct {
	Status *models.Status
	Author *models.Account
	// Original and OriginalAuthor are set for reblogs
	Original       *models.Status
	OriginalAuthor *models.Account
	Tags           []*models.Tag
}

// StatusPayload is the single broadcast rendering of a status
type StatusPayload struct {
	ID          string         `json:"id"`
	URI         string         `json:"uri"`
	URL         string         `json:"url,omitempty"`
	Account     AccountPayload `json:"account"`
	Content     string         `json:"content"`
	SpoilerText string         `json:"spoiler_text"`
	Language    string         `json:"language,omitempty"`
	Sensitive   bool           `json:"sensitive"`
	Visibility  string         `json:"visibility"`
	InReplyToID *string        `json:"in_reply_to_id"`
	QuoteID     *string        `json:"quote_id,omitempty"`
	MediaIDs    []string       `json:"media_attachment_ids"`
	Tags        []string       `json:"tags"`
	CreatedAt   time.Time      `json:"created_at"`
	Reblog      *StatusPayload `json:"reblog"`
}

// AccountPayload identifies the author in a StatusPayload
type AccountPayload struct {
	ID   string `json:"id"`
	Acct string `json:"acct"`
	URL  string `json:"url,omitempty"`
	Bot  bool   `json:"bot"`
}

func idString(id *int64) *string {
	if id == nil {
		return nil
	}
	s := strconv.FormatInt(*id, 10)
	return &s
}

func renderStatus(status *models.Status, author *models.Account, tags []*models.Tag) *StatusPayload {
	p := &StatusPayload{
		ID:          strconv.FormatInt(status.ID, 10),
		URI:         status.URI,
		URL:         status.URL,
		Content:     status.Text,
		SpoilerText: status.SpoilerText,
		Language:    status.Language,
		Sensitive:   status.Sensitive,
		Visibility:  status.Visibility.String(),
		InReplyToID: idString(status.InReplyToID),
		QuoteID:     idString(status.QuoteOfID),
		MediaIDs:    []string{},
		Tags:        []string{},
		CreatedAt:   status.CreatedAt,
	}
	if author != nil {
		p.Account = AccountPayload{
			ID:   strconv.FormatInt(author.ID, 10),
			Acct: author.Acct(),
			URL:  author.URL,
			Bot:  author.Bot,
		}
	}
	for _, id := range status.MediaAttachmentIDs {
		p.MediaIDs = append(p.MediaIDs, strconv.FormatInt(id, 10))
	}
	for _, t := range tags {
		p.Tags = append(p.Tags, t.Name)
	}
	return p
}

// Render builds the broadcast payload of post
func Render(post *Post) *StatusPayload {
	if post.Status.IsReblog() && post.Original != nil {
		p := renderStatus(post.Status, post.Author, nil)
		p.Reblog = renderStatus(post.Original, post.OriginalAuthor, post.Tags)
		return p
	}
	return renderStatus(post.Status, post.Author, post.Tags)
}

// payloads renders an event once per visibility tier and shares the bytes
// between every channel of that tier
type payloads struct {
	post   *Post
	mu     sync.Mutex
	byTier map[string][]byte
}

func newPayloads(post *Post) *payloads {
	return &payloads{post: post, byTier: make(map[string][]byte)}
}

// channelTier is the tier of broadcast channels open to anyone
const channelTier = "public"

// feedTier is the tier of a feed's stream mirror: the status's own visibility
func feedTier(post *Post) string {
	return post.Status.Visibility.String()
}

func (p *payloads) get(tier string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.byTier[tier]; ok {
		return b, nil
	}
	rendered := Render(p.post)
	rendered.Visibility = tier
	b, err := stream.NewEvent("update", rendered)
	if err != nil {
		return nil, err
	}
	p.byTier[tier] = b
	return b, nil
}
