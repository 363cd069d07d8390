package builder

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Poll limits for locally authored polls
const (
	MaxPollOptions   = 4
	MinPollExpiresIn = 5 * time.Minute
	MaxPollExpiresIn = 30 * 24 * time.Hour
)

// LocalPost is a publish request from a local client
type LocalPost struct {
	Text          string     `json:"status"`
	SpoilerText   string     `json:"spoiler_text"`
	Language      string     `json:"language"`
	Sensitive     bool       `json:"sensitive"`
	Visibility    string     `json:"visibility"`
	Searchability string     `json:"searchability"`
	InReplyToID   int64      `json:"in_reply_to_id,string"`
	QuoteID       int64      `json:"quote_id,string"`
	MediaURLs     []string   `json:"media_urls"`
	Poll          *LocalPoll `json:"poll"`
	ExpiresIn     int64      `json:"expires_in"`
	ExpiryAction  string     `json:"expires_action"`
}

// LocalPoll is the poll part of a publish request
type LocalPoll struct {
	Options   []string `json:"options"`
	Multiple  bool     `json:"multiple"`
	ExpiresIn int64    `json:"expires_in"`
}

// PrepareLocal builds a draft for a status published by a local author
func (b *Builder) PrepareLocal(ctx context.Context, author *models.Account, req LocalPost) (*Draft, error) {
	ctx, span := telemetry.StartSpan(ctx, "builder.PrepareLocal")
	defer span.End()

	if !author.Local() {
		return nil, invalid("author %s is not local", author.Acct())
	}

	visibility := models.VisibilityPublic
	if req.Visibility != "" {
		v, ok := models.ParseVisibility(req.Visibility)
		if !ok {
			return nil, invalid("unknown visibility %q", req.Visibility)
		}
		visibility = v
	}
	searchability := author.DefaultSearchability
	if req.Searchability != "" {
		s, ok := models.ParseVisibility(req.Searchability)
		if !ok {
			return nil, invalid("unknown searchability %q", req.Searchability)
		}
		searchability = s
	}

	text := strings.TrimSpace(req.Text)
	d := &Draft{
		Author:       author,
		Local:        true,
		Text:         text,
		PlainText:    text,
		SpoilerText:  req.SpoilerText,
		Language:     req.Language,
		Sensitive:    req.Sensitive,
		CreatedAt:    b.now().UTC(),
		ExpiryAction: models.ExpiryNone,
	}
	d.Visibility = restrictVisibility(visibility, author)
	d.Searchability = models.MostRestrictive(searchability, d.Visibility)

	seen := map[int64]bool{author.ID: true}
	for _, acct := range extractAccts(text) {
		account, err := b.resolver.AccountByAcct(ctx, acct)
		if err != nil || account == nil {
			b.logger.Debug("Skipping unknown mention", zap.String("acct", acct), zap.Error(err))
			continue
		}
		if !seen[account.ID] {
			seen[account.ID] = true
			d.Mentions = append(d.Mentions, account)
		}
	}
	for _, name := range extractHashtags(text) {
		d.addTag(name)
	}

	if req.InReplyToID != 0 {
		parent, err := b.store.StatusByID(ctx, req.InReplyToID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.Tombstoned() {
			return nil, invalid("reply target %d not found", req.InReplyToID)
		}
		d.Parent = parent
		d.ParentURI = parent.URI
	}

	switch {
	case req.QuoteID != 0:
		quote, err := b.store.StatusByID(ctx, req.QuoteID)
		if err != nil {
			return nil, err
		}
		if quote == nil || quote.Tombstoned() {
			return nil, invalid("quote target %d not found", req.QuoteID)
		}
		if err := b.attachQuote(ctx, d, quote); err != nil {
			return nil, err
		}
	default:
		if err := b.prepareQuote(ctx, d, inlineQuoteTarget(text)); err != nil {
			return nil, err
		}
	}

	for _, u := range req.MediaURLs {
		if len(d.Media) == MaxMedia {
			return nil, invalid("at most %d attachments", MaxMedia)
		}
		d.Media = append(d.Media, MediaDraft{URL: u, Type: "unknown"})
	}

	if req.Poll != nil {
		p, err := b.localPoll(req.Poll)
		if err != nil {
			return nil, err
		}
		d.Poll = p
	}

	d.Links = extractLinks(text)
	d.References = collectReferences(d.Links, nil, d.QuoteURI, d.Quote)

	if req.ExpiresIn > 0 {
		action := models.ExpiryMark
		if req.ExpiryAction == "delete" {
			action = models.ExpiryDelete
		}
		b.applyExpiry(d, d.CreatedAt.Add(time.Duration(req.ExpiresIn)*time.Second), action)
	}

	if err := validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (b *Builder) localPoll(req *LocalPoll) (*PollDraft, error) {
	if len(req.Options) < 2 || len(req.Options) > MaxPollOptions {
		return nil, invalid("poll needs 2 to %d options", MaxPollOptions)
	}
	seen := make(map[string]bool, len(req.Options))
	for _, opt := range req.Options {
		if strings.TrimSpace(opt) == "" || seen[opt] {
			return nil, invalid("poll options must be distinct and non-empty")
		}
		seen[opt] = true
	}
	expiresIn := time.Duration(req.ExpiresIn) * time.Second
	if expiresIn < MinPollExpiresIn || expiresIn > MaxPollExpiresIn {
		return nil, invalid("poll expiry must be between %s and %s", MinPollExpiresIn, MaxPollExpiresIn)
	}
	at := b.now().UTC().Add(expiresIn)
	return &PollDraft{
		Options:   append([]string(nil), req.Options...),
		Tallies:   make([]int64, len(req.Options)),
		Multiple:  req.Multiple,
		ExpiresAt: &at,
	}, nil
}
