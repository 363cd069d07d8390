// Package builder computes the attributes of a new status from an inbound
// note or a local publish request.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// MaxMedia is the most attachments a status keeps
const MaxMedia = 4

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid status")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Resolver is the reference resolution the builder consults
type Resolver interface {
	ResolveAccount(ctx context.Context, uri string) (*models.Account, error)
	ResolveStatus(ctx context.Context, url string) (*models.Status, error)
	AccountByAcct(ctx context.Context, acct string) (*models.Account, error)
	IsLocal(url string) bool
}

// Store provides local records by id
type Store interface {
	StatusByID(ctx context.Context, id int64) (*models.Status, error)
}

// Draft is a fully resolved status that has not been assigned ids yet
type Draft struct {
	URI         string
	URL         string
	Author      *models.Account
	Local       bool
	Text        string
	PlainText   string
	SpoilerText string
	Language    string
	Sensitive   bool
	CreatedAt   time.Time

	Visibility    models.Visibility
	Searchability models.Visibility

	Parent          *models.Status
	ParentURI       string
	ReblogOf        *models.Status
	Quote           *models.Status
	QuoteURI        string
	ConversationURI string

	// Mentions notify; Addressed only widen the audience of limited posts
	Mentions  []*models.Account
	Addressed []*models.Account
	Tags      []models.Tag
	Media     []MediaDraft
	Poll      *PollDraft

	// References holds every candidate reference URL, Links the
	// non-microformat links of the content in order
	References []string
	Links      []string

	ExpiresAt        *time.Time
	ExpiryAction     models.ExpiryAction
	ExpiredOnArrival bool
}

// MediaDraft is an attachment placeholder
type MediaDraft struct {
	URL         string
	Type        string
	ContentType string
	Description string
}

// PollDraft is an embedded poll
type PollDraft struct {
	Options     []string
	Tallies     []int64
	Multiple    bool
	VotersCount int64
	ExpiresAt   *time.Time
}

// NeedsThread reports whether the reply parent still has to be fetched
func (d *Draft) NeedsThread() bool {
	return d.ParentURI != "" && d.Parent == nil
}

// Builder prepares drafts. Prepare may touch the network and must be
// called outside the dedup lock; Build is pure.
type Builder struct {
	resolver Resolver
	store    Store
	domain   string
	grace    time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a builder for the instance at domain. Expirations at or
// before now+grace are treated as already passed.
func New(r Resolver, store Store, domain string, grace time.Duration) *Builder {
	return &Builder{
		resolver: r,
		store:    store,
		domain:   domain,
		grace:    grace,
		now:      time.Now,
		logger:   logging.WithComponent("builder"),
	}
}

// Prepare resolves every relationship of a remote note authored by author
func (b *Builder) Prepare(ctx context.Context, note *activity.Object, author *models.Account, env activity.Envelope) (*Draft, error) {
	ctx, span := telemetry.StartSpan(ctx, "builder.Prepare")
	defer span.End()

	content := selectContent(note)
	scan := scanHTML(content)

	d := &Draft{
		URI:             note.ID,
		URL:             string(note.URL),
		Author:          author,
		Text:            content,
		PlainText:       scan.Text,
		SpoilerText:     note.Summary,
		Language:        contentLanguage(note),
		Sensitive:       note.Sensitive,
		CreatedAt:       b.now().UTC(),
		ConversationURI: note.ConversationURI(),
		ExpiryAction:    models.ExpiryNone,
	}
	if note.Published != nil && !note.Published.After(d.CreatedAt) {
		d.CreatedAt = note.Published.UTC()
	}
	if note.Type == "Question" && note.Content == "" && len(note.ContentMap) == 0 {
		// the question title doubles as its text
		d.PlainText = strings.TrimSpace(note.Name)
	}

	aud := addressing{To: note.To, Cc: note.Cc, LimitedScope: note.LimitedScope}
	if len(aud.To) == 0 && len(aud.Cc) == 0 {
		aud.To, aud.Cc = env.To, env.Cc
	}

	mentionHrefs := b.prepareMentions(ctx, d, note)
	d.Visibility = restrictVisibility(visibilityFrom(aud, author, mentionHrefs), author)
	d.Searchability = searchabilityFor(note.SearchableBy, author, d.Visibility)
	b.prepareAddressed(ctx, d, aud, mentionHrefs)

	if note.InReplyTo != "" {
		d.ParentURI = string(note.InReplyTo)
		parent, err := b.resolver.ResolveStatus(ctx, d.ParentURI)
		if err != nil {
			b.logger.Debug("Reply parent not resolved", zap.String("uri", d.ParentURI), zap.Error(err))
		}
		d.Parent = parent
	}

	quoteURI := note.QuoteTarget()
	if quoteURI == "" {
		quoteURI = inlineQuoteTarget(scan.Text)
	}
	if err := b.prepareQuote(ctx, d, quoteURI); err != nil {
		return nil, err
	}

	for _, tag := range note.Tag {
		if tag.Type == "Hashtag" {
			d.addTag(tag.Name)
		}
	}

	for _, att := range note.Attachment {
		if len(d.Media) == MaxMedia {
			break
		}
		if att.URL == "" {
			continue
		}
		d.Media = append(d.Media, MediaDraft{
			URL:         string(att.URL),
			Type:        mediaType(att.MediaType, att.Type),
			ContentType: att.MediaType,
			Description: att.Name,
		})
	}

	if note.IsQuestion() {
		d.Poll = pollFrom(note)
	}

	d.Links = scan.Links
	d.References = collectReferences(scan.Links, note.References, d.QuoteURI, d.Quote)

	if note.Expiry != nil {
		b.applyExpiry(d, note.Expiry.UTC(), models.ExpiryMark)
	}

	if err := validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// prepareMentions resolves mention tags and returns the set of their hrefs
func (b *Builder) prepareMentions(ctx context.Context, d *Draft, note *activity.Object) map[string]bool {
	hrefs := make(map[string]bool)
	seen := make(map[int64]bool)
	for _, tag := range note.Tag {
		if tag.Type != "Mention" || tag.Href == "" {
			continue
		}
		hrefs[tag.Href] = true
		account, err := b.resolver.ResolveAccount(ctx, tag.Href)
		if err != nil || account == nil {
			b.logger.Debug("Skipping unresolved mention", zap.String("href", tag.Href), zap.Error(err))
			continue
		}
		hrefs[account.URI] = true
		if !seen[account.ID] {
			seen[account.ID] = true
			d.Mentions = append(d.Mentions, account)
		}
	}
	return hrefs
}

// prepareAddressed records local addressees that are not mentioned, which
// only matters for posts restricted to their addressees
func (b *Builder) prepareAddressed(ctx context.Context, d *Draft, aud addressing, mentioned map[string]bool) {
	if d.Visibility < models.VisibilityLimited {
		return
	}
	for _, addr := range aud.all() {
		if mentioned[addr] || !b.resolver.IsLocal(addr) {
			continue
		}
		account, err := b.resolver.ResolveAccount(ctx, addr)
		if err != nil || account == nil || account.ID == d.Author.ID {
			continue
		}
		d.Addressed = append(d.Addressed, account)
	}
}

// prepareQuote resolves the quote target, unwraps reblogs and enforces
// the quote rules shared by remote and local posts
func (b *Builder) prepareQuote(ctx context.Context, d *Draft, uri string) error {
	if uri == "" {
		return nil
	}
	d.QuoteURI = uri
	quote, err := b.resolver.ResolveStatus(ctx, uri)
	if err != nil {
		b.logger.Debug("Quote not resolved", zap.String("uri", uri), zap.Error(err))
		return nil
	}
	return b.attachQuote(ctx, d, quote)
}

func (b *Builder) attachQuote(ctx context.Context, d *Draft, quote *models.Status) error {
	if quote == nil {
		return nil
	}
	if quote.ReblogOfID != nil {
		original, err := b.store.StatusByID(ctx, *quote.ReblogOfID)
		if err != nil {
			return err
		}
		if original == nil {
			return invalid("quoted reblog %d has no original", quote.ID)
		}
		quote = original
	}

	// replying to a poll is answering it, not quoting it
	if d.Parent != nil && d.Parent.ID == quote.ID && quote.PollID != nil {
		d.QuoteURI = ""
		return nil
	}

	if !quotable(quote) {
		return invalid("quoted status %d is %s", quote.ID, quote.Visibility)
	}
	d.Quote = quote
	d.QuoteURI = quote.URI

	if !mentionedInText(d.Text, quote.AccountID, d.Mentions) {
		d.Mentions = dropAccount(d.Mentions, quote.AccountID)
	}
	return nil
}

// mentionedInText reports whether the account with id is linked from text
func mentionedInText(text string, id int64, mentions []*models.Account) bool {
	for _, m := range mentions {
		if m.ID != id {
			continue
		}
		if (m.URI != "" && strings.Contains(text, m.URI)) || (m.URL != "" && strings.Contains(text, m.URL)) {
			return true
		}
		if m.Local() && strings.Contains(text, "@"+m.Username) {
			return true
		}
	}
	return false
}

func dropAccount(accounts []*models.Account, id int64) []*models.Account {
	out := accounts[:0]
	for _, a := range accounts {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

func (d *Draft) addTag(name string) {
	norm := models.NormalizeTag(name)
	if norm == "" {
		return
	}
	for _, t := range d.Tags {
		if t.Name == norm {
			return
		}
	}
	d.Tags = append(d.Tags, models.Tag{Name: norm, DisplayName: strings.TrimPrefix(strings.TrimSpace(name), "#")})
}

func (b *Builder) applyExpiry(d *Draft, at time.Time, action models.ExpiryAction) {
	d.ExpiresAt = &at
	d.ExpiryAction = action
	d.ExpiredOnArrival = !at.After(b.now().Add(b.grace))
}

func mediaType(contentType, objectType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/gif"):
		return "gifv"
	case strings.HasPrefix(contentType, "image/"), objectType == "Image":
		return "image"
	case strings.HasPrefix(contentType, "video/"), objectType == "Video":
		return "video"
	case strings.HasPrefix(contentType, "audio/"), objectType == "Audio":
		return "audio"
	default:
		return "unknown"
	}
}

func pollFrom(note *activity.Object) *PollDraft {
	options, multiple := note.OneOf, false
	if len(options) == 0 {
		options, multiple = note.AnyOf, true
	}
	p := &PollDraft{Multiple: multiple}
	var total int64
	for _, opt := range options {
		p.Options = append(p.Options, opt.Name)
		p.Tallies = append(p.Tallies, opt.Replies.TotalItems)
		total += opt.Replies.TotalItems
	}
	switch {
	case note.VotersCount != nil:
		p.VotersCount = *note.VotersCount
	case !multiple:
		p.VotersCount = total
	}
	switch {
	case note.EndTime != nil:
		t := note.EndTime.UTC()
		p.ExpiresAt = &t
	case note.Closed != nil:
		t := note.Closed.UTC()
		p.ExpiresAt = &t
	}
	return p
}

func collectReferences(links []string, declared []string, quoteURI string, quote *models.Status) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, l := range links {
		add(l)
	}
	for _, r := range declared {
		add(r)
	}
	if quote == nil {
		add(quoteURI)
	}
	return out
}

// validate enforces the invariants every draft must satisfy
func validate(d *Draft) error {
	if d.ReblogOf != nil {
		if d.Visibility == models.VisibilityDirect {
			return invalid("reblog cannot be direct")
		}
		return nil
	}
	if strings.TrimSpace(d.PlainText) == "" && len(d.Media) == 0 && d.Poll == nil {
		return invalid("status has no text, media or poll")
	}
	if d.Poll != nil && len(d.Poll.Options) < 1 {
		return invalid("poll has no options")
	}
	if d.Quote != nil && !quotable(d.Quote) {
		return invalid("quoted status %d is %s", d.Quote.ID, d.Quote.Visibility)
	}
	if d.Searchability < d.Visibility {
		d.Searchability = d.Visibility
	}
	return nil
}
