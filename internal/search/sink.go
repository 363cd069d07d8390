// Package search writes the indexable fields of local public-searchable
// statuses to a write-behind index.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/models"
)

// Document is the indexable projection of one status
type Document struct {
	ID            int64     `json:"id,string"`
	URI           string    `json:"uri"`
	AccountID     int64     `json:"account_id,string"`
	Text          string    `json:"text"`
	SpoilerText   string    `json:"spoiler_text,omitempty"`
	Language      string    `json:"language,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Searchability string    `json:"searchability"`
	CreatedAt     time.Time `json:"created_at"`
	Deleted       bool      `json:"deleted,omitempty"`
}

// NewDocument builds the document for status. The text is stripped of markup.
func NewDocument(status *models.Status, tags []*models.Tag) Document {
	doc := Document{
		ID:            status.ID,
		URI:           status.URI,
		AccountID:     status.AccountID,
		Text:          builder.PlainText(status.Text),
		SpoilerText:   status.SpoilerText,
		Language:      status.Language,
		Searchability: status.Searchability.String(),
		CreatedAt:     status.CreatedAt,
	}
	for _, t := range tags {
		doc.Tags = append(doc.Tags, t.Name)
	}
	return doc
}

// Tombstone is the document that removes id from the index
func Tombstone(id int64) Document {
	return Document{ID: id, Deleted: true}
}

// Sink receives index writes
type Sink interface {
	Index(ctx context.Context, doc Document) error
}

// NopSink discards every document
type NopSink struct{}

func (NopSink) Index(ctx context.Context, doc Document) error { return nil }

// MemorySink records documents in arrival order
type MemorySink struct {
	mu   sync.Mutex
	docs []Document
}

func (s *MemorySink) Index(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return nil
}

// Documents returns a copy of the recorded documents
func (s *MemorySink) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document(nil), s.docs...)
}
