// Package feed stores the durable home and list feeds.
package feed

import (
	"context"
	"fmt"
	"strconv"
)

// Entry places one status in one feed
type Entry struct {
	StatusID int64
	Key      string
	Class    string
}

// Queue is an ordered, deduplicated set of status ids per feed key.
// Entries are ordered by status id, not by insertion time, and adding the
// same (status, key) twice keeps one entry.
type Queue interface {
	Enqueue(ctx context.Context, entries []Entry) error
	// Range returns up to n status ids of key, newest first
	Range(ctx context.Context, key string, n int) ([]int64, error)
	Remove(ctx context.Context, key string, statusID int64) error
}

// member encodes id so lexical order equals numeric order for non-negative ids
func member(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func parseMember(m string) (int64, error) {
	return strconv.ParseInt(m, 10, 64)
}
