package audience

import (
	"sort"
	"strconv"
)

// Class tags a destination with the rule that selected it
type Class string

const (
	ClassHome         Class = "home"
	ClassList         Class = "list"
	ClassPublic       Class = "public"
	ClassPublicLocal  Class = "public-local"
	ClassPublicRemote Class = "public-remote"
	ClassMedia        Class = "media-filtered"
	ClassHashtag      Class = "hashtag"
	ClassGroup        Class = "group"
	ClassDomain       Class = "domain"
	ClassKeyword      Class = "keyword-subscriber"
	ClassSearch       Class = "search-index"
)

// Destination is one fan-out target. Durable destinations name a home
// feed (AccountID) or a list feed (ListID); ephemeral ones name a Channel.
type Destination struct {
	Class     Class
	AccountID int64
	ListID    int64
	Channel   string
}

// Home is the durable home feed of accountID
func Home(class Class, accountID int64) Destination {
	return Destination{Class: class, AccountID: accountID}
}

// List is the durable feed of listID
func List(class Class, listID int64) Destination {
	return Destination{Class: class, ListID: listID}
}

// Durable reports whether d is a feed rather than a channel or the index
func (d Destination) Durable() bool {
	return d.Channel == "" && d.Class != ClassSearch
}

// Ephemeral reports whether d is a broadcast channel
func (d Destination) Ephemeral() bool {
	return d.Channel != ""
}

// FeedKey is the durable queue key of d
func (d Destination) FeedKey() string {
	if d.ListID != 0 {
		return "feed:list:" + strconv.FormatInt(d.ListID, 10)
	}
	return "feed:home:" + strconv.FormatInt(d.AccountID, 10)
}

// StreamChannel is the live channel that mirrors a durable feed
func (d Destination) StreamChannel() string {
	if d.ListID != 0 {
		return "timeline:list:" + strconv.FormatInt(d.ListID, 10)
	}
	return "timeline:" + strconv.FormatInt(d.AccountID, 10)
}

func (d Destination) key() string {
	switch {
	case d.Channel != "":
		return "channel:" + d.Channel
	case d.Class == ClassSearch:
		return "search"
	default:
		return d.FeedKey()
	}
}

// Expansion is a durable destination group too large to materialize; the
// dispatcher pulls its members from storage in batches
type Expansion struct {
	Class Class // ClassHome for followers, ClassList for lists
	// Mutual restricts members to accounts the author follows back
	Mutual bool
}

// Set is the deduplicated outcome of classification
type Set struct {
	index        map[string]int
	destinations []Destination
	expansions   []Expansion
}

// NewSet returns an empty set
func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add inserts d unless the same target is already present; the first
// class to select a target is kept
func (s *Set) Add(d Destination) {
	k := d.key()
	if _, ok := s.index[k]; ok {
		return
	}
	s.index[k] = len(s.destinations)
	s.destinations = append(s.destinations, d)
}

// Expand records a batched expansion
func (s *Set) Expand(e Expansion) {
	for _, existing := range s.expansions {
		if existing == e {
			return
		}
	}
	s.expansions = append(s.expansions, e)
}

// Contains reports whether the set has a destination for the same target as d
func (s *Set) Contains(d Destination) bool {
	_, ok := s.index[d.key()]
	return ok
}

// Destinations returns the explicit destinations in insertion order
func (s *Set) Destinations() []Destination {
	return s.destinations
}

// Expansions returns the batched expansions
func (s *Set) Expansions() []Expansion {
	return s.expansions
}

// Durable returns the explicit durable destinations
func (s *Set) Durable() []Destination {
	return s.filter(Destination.Durable)
}

// Ephemeral returns the broadcast channels
func (s *Set) Ephemeral() []Destination {
	return s.filter(Destination.Ephemeral)
}

// Has reports whether any destination or expansion carries class
func (s *Set) Has(class Class) bool {
	for _, d := range s.destinations {
		if d.Class == class {
			return true
		}
	}
	for _, e := range s.expansions {
		if e.Class == class {
			return true
		}
	}
	return false
}

// Classes returns the distinct classes present, sorted
func (s *Set) Classes() []Class {
	seen := make(map[Class]bool)
	for _, d := range s.destinations {
		seen[d.Class] = true
	}
	for _, e := range s.expansions {
		seen[e.Class] = true
	}
	out := make([]Class, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Channels returns the broadcast channel names
func (s *Set) Channels() []string {
	var out []string
	for _, d := range s.destinations {
		if d.Channel != "" {
			out = append(out, d.Channel)
		}
	}
	return out
}

func (s *Set) filter(keep func(Destination) bool) []Destination {
	var out []Destination
	for _, d := range s.destinations {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
