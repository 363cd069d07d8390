// Package audience computes where a status is delivered. Classification
// is pure: everything it needs is passed in.
package audience

import (
	"strconv"
	"strings"

	"github.com/fedibird/fedimind/internal/models"
)

// Input is everything classification reads about a status
type Input struct {
	Status *models.Status
	Author *models.Account
	// Original is the reblogged status when Status is a reblog
	Original *models.Status
	Tags     []*models.Tag
	// Recipients are the local accounts mentioned or addressed, silent included
	Recipients []int64
	// Text is the indexable plain text matched by keyword subscriptions
	Text string

	TagFollows           []models.TagFollow
	DomainSubscriptions  []models.DomainSubscription
	KeywordSubscriptions []models.KeywordSubscription
}

func isReblog(in *Input) bool { return in.Status.ReblogOfID != nil }

// directed posts reach only their addressees
func directed(in *Input) bool { return in.Status.Visibility >= models.VisibilityLimited }

func mutualOnly(in *Input) bool { return in.Status.Visibility == models.VisibilityMutual }

func publiclyListed(in *Input) bool {
	return in.Status.Visibility == models.VisibilityPublic && !in.Author.Silenced
}

func hasMedia(in *Input) bool {
	if isReblog(in) && in.Original != nil {
		return in.Original.HasMedia()
	}
	return in.Status.HasMedia()
}

// indexable posts are written to the search index
func indexable(in *Input) bool {
	return in.Author.Local() && !isReblog(in) && in.Status.Searchability == models.VisibilityPublic
}

// groupEligible posts are pure reblogs or originals by a group actor
func groupEligible(in *Input) bool {
	return in.Author.Group && (isReblog(in) || !in.Status.IsReply())
}

// Classify returns the destinations of a status
func Classify(in Input) *Set {
	set := NewSet()
	if in.Author.Local() {
		set.Add(Home(ClassHome, in.Author.ID))
	}

	if directed(&in) {
		for _, id := range in.Recipients {
			set.Add(Home(ClassHome, id))
		}
		return set
	}

	set.Expand(Expansion{Class: ClassHome, Mutual: mutualOnly(&in)})
	set.Expand(Expansion{Class: ClassList, Mutual: mutualOnly(&in)})

	if !publiclyListed(&in) {
		return set
	}

	addPublicChannels(set, &in)
	addDomainSubscribers(set, &in)
	if groupEligible(&in) {
		addGroupChannels(set, &in)
	}
	if isReblog(&in) {
		return set
	}
	addHashtags(set, &in)
	addKeywordSubscribers(set, &in)
	if indexable(&in) {
		set.Add(Destination{Class: ClassSearch})
	}
	return set
}

type channelBase struct {
	name  string
	class Class
}

func addPublicChannels(set *Set, in *Input) {
	bases := []channelBase{{"timeline:public", ClassPublic}}
	if in.Author.Local() {
		bases = append(bases, channelBase{"timeline:public:local", ClassPublicLocal})
	} else {
		bases = append(bases,
			channelBase{"timeline:public:remote", ClassPublicRemote},
			channelBase{"timeline:public:domain:" + strings.ToLower(in.Author.Domain), ClassPublicRemote},
		)
	}

	botSuffix := ":nobot"
	if in.Author.Bot {
		botSuffix = ":bot"
	}
	mediaSuffix := ":nomedia"
	if hasMedia(in) {
		mediaSuffix = ":media"
	}

	for _, base := range bases {
		for _, bot := range []string{"", botSuffix} {
			for _, media := range []string{"", mediaSuffix} {
				class := base.class
				if media != "" {
					class = ClassMedia
				}
				set.Add(Destination{Class: class, Channel: base.name + bot + media})
			}
		}
	}
}

func addGroupChannels(set *Set, in *Input) {
	base := "timeline:group:" + strconv.FormatInt(in.Author.ID, 10)
	set.Add(Destination{Class: ClassGroup, Channel: base})
	if hasMedia(in) {
		set.Add(Destination{Class: ClassGroup, Channel: base + ":media"})
	} else {
		set.Add(Destination{Class: ClassGroup, Channel: base + ":nomedia"})
	}
}

func addHashtags(set *Set, in *Input) {
	tagIDs := make(map[int64]bool, len(in.Tags))
	for _, tag := range in.Tags {
		tagIDs[tag.ID] = true
		set.Add(Destination{Class: ClassHashtag, Channel: "hashtag:" + tag.Name})
		if in.Author.Local() {
			set.Add(Destination{Class: ClassHashtag, Channel: "hashtag:" + tag.Name + ":local"})
		}
	}
	for _, f := range in.TagFollows {
		if tagIDs[f.TagID] {
			set.Add(subscriber(ClassHashtag, f.AccountID, f.ListID))
		}
	}
}

func addDomainSubscribers(set *Set, in *Input) {
	for _, sub := range in.DomainSubscriptions {
		if sub.ExcludeReblog && isReblog(in) {
			continue
		}
		set.Add(subscriber(ClassDomain, sub.AccountID, sub.ListID))
	}
}

func addKeywordSubscribers(set *Set, in *Input) {
	if in.Text == "" {
		return
	}
	for i := range in.KeywordSubscriptions {
		sub := &in.KeywordSubscriptions[i]
		if sub.Disabled {
			continue
		}
		m, ok := compileKeywords(sub)
		if ok && m.match(in.Text) {
			set.Add(subscriber(ClassKeyword, sub.AccountID, sub.ListID))
		}
	}
}

func subscriber(class Class, accountID int64, listID *int64) Destination {
	if listID != nil {
		return List(class, *listID)
	}
	return Home(class, accountID)
}
