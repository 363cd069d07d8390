package builder

import (
	"strings"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/resolver"
)

// addressing is the audience an activity declares
type addressing struct {
	To           activity.RefList
	Cc           activity.RefList
	LimitedScope string
}

func (a addressing) all() []string {
	out := make([]string, 0, len(a.To)+len(a.Cc))
	out = append(out, a.To...)
	return append(out, a.Cc...)
}

func (a addressing) has(match func(string) bool) bool {
	return a.To.Contains(match) || a.Cc.Contains(match)
}

// isFollowersOf reports whether addr is the followers collection of author
func isFollowersOf(addr string, author *models.Account) bool {
	if author.FollowersURL != "" {
		return addr == author.FollowersURL
	}
	return strings.HasSuffix(addr, "/followers") && activity.SameOrigin(addr, author.URI)
}

// visibilityFrom derives visibility from the declared audience. Addressees
// beyond the mentioned accounts make a non-follower post limited.
func visibilityFrom(a addressing, author *models.Account, mentioned map[string]bool) models.Visibility {
	switch {
	case a.To.Contains(activity.IsPublic):
		return models.VisibilityPublic
	case a.Cc.Contains(activity.IsPublic):
		return models.VisibilityUnlisted
	case strings.EqualFold(a.LimitedScope, "mutual"):
		return models.VisibilityMutual
	case a.has(func(s string) bool { return isFollowersOf(s, author) }):
		return models.VisibilityPrivate
	case a.LimitedScope != "":
		return models.VisibilityLimited
	}
	for _, addr := range a.all() {
		if !mentioned[addr] {
			return models.VisibilityLimited
		}
	}
	return models.VisibilityDirect
}

// restrictVisibility applies operator restrictions on the author
func restrictVisibility(v models.Visibility, author *models.Account) models.Visibility {
	switch {
	case author.Limited && v <= models.VisibilityUnlisted:
		return models.VisibilityPrivate
	case author.Silenced && v == models.VisibilityPublic:
		return models.VisibilityUnlisted
	}
	return v
}

// searchabilityFor returns the declared or default searchability, never
// more open than visibility
func searchabilityFor(declared *activity.RefList, author *models.Account, visibility models.Visibility) models.Visibility {
	s := author.DefaultSearchability
	if declared != nil {
		s = resolver.SearchabilityFrom(*declared, author.FollowersURL)
	}
	return models.MostRestrictive(s, visibility)
}

// quotable reports whether a status may be quoted
func quotable(s *models.Status) bool {
	return s.Visibility <= models.VisibilityUnlisted
}

// rebloggable reports whether by may reblog s
func rebloggable(s *models.Status, by *models.Account) bool {
	return s.Visibility <= models.VisibilityUnlisted || s.AccountID == by.ID
}
