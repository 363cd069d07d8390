package models

import "strings"

// Visibility is a privacy level shared by post visibility and searchability.
// Values are ordered from most open to most restrictive.
type Visibility int16

const (
	VisibilityPublic   Visibility = 0
	VisibilityUnlisted Visibility = 1
	VisibilityPrivate  Visibility = 2
	VisibilityMutual   Visibility = 3
	VisibilityLimited  Visibility = 4
	VisibilityDirect   Visibility = 5
)

var visibilityNames = map[Visibility]string{
	VisibilityPublic:   "public",
	VisibilityUnlisted: "unlisted",
	VisibilityPrivate:  "private",
	VisibilityMutual:   "mutual",
	VisibilityLimited:  "limited",
	VisibilityDirect:   "direct",
}

func (v Visibility) String() string {
	if name, ok := visibilityNames[v]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether v is one of the known levels
func (v Visibility) Valid() bool {
	_, ok := visibilityNames[v]
	return ok
}

// ParseVisibility maps a name to its level
func ParseVisibility(name string) (Visibility, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for v, n := range visibilityNames {
		if n == name {
			return v, true
		}
	}
	return VisibilityPublic, false
}

// MostRestrictive returns the more restrictive of the given levels
func MostRestrictive(levels ...Visibility) Visibility {
	out := VisibilityPublic
	for _, v := range levels {
		if v > out {
			out = v
		}
	}
	return out
}

// ExpiryAction is what happens to a post when its expiration time passes
type ExpiryAction int16

const (
	ExpiryNone   ExpiryAction = 0
	ExpiryMark   ExpiryAction = 1
	ExpiryDelete ExpiryAction = 2
)

func (a ExpiryAction) String() string {
	switch a {
	case ExpiryMark:
		return "mark"
	case ExpiryDelete:
		return "delete"
	default:
		return "none"
	}
}
