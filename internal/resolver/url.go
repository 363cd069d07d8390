package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidURL is returned for references that are not absolute http(s) URLs
var ErrInvalidURL = errors.New("invalid reference url")

// Normalize canonicalizes a URL for cache keys and lookups: scheme and host
// lowercased, default ports and fragments dropped, trailing slash trimmed.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}

	u.Scheme = scheme
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), nil
}

type routeKind int

const (
	routeStatus routeKind = iota
	routeAccount
)

type route struct {
	kind routeKind
	re   *regexp.Regexp
}

// routes map local URL paths to records; the last capture group is the key
var routes = []route{
	{routeStatus, regexp.MustCompile(`^/users/([A-Za-z0-9_]+)/statuses/(\d+)(?:/activity)?$`)},
	{routeStatus, regexp.MustCompile(`^/@([A-Za-z0-9_]+)/(\d+)$`)},
	{routeAccount, regexp.MustCompile(`^/users/([A-Za-z0-9_]+)$`)},
	{routeAccount, regexp.MustCompile(`^/@([A-Za-z0-9_]+)$`)},
}

type localTarget struct {
	kind     routeKind
	statusID int64
	username string
}

// matchLocal resolves the path of a normalized local URL
func matchLocal(normalized string) (localTarget, bool) {
	u, err := url.Parse(normalized)
	if err != nil {
		return localTarget{}, false
	}
	for _, r := range routes {
		m := r.re.FindStringSubmatch(u.Path)
		if m == nil {
			continue
		}
		switch r.kind {
		case routeStatus:
			id, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return localTarget{}, false
			}
			return localTarget{kind: routeStatus, statusID: id, username: m[1]}, true
		case routeAccount:
			return localTarget{kind: routeAccount, username: m[1]}, true
		}
	}
	return localTarget{}, false
}

// AccountURI returns the canonical URI of a local account
func AccountURI(domain, username string) string {
	return "https://" + domain + "/users/" + username
}

// StatusURI returns the canonical URI of a local status
func StatusURI(domain, username string, id int64) string {
	return AccountURI(domain, username) + "/statuses/" + strconv.FormatInt(id, 10)
}

// StatusURL returns the human-facing URL of a local status
func StatusURL(domain, username string, id int64) string {
	return "https://" + domain + "/@" + username + "/" + strconv.FormatInt(id, 10)
}
