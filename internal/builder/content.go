package builder

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fedibird/fedimind/internal/activity"
)

// selectContent prefers content, then the language map, then the title
func selectContent(o *activity.Object) string {
	if o.Content != "" {
		return o.Content
	}
	if len(o.ContentMap) > 0 {
		langs := make([]string, 0, len(o.ContentMap))
		for lang := range o.ContentMap {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			if c := o.ContentMap[lang]; c != "" {
				return c
			}
		}
	}
	return o.Name
}

// contentLanguage returns the single language of a one-entry content map
func contentLanguage(o *activity.Object) string {
	if len(o.ContentMap) != 1 {
		return ""
	}
	for lang := range o.ContentMap {
		return lang
	}
	return ""
}

// scanned is the plain text and outbound links of an HTML fragment
type scanned struct {
	Text  string
	Links []string
}

// scanHTML extracts text and hyperlinks, skipping mention and hashtag microformat links
func scanHTML(fragment string) scanned {
	var out scanned
	var text strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			out.Text = strings.TrimSpace(text.String())
			return out
		case html.TextToken:
			text.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Br:
				text.WriteByte('\n')
			case atom.A:
				if href, ok := linkTarget(tok); ok {
					out.Links = append(out.Links, href)
				}
			}
		case html.EndTagToken:
			if tok := z.Token(); tok.DataAtom == atom.P {
				text.WriteString("\n\n")
			}
		}
	}
}

func linkTarget(tok html.Token) (string, bool) {
	var href, class, rel string
	for _, a := range tok.Attr {
		switch a.Key {
		case "href":
			href = a.Val
		case "class":
			class = a.Val
		case "rel":
			rel = a.Val
		}
	}
	if href == "" || isMicroformat(class, rel) {
		return "", false
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return "", false
	}
	return href, true
}

func isMicroformat(class, rel string) bool {
	for _, c := range strings.Fields(class) {
		if c == "mention" || c == "hashtag" || c == "u-url" {
			return true
		}
	}
	for _, r := range strings.Fields(rel) {
		if r == "tag" {
			return true
		}
	}
	return false
}

// PlainText returns the text content of an HTML fragment
func PlainText(fragment string) string {
	return scanHTML(fragment).Text
}

// inlineQuote matches "QT: <url>" or "RE: <url>", optionally bracketed
var inlineQuote = regexp.MustCompile(`(?:^|\s)(?:QT|RE):\s*\[?(https?://[^\s\]<>"]+)\]?`)

// inlineQuoteTarget returns the URL named by an inline quote marker in text
func inlineQuoteTarget(text string) string {
	m := inlineQuote.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

var (
	localMention = regexp.MustCompile(`(?:^|[^\w@/])@([A-Za-z0-9_]+(?:@[A-Za-z0-9.\-]+[A-Za-z0-9])?)`)
	localHashtag = regexp.MustCompile(`(?:^|[^\w/#&])#([\p{L}\p{N}_\p{Mn}]+)`)
	localLink    = regexp.MustCompile(`https?://[^\s<>"]+`)
)

// extractAccts returns the distinct acct strings mentioned in plain text
func extractAccts(text string) []string {
	return distinctSubmatches(localMention, text)
}

// extractHashtags returns the distinct hashtag names in plain text
func extractHashtags(text string) []string {
	return distinctSubmatches(localHashtag, text)
}

// extractLinks returns the distinct http(s) URLs in plain text
func extractLinks(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range localLink.FindAllString(text, -1) {
		l = strings.TrimRight(l, ".,;:!?)")
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func distinctSubmatches(re *regexp.Regexp, text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		if !seen[key] {
			seen[key] = true
			out = append(out, m[1])
		}
	}
	return out
}
