package audience

import (
	"regexp"
	"strings"

	"github.com/fedibird/fedimind/internal/models"
)

// keywordMatcher is the compiled filter of one keyword subscription
type keywordMatcher struct {
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// compileKeywords builds a matcher for sub; ok is false when the
// subscription has no usable pattern
func compileKeywords(sub *models.KeywordSubscription) (keywordMatcher, bool) {
	var m keywordMatcher
	if sub.Regexp {
		re, err := regexp.Compile("(?i)" + sub.Keyword)
		if err != nil || sub.Keyword == "" {
			return m, false
		}
		m.include = re
	} else {
		m.include = termPattern(sub.Keywords())
		if m.include == nil {
			return m, false
		}
	}
	m.exclude = termPattern(sub.Excludes())
	return m, true
}

// termPattern matches any of terms case-insensitively. Terms that begin
// and end with a word character must match on word boundaries.
func termPattern(terms []string) *regexp.Regexp {
	if len(terms) == 0 {
		return nil
	}
	alts := make([]string, len(terms))
	for i, t := range terms {
		alts[i] = regexp.QuoteMeta(t)
		if isWordByte(t[0]) && isWordByte(t[len(t)-1]) {
			alts[i] = `\b` + alts[i] + `\b`
		}
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func (m keywordMatcher) match(text string) bool {
	if !m.include.MatchString(text) {
		return false
	}
	return m.exclude == nil || !m.exclude.MatchString(text)
}
