// Package extractor pulls platform identifiers out of normalized URLs.
package extractor

import (
	"net/url"
	"regexp"
)

var (
	idPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/video/(\d+)`),
		regexp.MustCompile(`video_id=(\d+)`),
		regexp.MustCompile(`item_id=(\d+)`),
		regexp.MustCompile(`aweme_id=(\d+)`),
		regexp.MustCompile(`modal_id=(\d+)`),
	}

	idParams = []string{"video_id", "item_id", "aweme_id"}

	userPattern = regexp.MustCompile(`/user/([^/?#]+)`)
)

// ResourceID returns the resource identifier carried by u.
// The path segment of an unresolved short link is not an identifier, so such links yield false.
func ResourceID(u string) (string, bool) {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(u); m != nil {
			return m[1], true
		}
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return "", false
	}

	q := parsed.Query()
	for _, p := range idParams {
		if v := q.Get(p); v != "" {
			return v, true
		}
	}

	return "", false
}

// UserID returns the sec_user_id of a profile URL.
func UserID(u string) (string, bool) {
	m := userPattern.FindStringSubmatch(u)
	if m == nil {
		return "", false
	}

	return m[1], true
}
