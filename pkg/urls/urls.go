// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// IsURLValid checks if the given URL is an absolute http(s) URL.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// FixURL prepends https scheme to URL.
// Example: www.douyin.com/video/1 => https://www.douyin.com/video/1
func FixURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return schemeHTTPS + ":" + raw
	}

	if !strings.Contains(raw, "://") {
		return schemeHTTPS + "://" + raw
	}

	return raw
}

// StripQuery keeps scheme, host and path.
func StripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	return u.Scheme + "://" + u.Host + u.Path
}

// UpgradeHTTPS rewrites a plain http URL to https.
func UpgradeHTTPS(raw string) string {
	if rest, ok := strings.CutPrefix(raw, schemeHTTP+"://"); ok {
		return schemeHTTPS + "://" + rest
	}

	return raw
}

// ContainsAny reports whether the lowercased URL contains any fragment.
func ContainsAny(raw string, fragments ...string) bool {
	lower := strings.ToLower(raw)
	for _, f := range fragments {
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}

	return false
}
