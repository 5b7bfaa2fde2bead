package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/pkg/urls"
)

const (
	minScanURLLen      = consts.MinScanURLLen
	minCandidateURLLen = consts.MinCandidateURLLen
)

var (
	renderDataRe = regexp.MustCompile(`(?s)<script[^>]*id="RENDER_DATA"[^>]*>(.+?)</script>`)
	windowDataRe = regexp.MustCompile(
		`(?s)window\.(?:_UNIVERSAL_DATA|_SSR_HYDRATED_DATA|__INITIAL_STATE__)\s*=\s*(\{.+?\})\s*;?\s*</script>`)
	scriptRe = regexp.MustCompile(`(?s)<script[^>]*>(.*?)</script>`)

	scriptFieldRes = []*regexp.Regexp{
		regexp.MustCompile(`"playAddr":\s*"([^"]+)"`),
		regexp.MustCompile(`"play_addr":\s*"([^"]+)"`),
		regexp.MustCompile(`"url_list":\s*\["([^"]+)"`),
	}
	scriptObjectRes = []*regexp.Regexp{
		regexp.MustCompile(`\{[^{}]*"playAddr"[^{}]*\}`),
		regexp.MustCompile(`\{[^{}]*"play_addr"[^{}]*\}`),
		regexp.MustCompile(`\{[^{}]*"url_list"[^{}]*\}`),
	}

	rawScanRes = []*regexp.Regexp{
		regexp.MustCompile(`https?://[^"'<>\s\\]+\.mp4[^"'<>\s\\]*`),
		regexp.MustCompile(`https?://[^"'<>\s\\]+\.m3u8[^"'<>\s\\]*`),
	}
	escapedRe = regexp.MustCompile(`https?:\\u002F\\u002F[^"'<>\s]+`)

	nicknameRe = regexp.MustCompile(`"nickname"\s*:\s*"([^"]+)"`)
	uniqueIDRe = regexp.MustCompile(`"unique_id"\s*:\s*"([^"]+)"`)

	rawScanExcluded = []string{"douyin_pc_client", "download/douyin", "bytednsdoc", "eden-cn", "ild_jw"}

	candidateReplacer = strings.NewReplacer(`\u002F`, "/", `\/`, "/", `\"`, "", `\\`, "", `\`, "")
)

// htmlStrategy scrapes the public video page.
type htmlStrategy struct {
	f       *fetcher
	base    string
	timeout time.Duration
}

func (s *htmlStrategy) Name() string { return StrategyHTML }

func (s *htmlStrategy) Resolve(ctx context.Context, target entity.Target) (*entity.MediaDescriptor, error) {
	page := s.pageURL(target)
	if page == "" {
		return nil, errs.ErrNotApplicable
	}

	resp, err := s.f.fetch(ctx, s.timeout, func(ctx context.Context) (*http.Request, error) {
		return s.f.sess.NewRequest(ctx, http.MethodGet, page, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("html: %w", err)
	}

	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("html: %w", &errs.StatusError{StatusCode: resp.status, URL: page})
	}

	desc, ok := scrapePage(string(resp.body), target.ResourceID)
	if !ok {
		return nil, fmt.Errorf("html: %w", errs.ErrNoMediaURL)
	}

	s.f.log.DebugContext(ctx, "page scraped", slog.String("func", "htmlStrategy.Resolve"), slog.String("page", page))

	return desc, nil
}

func (s *htmlStrategy) pageURL(target entity.Target) string {
	if target.URL != "" && !target.Direct {
		return target.URL
	}

	if target.ResourceID != "" {
		return strings.TrimRight(s.base, "/") + "/video/" + target.ResourceID
	}

	return ""
}

// scrapePage runs the extraction stages in order and stops at the first usable address.
func scrapePage(body, id string) (*entity.MediaDescriptor, bool) {
	var (
		data     any
		media    string
		width    int
		height   int
		hasMedia bool
	)

	for _, blob := range markerBlobs(body) {
		decoded, ok := decodeBlob(blob)
		if !ok {
			continue
		}

		if data == nil {
			data = decoded
		}

		if u, ok := findMediaURL(decoded); ok && validCandidate(u) {
			data, media, hasMedia = decoded, u, true

			break
		}
	}

	if !hasMedia {
		media, hasMedia = fromScripts(body)
	}

	if !hasMedia {
		media, hasMedia = rawScan(body, id)
	}

	if !hasMedia {
		media, hasMedia = escapedScan(body)
	}

	if !hasMedia {
		return nil, false
	}

	author := consts.UnknownAuthor
	if a, ok := findAuthor(data); ok {
		author = a
	} else if a, ok := authorFromText(body); ok {
		author = a
	}

	if w, h, ok := findDimensions(data); ok {
		width, height = w, h
	}

	return entity.NewMediaDescriptor(id, "", author, width, height,
		[]entity.Rendition{{URL: media, Kind: entity.RenditionPlay}}), true
}

func markerBlobs(body string) []string {
	var blobs []string

	for _, m := range renderDataRe.FindAllStringSubmatch(body, -1) {
		blobs = append(blobs, strings.TrimSpace(m[1]))
	}

	for _, m := range windowDataRe.FindAllStringSubmatch(body, -1) {
		blobs = append(blobs, strings.TrimSpace(m[1]))
	}

	return blobs
}

// decodeBlob accepts URL-encoded JSON, plain JSON, or a JavaScript object literal.
func decodeBlob(blob string) (any, bool) {
	var out any

	if unescaped, err := url.PathUnescape(blob); err == nil && unescaped != blob {
		if json.Unmarshal([]byte(unescaped), &out) == nil {
			return out, true
		}
	}

	if json.Unmarshal([]byte(blob), &out) == nil {
		return out, true
	}

	out, err := evalObjectLiteral(blob)
	if err != nil {
		return nil, false
	}

	return out, true
}

func fromScripts(body string) (string, bool) {
	for _, script := range scriptRe.FindAllStringSubmatch(body, -1) {
		content := script[1]

		for _, re := range scriptFieldRes {
			for _, m := range re.FindAllStringSubmatch(content, -1) {
				if u := cleanCandidate(m[1]); validCandidate(u) {
					return u, true
				}
			}
		}

		for _, re := range scriptObjectRes {
			for _, frag := range re.FindAllString(content, -1) {
				var obj any
				if json.Unmarshal([]byte(frag), &obj) != nil {
					continue
				}

				if u, ok := findMediaURL(obj); ok && validCandidate(u) {
					return u, true
				}
			}
		}
	}

	return "", false
}

// rawScan prefers candidates mentioning the resource id or "aweme".
func rawScan(body, id string) (string, bool) {
	var preferred, rest []string

	for _, re := range rawScanRes {
		for _, m := range re.FindAllString(body, -1) {
			if len(m) <= minScanURLLen || urls.ContainsAny(m, rawScanExcluded...) {
				continue
			}

			if (id != "" && strings.Contains(m, id)) || strings.Contains(m, "aweme") {
				preferred = append(preferred, m)
			} else {
				rest = append(rest, m)
			}
		}
	}

	for _, m := range slices.Concat(preferred, rest) {
		if u := cleanCandidate(m); validCandidate(u) {
			return u, true
		}
	}

	return "", false
}

// escapedScan picks the longest address written with \u002F escapes.
func escapedScan(body string) (string, bool) {
	var best string

	for _, m := range escapedRe.FindAllString(body, -1) {
		u := cleanCandidate(m)
		if !validCandidate(u) || urls.ContainsAny(u, rawScanExcluded...) {
			continue
		}

		if !strings.Contains(u, ".mp4") && !strings.Contains(u, ".m3u8") && !strings.Contains(u, "video") {
			continue
		}

		if len(u) > len(best) {
			best = u
		}
	}

	return best, best != ""
}

func authorFromText(body string) (string, bool) {
	for _, re := range []*regexp.Regexp{nicknameRe, uniqueIDRe} {
		if m := re.FindStringSubmatch(body); m != nil && strings.TrimSpace(m[1]) != "" {
			return strings.TrimSpace(m[1]), true
		}
	}

	return "", false
}

// cleanCandidate undoes the escaping pages apply to embedded addresses.
func cleanCandidate(s string) string {
	s = candidateReplacer.Replace(s)

	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}

	return strings.TrimRight(s, `.,;!?"'<>`)
}

func validCandidate(s string) bool {
	return strings.HasPrefix(s, "http") && len(s) > minCandidateURLLen
}
