package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
)

// Form keys tried against every mirror endpoint; mirrors disagree on the name.
var payloadKeys = []string{"url", "link", "video_url", "input"}

// Keys that may carry the media URL in a mirror's JSON answer.
var mirrorURLKeys = []string{
	"video_url", "videoUrl", "video", "url", "download_url", "play_url", "playUrl",
	"mp4", "mp4_url", "hd_url", "nwm_video_url", "nwmVideoUrl", "video_play_url",
}

var mp4InText = regexp.MustCompile(`https://[^"'<>\s]+\.mp4[^"'<>\s]*`)

// thirdPartyStrategy asks public mirror services to resolve the page URL.
type thirdPartyStrategy struct {
	f         *fetcher
	endpoints []string
	timeout   time.Duration
}

func (s *thirdPartyStrategy) Name() string { return StrategyThirdParty }

func (s *thirdPartyStrategy) Resolve(ctx context.Context, target entity.Target) (*entity.MediaDescriptor, error) {
	if len(s.endpoints) == 0 {
		return nil, errs.ErrNotApplicable
	}

	log := s.f.log.With(slog.String("func", "thirdPartyStrategy.Resolve"))

	var lastErr error = errs.ErrNoMediaURL

	for _, endpoint := range s.endpoints {
		for _, key := range payloadKeys {
			desc, err := s.try(ctx, endpoint, key, target)
			if err == nil {
				return desc, nil
			}

			if ctx.Err() != nil {
				return nil, fmt.Errorf("third party: %w", ctx.Err())
			}

			lastErr = err
			log.DebugContext(ctx, "mirror attempt failed",
				slog.String("endpoint", endpoint), slog.String("key", key), slog.Any("error", err))
		}
	}

	return nil, fmt.Errorf("third party: %w", lastErr)
}

func (s *thirdPartyStrategy) try(ctx context.Context, endpoint, key string, target entity.Target) (*entity.MediaDescriptor, error) {
	form := url.Values{key: {target.URL}}.Encode()

	resp, err := s.f.fetch(ctx, s.timeout, func(ctx context.Context) (*http.Request, error) {
		req, err := s.f.sess.NewRequest(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Referer", consts.MirrorReferer)

		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.status != http.StatusOK {
		return nil, &errs.StatusError{StatusCode: resp.status, URL: endpoint}
	}

	if len(resp.body) == 0 {
		return nil, errs.ErrEmptyBody
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return mirrorFromText(string(resp.body), target)
	}

	media, ok := mirrorMediaURL(payload)
	if !ok {
		return nil, errs.ErrNoMediaURL
	}

	return entity.NewMediaDescriptor(target.ResourceID, mirrorTitle(payload), mirrorAuthor(payload), 0, 0,
		[]entity.Rendition{{URL: media, Kind: entity.RenditionDownload}}), nil
}

// mirrorFromText handles mirrors that answer with an HTML page.
func mirrorFromText(body string, target entity.Target) (*entity.MediaDescriptor, error) {
	for _, m := range mp4InText.FindAllString(body, -1) {
		if strings.Contains(m, "douyin_pc_client") {
			continue
		}

		return entity.NewMediaDescriptor(target.ResourceID, "", consts.UnknownAuthor, 0, 0,
			[]entity.Rendition{{URL: m, Kind: entity.RenditionDownload}}), nil
	}

	return nil, errs.ErrNoMediaURL
}

// mirrorMediaURL looks at the top level, one level of nested objects, then a "data" object.
func mirrorMediaURL(payload map[string]any) (string, bool) {
	if u, ok := httpString(payload, mirrorURLKeys); ok {
		return u, true
	}

	for _, key := range sortedKeys(payload) {
		nested, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}

		if u, ok := httpString(nested, mirrorURLKeys); ok {
			return u, true
		}
	}

	if data, ok := payload["data"].(map[string]any); ok {
		return httpString(data, mirrorURLKeys)
	}

	return "", false
}

func httpString(m map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.HasPrefix(s, "http") {
			return s, true
		}
	}

	return "", false
}

func mirrorTitle(payload map[string]any) string {
	for _, k := range []string{"title", "desc"} {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}

	return ""
}

func mirrorAuthor(payload map[string]any) string {
	switch a := payload["author"].(type) {
	case string:
		if a != "" {
			return a
		}
	case map[string]any:
		if s, ok := a["nickname"].(string); ok && s != "" {
			return s
		}
	}

	if s, ok := payload["nickname"].(string); ok && s != "" {
		return s
	}

	return consts.UnknownAuthor
}
