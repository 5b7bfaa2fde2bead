// Package normalizer canonicalizes user-supplied URLs before resolution.
package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"douyindl/internal/config"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/pkg/urls"
)

// CDN host fragments that only serve media files.
var directHosts = []string{"zjcdn.com", "douyinstatic.com"}

// Normalizer turns raw input into a page URL or a direct media URL.
type Normalizer struct {
	log        *slog.Logger
	domains    []string
	shortHosts []string
	redirect   *http.Client
	timeout    time.Duration
}

// New creates a Normalizer. The redirect client must not carry the session cookie.
func New(log *slog.Logger, cfg config.Resolver, redirect *http.Client) *Normalizer {
	return &Normalizer{
		log:        log.With(slog.String("package", "normalizer")),
		domains:    cfg.Domains,
		shortHosts: cfg.ShortHosts,
		redirect:   redirect,
		timeout:    cfg.RedirectTimeout,
	}
}

// Normalize canonicalizes raw. The result is Absent when raw does not belong to a recognized domain.
// Direct media links are returned untouched: they are signed and time-limited.
func (n *Normalizer) Normalize(ctx context.Context, raw string) (entity.NormalizedURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return entity.NormalizedURL{}, fmt.Errorf("%w: empty url", errs.ErrInvalidInput)
	}

	log := n.log.With(slog.String("func", "Normalize"))

	if n.IsDirect(raw) {
		log.DebugContext(ctx, "direct media url", slog.String("url", raw))

		return entity.NormalizedURL{URL: raw, Direct: true}, nil
	}

	if !urls.ContainsAny(raw, n.domains...) {
		log.DebugContext(ctx, "url outside recognized domains", slog.String("url", raw))

		return entity.NormalizedURL{}, nil
	}

	url := urls.FixURL(raw)
	short := false

	if urls.ContainsAny(url, n.shortHosts...) {
		resolved, err := n.resolveRedirect(ctx, url)
		if err != nil {
			// keep the original; the extractor will report the id as absent
			log.WarnContext(ctx, "resolve short url", slog.String("url", url), slog.Any("error", err))

			short = true
		} else {
			log.DebugContext(ctx, "short url resolved", slog.String("from", url), slog.String("to", resolved))
			url = resolved
		}
	}

	return entity.NormalizedURL{URL: urls.StripQuery(url), Short: short}, nil
}

// IsDirect reports whether raw points straight at a media file.
func (n *Normalizer) IsDirect(raw string) bool {
	lower := strings.ToLower(raw)

	switch {
	case strings.HasSuffix(lower, ".mp4"), strings.Contains(lower, ".mp4?"):
		return true
	case urls.ContainsAny(lower, directHosts...):
		return true
	case strings.Contains(lower, "/video/") && !urls.ContainsAny(lower, n.domains...):
		return true
	}

	return false
}

func (n *Normalizer) resolveRedirect(ctx context.Context, url string) (string, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	resp, err := n.redirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("follow redirect: %w", err)
	}
	defer resp.Body.Close()

	return resp.Request.URL.String(), nil
}
