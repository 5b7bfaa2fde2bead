// Package profile enumerates the posts of a user profile into downloadable URLs.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"douyindl/internal/config"
	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/extractor"
	"douyindl/internal/observability"
	"douyindl/internal/platform"
	"douyindl/internal/session"
)

const (
	// maxPageSize caps how much of one page is read.
	maxPageSize = 8 << 20

	defaultPageSize  = 20
	defaultMaxErrors = 5
)

var errNoAwemeList = errors.New("response has no aweme_list")

// ProgressFunc receives the number of URLs found so far, the total (0 until done) and a message.
type ProgressFunc func(found, total int, msg string)

// URLNormalizer canonicalizes the profile URL, resolving short links.
type URLNormalizer interface {
	Normalize(ctx context.Context, raw string) (entity.NormalizedURL, error)
}

// Enumerator pages through a user's posts.
type Enumerator struct {
	log     *slog.Logger
	cfg     config.Profile
	base    string
	sess    *session.Session
	norm    URLNormalizer
	metrics *observability.Metrics
}

// New creates an Enumerator. base is the platform origin, e.g. "https://www.douyin.com".
func New(
	log *slog.Logger, cfg config.Profile, base string,
	sess *session.Session, norm URLNormalizer, metrics *observability.Metrics,
) *Enumerator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}

	return &Enumerator{
		log:     log.With(slog.String("package", "profile")),
		cfg:     cfg,
		base:    strings.TrimRight(base, "/"),
		sess:    sess,
		norm:    norm,
		metrics: metrics,
	}
}

// Enumerate returns one URL per post: the first play address, else the first download
// address, else the post's page URL. Paging stops when the platform reports no more pages
// or after MaxErrors consecutive failed pages; URLs found until then are returned.
func (e *Enumerator) Enumerate(ctx context.Context, profileURL string, onProgress ProgressFunc) ([]string, error) {
	log := e.log.With(slog.String("func", "Enumerate"))

	if onProgress == nil {
		onProgress = func(int, int, string) {}
	}

	secUID, err := e.userID(ctx, profileURL)
	if err != nil {
		onProgress(0, 0, err.Error())

		return nil, err
	}

	log = log.With(slog.String("sec_user_id", secUID))
	onProgress(0, 0, "connecting to user "+secUID)

	var (
		found     []string
		cursor    int64
		hasMore   = true
		errCount  int
		pageCount int
	)

	for hasMore && errCount < e.cfg.MaxErrors {
		pageCount++
		onProgress(len(found), 0, fmt.Sprintf("loading page %d (%d videos found)", pageCount, len(found)))

		page, err := e.page(ctx, secUID, cursor)
		e.metrics.RecordProfilePage(err == nil)

		if err != nil {
			if ctx.Err() != nil {
				return found, fmt.Errorf("enumerate profile: %w", ctx.Err())
			}

			errCount++

			log.WarnContext(ctx, "page failed",
				slog.Int("page", pageCount), slog.Int("errors", errCount), slog.Any("error", err))
			onProgress(len(found), 0, fmt.Sprintf("page %d failed: %v, retrying", pageCount, err))

			if err := sleep(ctx, e.retryDelay(err)); err != nil {
				return found, err
			}

			continue
		}

		errCount = 0
		hasMore = page.HasMore == 1
		cursor = page.MaxCursor

		for i, aweme := range page.AwemeList {
			if aweme.AwemeID == "" {
				continue
			}

			found = append(found, e.itemURL(aweme))
			onProgress(len(found), 0, fmt.Sprintf("video %d (page %d, item %d/%d, author %s)",
				len(found), pageCount, i+1, len(page.AwemeList), nickname(aweme)))
		}

		log.InfoContext(ctx, "page loaded",
			slog.Int("page", pageCount),
			slog.Int("items", len(page.AwemeList)),
			slog.Bool("has_more", hasMore),
			slog.Int64("max_cursor", cursor),
			slog.Int("found", len(found)))

		onProgress(len(found), 0, fmt.Sprintf("page %d done (%d videos)", pageCount, len(found)))

		if hasMore {
			if err := sleep(ctx, e.cfg.PageDelay); err != nil {
				return found, err
			}
		}
	}

	if errCount >= e.cfg.MaxErrors {
		log.WarnContext(ctx, "stopped after consecutive page errors", slog.Int("errors", errCount))
	}

	log.InfoContext(ctx, "profile enumerated", slog.Int("found", len(found)), slog.Int("pages", pageCount))
	onProgress(len(found), len(found), fmt.Sprintf("done: %d videos", len(found)))

	return found, nil
}

func (e *Enumerator) userID(ctx context.Context, profileURL string) (string, error) {
	raw := strings.TrimSpace(profileURL)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", errs.ErrInvalidInput)
	}

	if e.norm != nil {
		n, err := e.norm.Normalize(ctx, raw)
		if err != nil {
			return "", fmt.Errorf("normalize profile url: %w", err)
		}

		if !n.Absent() {
			raw = n.URL
		}
	}

	id, ok := extractor.UserID(raw)
	if !ok {
		return "", fmt.Errorf("%w: %s", errs.ErrNoUserID, raw)
	}

	return id, nil
}

// retryDelay is the pause after a failed page; non-200 answers wait less.
func (e *Enumerator) retryDelay(err error) time.Duration {
	if errors.Is(err, errs.ErrUnexpectedStatus) {
		return e.cfg.StatusDelay
	}

	return e.cfg.ErrorDelay
}

func (e *Enumerator) page(ctx context.Context, secUID string, cursor int64) (*platform.PostsResponse, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	url := e.base + fmt.Sprintf(consts.ProfilePostsEndpoint, secUID, cursor, e.cfg.PageSize)

	resp, err := e.sess.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errs.StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}

	var page platform.PostsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	if page.AwemeList == nil {
		return nil, errNoAwemeList
	}

	return &page, nil
}

func (e *Enumerator) itemURL(aweme platform.Aweme) string {
	if u, ok := aweme.Video.PlayAddr.First(); ok {
		return u
	}

	if u, ok := aweme.Video.DownloadAddr.First(); ok {
		return u
	}

	e.log.Debug("no direct address, using page url", slog.String("aweme_id", aweme.AwemeID))

	return e.base + "/video/" + aweme.AwemeID
}

func nickname(aweme platform.Aweme) string {
	if aweme.Author.Nickname == "" {
		return consts.UnknownAuthor
	}

	return aweme.Author.Nickname
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("enumerate profile: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
