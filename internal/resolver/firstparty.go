package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/platform"
)

// firstPartyStrategy queries the platform's aweme detail endpoints.
type firstPartyStrategy struct {
	f       *fetcher
	base    string
	timeout time.Duration
}

func (s *firstPartyStrategy) Name() string { return StrategyFirstParty }

func (s *firstPartyStrategy) Resolve(ctx context.Context, target entity.Target) (*entity.MediaDescriptor, error) {
	if target.ResourceID == "" {
		return nil, errs.ErrNotApplicable
	}

	log := s.f.log.With(slog.String("func", "firstPartyStrategy.Resolve"), slog.String("id", target.ResourceID))

	var lastErr error = errs.ErrNoMediaURL

	for _, tmpl := range consts.DetailEndpoints {
		endpoint := strings.TrimRight(s.base, "/") + fmt.Sprintf(tmpl, target.ResourceID)

		item, err := s.detail(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("first party: %w", ctx.Err())
			}

			lastErr = err
			log.DebugContext(ctx, "detail endpoint failed", slog.String("endpoint", endpoint), slog.Any("error", err))

			continue
		}

		author := item.Author.Nickname
		if author == "" {
			author = consts.UnknownAuthor
		}

		desc := entity.NewMediaDescriptor(target.ResourceID, item.Desc, author,
			item.Video.Width, item.Video.Height, item.Video.Renditions())
		if len(desc.Renditions) == 0 {
			return nil, &partialError{meta: desc}
		}

		return desc, nil
	}

	return nil, fmt.Errorf("first party: %w", lastErr)
}

func (s *firstPartyStrategy) detail(ctx context.Context, endpoint string) (*platform.Aweme, error) {
	resp, err := s.f.fetch(ctx, s.timeout, func(ctx context.Context) (*http.Request, error) {
		return s.f.sess.NewRequest(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	if resp.status != http.StatusOK {
		return nil, &errs.StatusError{StatusCode: resp.status, URL: endpoint}
	}

	if len(strings.TrimSpace(string(resp.body))) == 0 {
		return nil, errs.ErrEmptyBody
	}

	var detail platform.DetailResponse
	if err := json.Unmarshal(resp.body, &detail); err != nil {
		return nil, fmt.Errorf("decode detail: %w", err)
	}

	item, ok := detail.Item()
	if !ok {
		return nil, errs.ErrNoMediaURL
	}

	return item, nil
}
