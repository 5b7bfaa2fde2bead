// Package resolver turns a normalized URL into a MediaDescriptor by trying
// an ordered list of strategies until one yields a rendition.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"douyindl/internal/config"
	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/observability"
	"douyindl/internal/session"
)

// Strategy names.
const (
	StrategyDirect     = "direct"
	StrategyThirdParty = "third_party"
	StrategyFirstParty = "first_party"
	StrategyHTML       = "html"
)

// Strategy is one way of resolving a target.
// It returns errs.ErrNotApplicable when the target is outside its reach.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, target entity.Target) (*entity.MediaDescriptor, error)
}

// Resolver runs strategies in order.
type Resolver struct {
	log        *slog.Logger
	metrics    *observability.Metrics
	strategies []Strategy
}

// New builds a resolver with the default strategy order:
// direct, third party mirrors, first party JSON endpoints, HTML scrape.
func New(log *slog.Logger, cfg config.Resolver, sess *session.Session, metrics *observability.Metrics) *Resolver {
	log = log.With(slog.String("package", "resolver"))

	f := &fetcher{
		log:     log,
		sess:    sess,
		retries: cfg.Retries,
		delay:   cfg.RetryDelay,
	}

	return NewWithStrategies(log, metrics,
		directStrategy{},
		&thirdPartyStrategy{f: f, endpoints: cfg.ThirdParty, timeout: cfg.ThirdPartyTimeout},
		&firstPartyStrategy{f: f, base: cfg.PageBase, timeout: cfg.FirstPartyTimeout},
		&htmlStrategy{f: f, base: cfg.PageBase, timeout: cfg.PageTimeout},
	)
}

// NewWithStrategies builds a resolver over an explicit strategy list.
func NewWithStrategies(log *slog.Logger, metrics *observability.Metrics, strategies ...Strategy) *Resolver {
	return &Resolver{log: log, metrics: metrics, strategies: strategies}
}

var audioMarkers = []string{".mp3", "ies-music", "/music/"}

// IsAudio reports whether the URL points at audio-only content.
func IsAudio(u string) bool {
	lower := strings.ToLower(u)
	for _, m := range audioMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}

	return false
}

// Resolve tries every strategy in order. When all of them fail the error is a
// *errs.StrategiesExhaustedError, which matches errs.ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, target entity.Target) (*entity.MediaDescriptor, error) {
	log := r.log.With(slog.String("func", "Resolve"), slog.String("url", target.URL))

	if IsAudio(target.URL) {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotVideoContent, target.URL)
	}

	if !target.Direct && target.ResourceID == "" {
		return nil, fmt.Errorf("%w: no resource id in %s", errs.ErrResolutionFailed, target.URL)
	}

	var (
		attempts []errs.StrategyAttempt
		partial  *entity.MediaDescriptor
	)

	for _, s := range r.strategies {
		desc, err := s.Resolve(ctx, target)
		if err == nil && desc != nil && len(desc.Renditions) > 0 {
			r.metrics.RecordStrategy(s.Name(), true)

			desc = merge(desc, partial)
			log.InfoContext(ctx, "resolved", slog.String("strategy", s.Name()), slog.Any("descriptor", desc))

			return desc, nil
		}

		if errors.Is(err, errs.ErrNotApplicable) {
			continue
		}

		if err == nil {
			err = errs.ErrNoMediaURL
		}

		var pe *partialError
		if errors.As(err, &pe) && partial == nil {
			partial = pe.meta
		}

		r.metrics.RecordStrategy(s.Name(), false)
		attempts = append(attempts, errs.StrategyAttempt{Strategy: s.Name(), Err: err})
		log.DebugContext(ctx, "strategy failed", slog.String("strategy", s.Name()), slog.Any("error", err))

		if ctx.Err() != nil {
			return nil, fmt.Errorf("resolve: %w", ctx.Err())
		}
	}

	return nil, &errs.StrategiesExhaustedError{Attempts: attempts}
}

// partialError reports metadata found without any playable address.
// A later strategy's result is enriched with it.
type partialError struct {
	meta *entity.MediaDescriptor
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%s: metadata for %s has no address", errs.ErrNoMediaURL, e.meta.ResourceID)
}

func (e *partialError) Unwrap() error {
	return errs.ErrNoMediaURL
}

// merge fills gaps in desc from meta found by an earlier strategy.
func merge(desc, meta *entity.MediaDescriptor) *entity.MediaDescriptor {
	if meta == nil {
		return desc
	}

	title := desc.Title
	if title == "" {
		title = meta.Title
	}

	author := desc.Author
	if author == "" || author == consts.UnknownAuthor {
		author = meta.Author
	}

	width, height := desc.Width, desc.Height
	if desc.Orientation == entity.OrientationUnknown {
		width, height = meta.Width, meta.Height
	}

	return entity.NewMediaDescriptor(desc.ResourceID, title, author, width, height, desc.Renditions)
}
