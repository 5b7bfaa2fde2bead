// Package pipeline wires the per-item stages: normalize, extract, resolve, select, transfer, place.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/afero"

	"douyindl/internal/config"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/extractor"
	"douyindl/internal/normalizer"
	"douyindl/internal/observability"
	"douyindl/internal/orchestrator"
	"douyindl/internal/placer"
	"douyindl/internal/probe"
	"douyindl/internal/profile"
	"douyindl/internal/proxymgr"
	"douyindl/internal/resolver"
	"douyindl/internal/selector"
	"douyindl/internal/session"
	"douyindl/internal/transfer"
)

// Factory builds the session-bound stages of a run.
type Factory struct {
	log     *slog.Logger
	cfg     *config.Config
	fs      afero.Fs
	proxies *proxymgr.Manager
	placer  *placer.Placer
	metrics *observability.Metrics

	transport *http.Transport
}

var _ orchestrator.Builder = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithTransport sets the transport sessions are cloned from, e.g. for custom TLS roots.
func WithTransport(t *http.Transport) Option {
	return func(f *Factory) { f.transport = t }
}

// NewFactory creates a factory. proxies and prober may be nil.
func NewFactory(
	log *slog.Logger, cfg *config.Config, fs afero.Fs,
	proxies *proxymgr.Manager, prober probe.Prober, metrics *observability.Metrics, opts ...Option,
) *Factory {
	f := &Factory{
		log:       log,
		cfg:       cfg,
		fs:        fs,
		proxies:   proxies,
		placer:    placer.New(log, fs, prober),
		metrics:   metrics,
		transport: http.DefaultTransport.(*http.Transport), //nolint:forcetypeassert // stdlib default
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Session builds the shared session of a run for cookie.
func (f *Factory) Session(cookie string) *session.Session {
	base := f.transport.Clone()

	var transport http.RoundTripper = base
	if f.proxies != nil && f.proxies.HasProxies() {
		transport = f.proxies.RoundTripper(base)
	}

	return session.New(f.log, session.Options{Cookie: cookie, Transport: transport})
}

// Normalizer builds a URL normalizer with a cookie-less redirect client.
func (f *Factory) Normalizer() *normalizer.Normalizer {
	return normalizer.New(f.log, f.cfg.Resolver, session.NewRedirectClient(f.cfg.Resolver.RedirectTimeout))
}

// Enumerator builds a profile enumerator for cookie.
func (f *Factory) Enumerator(cookie string) *profile.Enumerator {
	return profile.New(f.log, f.cfg.Profile, f.cfg.Resolver.PageBase, f.Session(cookie), f.Normalizer(), f.metrics)
}

// Build implements orchestrator.Builder.
func (f *Factory) Build(ctx context.Context, opts entity.RunOptions) (orchestrator.Pipeline, error) {
	if opts.DownloadFolder == "" {
		return nil, fmt.Errorf("%w: download folder is empty", errs.ErrInvalidInput)
	}

	if err := f.fs.MkdirAll(opts.DownloadFolder, 0o755); err != nil {
		return nil, fmt.Errorf("create download folder: %w", err)
	}

	sess := f.Session(opts.Cookie)

	f.log.DebugContext(ctx, "pipeline built", slog.Bool("cookie", sess.HasCookie()), slog.Bool("proxies", f.proxies != nil && f.proxies.HasProxies()))

	return &Pipeline{
		log:        f.log.With(slog.String("package", "pipeline")),
		opts:       opts,
		normalizer: f.Normalizer(),
		resolver:   resolver.New(f.log, f.cfg.Resolver, sess, f.metrics),
		engine:     transfer.New(f.log, sess, f.fs, f.cfg.Transfer, f.metrics),
		placer:     f.placer,
	}, nil
}

// Pipeline processes the items of one run.
type Pipeline struct {
	log        *slog.Logger
	opts       entity.RunOptions
	normalizer *normalizer.Normalizer
	resolver   *resolver.Resolver
	engine     *transfer.Engine
	placer     *placer.Placer
}

// Process implements orchestrator.Pipeline.
func (p *Pipeline) Process(
	ctx context.Context, index int, rawURL string, cancelled func() bool,
) (entity.ItemResult, error) {
	log := p.log.With(slog.String("func", "Process"), slog.Int("index", index))
	result := entity.ItemResult{Index: index, SourceURL: rawURL}

	norm, err := p.normalizer.Normalize(ctx, rawURL)
	if err != nil {
		return result, err
	}

	if norm.Absent() {
		return result, fmt.Errorf("%w: unrecognized url %q", errs.ErrInvalidInput, rawURL)
	}

	target := entity.Target{URL: norm.URL, Direct: norm.Direct}
	if !norm.Direct {
		target.ResourceID, _ = extractor.ResourceID(norm.URL)
	}

	desc, err := p.resolver.Resolve(ctx, target)
	if err != nil {
		return result, err
	}

	if p.opts.OrientationSwap && desc.Orientation != entity.OrientationUnknown {
		desc = desc.Swapped()
	}

	describe(&result, desc)

	filter := p.opts.OrientationFilter
	if filter.Active() && desc.Orientation != entity.OrientationUnknown && !filter.Accepts(desc.Orientation) {
		result.FilteredByOrientation = true

		return result, fmt.Errorf("%w: %s video (%dx%d), filter %s",
			errs.ErrOrientationMismatch, desc.Orientation, desc.Width, desc.Height, filter)
	}

	rendition, err := selector.Select(desc.Renditions, p.opts.Quality)
	if err != nil {
		return result, err
	}

	if cancelled() {
		return result, errs.ErrUserCancelled
	}

	path, err := p.placer.Destination(p.opts.DownloadFolder, desc, p.opts.NamingMode)
	if err != nil {
		return result, fmt.Errorf("%w: %w", errs.ErrTransferError, err)
	}

	out := p.engine.Transfer(ctx, rendition.URL, path, p.opts.Transfer, cancelled)

	result.RetryCount = out.RetryCount
	result.BytesWritten = out.BytesWritten
	result.TimeoutDetected = out.TimeoutDetected
	result.SkippedByCeiling = out.SkippedByCeiling

	if !out.Success {
		p.placer.Abandon(path)

		return result, out.Err
	}

	p.placer.Release(path)

	result.FilePath = path

	if desc.Orientation == entity.OrientationUnknown && filter.Active() {
		o, w, h, err := p.placer.VerifyOrientation(ctx, path, filter)
		if o != entity.OrientationUnknown {
			result.Orientation, result.Width, result.Height = o, w, h
		}

		if err != nil {
			p.placer.Abandon(path)

			result.FilePath, result.BytesWritten = "", 0
			result.FilteredByOrientation = true

			return result, err
		}
	}

	log.DebugContext(ctx, "item downloaded", slog.String("path", path), slog.Any("descriptor", desc))

	return result, nil
}

func describe(result *entity.ItemResult, desc *entity.MediaDescriptor) {
	result.ResourceID = desc.ResourceID
	result.Author = desc.Author
	result.Title = desc.Title
	result.Orientation = desc.Orientation
	result.Width = desc.Width
	result.Height = desc.Height
}

// ListProfile enumerates the posts of profileURL with the session of cookie.
func (f *Factory) ListProfile(ctx context.Context, cookie, profileURL string) ([]string, error) {
	return f.Enumerator(cookie).Enumerate(ctx, profileURL, nil) //nolint:wrapcheck
}
