// Package httprouter serves the run and profile API over net/http.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"douyindl/internal/config"
	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/infrastructure/delivery/http/middleware"
	"douyindl/internal/infrastructure/delivery/http/request"
	"douyindl/internal/infrastructure/delivery/http/response"
	"douyindl/internal/observability"
	"douyindl/internal/orchestrator"
	"douyindl/internal/storage"
)

const maxRequestBody = 1 << 20

// Runner is the run lifecycle the API drives.
type Runner interface {
	Start(ctx context.Context, urls []string, opts entity.RunOptions, cb orchestrator.Callbacks) (string, error)
	Cancel(ctx context.Context) error
	State() *entity.RunSnapshot
}

// Settings supplies run defaults.
type Settings interface {
	RunOptions(ctx context.Context) entity.RunOptions
	Cookie(ctx context.Context) string
}

// ProfileLister lists the post URLs of a profile.
type ProfileLister interface {
	ListProfile(ctx context.Context, cookie, profileURL string) ([]string, error)
}

// Deps are the services behind the routes. Gatherer may be nil to hide /metrics.
type Deps struct {
	Runner   Runner
	Store    storage.Storer
	Settings Settings
	Profiles ProfileLister
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

type chain []func(http.Handler) http.Handler

func (c chain) then(h http.Handler) http.Handler {
	for _, mw := range slices.Backward(c) {
		h = mw(h)
	}

	return h
}

type Router struct {
	*http.ServeMux

	log         *slog.Logger
	cfg         config.HTTP
	deps        Deps
	globalChain chain
	routeChain  chain
	isSubRouter bool
}

func New(log *slog.Logger, cfg config.HTTP, deps Deps) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		deps:     deps,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (r *Router) Use(mws ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, mws...)
	} else {
		r.globalChain = append(r.globalChain, mws...)
	}
}

// Group registers routes that share the middlewares added inside fn.
func (r *Router) Group(fn func(r *Router)) {
	fn(&Router{
		ServeMux:    r.ServeMux,
		log:         r.log,
		cfg:         r.cfg,
		deps:        r.deps,
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
	})
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	r.ServeMux.Handle(pattern, r.routeChain.then(h))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.globalChain.then(r.ServeMux).ServeHTTP(w, req)
}

// SetGlobalMiddlewares installs the outer chain. Metrics stays last so it sees the matched pattern.
func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer(r.log),
		middleware.RequestID,
		middleware.Logger(r.log),
		middleware.Metrics(r.deps.Metrics),
	)
}

func (r *Router) SetRoutes() {
	r.HandleFunc("GET /v1/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if r.deps.Gatherer != nil {
		r.Handle("GET /metrics", observability.Handler(r.deps.Gatherer))
	}

	r.Group(func(g *Router) {
		g.Use(middleware.LimitBody(maxRequestBody))

		g.HandleFunc("POST /v1/runs", r.StartRun)
		g.HandleFunc("POST /v1/profiles/enumerate", r.Enumerate)
	})

	r.HandleFunc("GET /v1/runs", r.GetRuns)
	r.HandleFunc("GET /v1/runs/current", r.GetCurrentRun)
	r.HandleFunc("GET /v1/runs/{id}", r.GetRun)
	r.HandleFunc("DELETE /v1/runs/active", r.CancelRun)
	r.HandleFunc("DELETE /v1/runs/{id}/items/{index}/file", r.DeleteItemFile)
}

// startRun launches urls with the stored defaults under opts.
func (r *Router) startRun(ctx context.Context, urls []string, opts entity.RunOptions) (string, error) {
	log := r.log.With(slog.String("func", "startRun"))

	return r.deps.Runner.Start(ctx, urls, opts, orchestrator.Callbacks{ //nolint:wrapcheck
		OnComplete: func(run entity.RunSnapshot) {
			log.InfoContext(context.WithoutCancel(ctx), "api run complete",
				slog.String("run_id", run.ID), slog.Any("summary", run.Summary))
		},
	})
}

func (r *Router) StartRun(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "StartRun"))

	ctx, cancel := context.WithTimeout(req.Context(), r.handlerTimeout())
	defer cancel()

	var in request.StartRun
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	id, err := r.startRun(ctx, in.URLs, in.Apply(r.deps.Settings.RunOptions(ctx)))
	if r.writeStartError(ctx, w, log, err) {
		return
	}

	log.InfoContext(ctx, consts.RespRunStarted, slog.String("run_id", id), slog.Int("urls", len(in.URLs)))

	response.Accepted(w, consts.RespRunStarted, map[string]string{"id": id})
}

// writeStartError answers a failed Start and reports whether it did.
func (r *Router) writeStartError(ctx context.Context, w http.ResponseWriter, log *slog.Logger, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errs.ErrRunActive):
		log.DebugContext(ctx, consts.RespRunActive)
		response.Conflict(w, consts.RespRunActive, err)
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrNoURLs):
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)
	default:
		log.ErrorContext(ctx, consts.RespRunStartFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespRunStartFail, err)
	}

	return true
}

func (r *Router) GetRuns(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "GetRuns"))

	ctx, cancel := context.WithTimeout(req.Context(), r.handlerTimeout())
	defer cancel()

	runs, err := r.deps.Store.GetRuns(ctx)
	if errors.Is(err, errs.ErrNoRuns) {
		log.DebugContext(ctx, consts.RespNoRuns)
		response.NoContent(w)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespRunNotFound, slog.Any("error", err))
		response.InternalServerError(w, consts.RespRunNotFound, err)

		return
	}

	response.OK(w, consts.RespRunsRetrieved, runs)
}

func (r *Router) GetCurrentRun(w http.ResponseWriter, _ *http.Request) {
	run := r.deps.Runner.State()
	if run == nil {
		response.NoContent(w)

		return
	}

	response.OK(w, consts.RespRunRetrieved, run)
}

func (r *Router) GetRun(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "GetRun"))

	ctx, cancel := context.WithTimeout(req.Context(), r.handlerTimeout())
	defer cancel()

	run, err := r.deps.Store.GetRun(ctx, req.PathValue("id"))
	if err != nil {
		log.DebugContext(ctx, consts.RespRunNotFound, slog.Any("error", err))
		response.NotFound(w, consts.RespRunNotFound, err)

		return
	}

	response.OK(w, consts.RespRunRetrieved, run)
}

func (r *Router) CancelRun(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "CancelRun"))
	ctx := req.Context()

	if err := r.deps.Runner.Cancel(ctx); err != nil {
		log.DebugContext(ctx, consts.RespNoActiveRun, slog.Any("error", err))
		response.Conflict(w, consts.RespNoActiveRun, err)

		return
	}

	response.Accepted(w, consts.RespRunCancelled, nil)
}

func (r *Router) DeleteItemFile(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "DeleteItemFile"))

	ctx, cancel := context.WithTimeout(req.Context(), r.handlerTimeout())
	defer cancel()

	index, err := strconv.Atoi(req.PathValue("index"))
	if err != nil || index < 0 {
		log.DebugContext(ctx, consts.RespQueryParamMissing, slog.String("index", req.PathValue("index")))
		response.BadRequest(w, consts.RespQueryParamMissing, err)

		return
	}

	item, err := r.deps.Store.DeleteItemFile(ctx, req.PathValue("id"), index)

	switch {
	case errors.Is(err, errs.ErrRunNotFound), errors.Is(err, errs.ErrItemNotFound):
		response.NotFound(w, consts.RespFileDeleteFail, err)
	case errors.Is(err, errs.ErrNoFile):
		response.Conflict(w, consts.RespFileDeleteFail, err)
	case err != nil:
		log.ErrorContext(ctx, consts.RespFileDeleteFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespFileDeleteFail, err)
	default:
		log.InfoContext(ctx, consts.RespFileDeleted, slog.String("path", item.FilePath))
		response.OK(w, consts.RespFileDeleted, item)
	}
}

type enumerateResult struct {
	URLs  []string `json:"urls"`
	RunID string   `json:"runId,omitempty"`
}

func (r *Router) Enumerate(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "Enumerate"))

	timeout := r.cfg.EnumerateTimeout
	if timeout <= 0 {
		timeout = consts.DefaultHandlerTimeout
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	var in request.Enumerate
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	found, err := r.deps.Profiles.ListProfile(ctx, r.deps.Settings.Cookie(ctx), in.URL)
	if errors.Is(err, errs.ErrNoUserID) || errors.Is(err, errs.ErrInvalidInput) {
		response.UnprocessableEntity(w, consts.RespProfileEnumerateFail, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespProfileEnumerateFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespProfileEnumerateFail, err)

		return
	}

	out := enumerateResult{URLs: found}

	if in.Start && len(found) > 0 {
		out.RunID, err = r.startRun(ctx, found, r.deps.Settings.RunOptions(ctx))
		if r.writeStartError(ctx, w, log, err) {
			return
		}
	}

	log.InfoContext(ctx, consts.RespProfileEnumerated, slog.Int("urls", len(found)), slog.String("run_id", out.RunID))

	response.OK(w, consts.RespProfileEnumerated, out)
}

func (r *Router) handlerTimeout() time.Duration {
	if r.cfg.HandlerTimeout > 0 {
		return r.cfg.HandlerTimeout
	}

	return consts.DefaultHandlerTimeout
}
