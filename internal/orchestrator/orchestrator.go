// Package orchestrator runs batches of URLs through the download pipeline on a bounded worker pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"douyindl/internal/config"
	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/observability"
	"douyindl/internal/storage"
	"douyindl/pkg/calc"
	"douyindl/pkg/gen"
)

// Item status labels.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusFiltered  = "filtered"
	statusCancelled = "cancelled"
)

// Pipeline processes one URL. The returned error is the terminal failure, nil on success;
// the result carries everything else. cancelled is polled at the pipeline's checkpoints.
type Pipeline interface {
	Process(ctx context.Context, index int, rawURL string, cancelled func() bool) (entity.ItemResult, error)
}

// Builder creates the pipeline of one run from its options.
type Builder interface {
	Build(ctx context.Context, opts entity.RunOptions) (Pipeline, error)
}

// Callbacks are invoked from worker goroutines, one at a time.
// A panicking callback is recovered and logged.
type Callbacks struct {
	OnProgress   func(fraction float64, completed, total int)
	OnItemResult func(result entity.ItemResult)
	OnComplete   func(run entity.RunSnapshot)
}

// Orchestrator accepts one run at a time.
type Orchestrator struct {
	log      *slog.Logger
	base     context.Context //nolint:containedctx // runs outlive the request that started them
	builder  Builder
	store    storage.Storer
	metrics  *observability.Metrics
	slowItem time.Duration

	active atomic.Bool

	mu  sync.Mutex
	run *runState
}

type runState struct {
	cancelled atomic.Bool
	done      chan struct{}

	// cbMu orders callbacks so completed counts reach callers in increasing order.
	cbMu sync.Mutex

	mu   sync.Mutex
	snap entity.RunSnapshot
}

// New creates an orchestrator. Runs execute under ctx, not under the context passed to Start.
func New(
	ctx context.Context, log *slog.Logger, cfg *config.Config,
	builder Builder, store storage.Storer, metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		log:      log.With(slog.String("package", "orchestrator")),
		base:     ctx,
		builder:  builder,
		store:    store,
		metrics:  metrics,
		slowItem: cfg.Transfer.SlowItemWarnTime,
	}
}

// Start accepts a run and returns its id without waiting for it.
// It fails with errs.ErrRunActive while another run is in progress.
func (o *Orchestrator) Start(ctx context.Context, urls []string, opts entity.RunOptions, cb Callbacks) (string, error) {
	log := o.log.With(slog.String("func", "Start"))

	if len(urls) == 0 {
		return "", errs.ErrNoURLs
	}

	if !o.active.CompareAndSwap(false, true) {
		return "", errs.ErrRunActive
	}

	if opts.Workers < 1 {
		opts.Workers = consts.DefaultWorkers
	}

	pipeline, err := o.builder.Build(ctx, opts)
	if err != nil {
		o.active.Store(false)

		return "", fmt.Errorf("build pipeline: %w", err)
	}

	now := time.Now()
	state := &runState{
		done: make(chan struct{}),
		snap: entity.RunSnapshot{
			ID:        gen.RunID(),
			Total:     len(urls),
			Options:   opts,
			Results:   make([]entity.ItemResult, 0, len(urls)),
			StartedAt: now,
		},
	}

	o.mu.Lock()
	o.run = state
	o.mu.Unlock()

	o.store.SetRun(ctx, state.snapshot())
	o.metrics.RecordRunStarted()

	log.InfoContext(ctx, "run started",
		slog.String("run_id", state.snap.ID), slog.Int("total", len(urls)), slog.Any("options", opts))

	go o.execute(state, pipeline, urls, cb)

	return state.snap.ID, nil
}

// Cancel asks the active run to stop. In-flight items observe it at their next checkpoint.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	state := o.run
	o.mu.Unlock()

	if !o.active.Load() || state == nil {
		return errs.ErrNoActiveRun
	}

	if state.cancelled.Swap(true) {
		return nil
	}

	state.mu.Lock()
	state.snap.CancelRequested = true
	id := state.snap.ID
	state.mu.Unlock()

	o.store.SetRun(ctx, state.snapshot())
	o.log.InfoContext(ctx, "run cancellation requested", slog.String("run_id", id))

	return nil
}

// Active reports whether a run is in progress.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// Wait blocks until the most recent run has called OnComplete.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	state := o.run
	o.mu.Unlock()

	if state == nil {
		return nil
	}

	select {
	case <-state.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run: %w", ctx.Err())
	}
}

// State returns a copy of the most recent run, or nil before the first run.
func (o *Orchestrator) State() *entity.RunSnapshot {
	o.mu.Lock()
	state := o.run
	o.mu.Unlock()

	if state == nil {
		return nil
	}

	return state.snapshot()
}

type item struct {
	index int
	url   string
}

func (o *Orchestrator) execute(state *runState, pipeline Pipeline, urls []string, cb Callbacks) {
	ctx := o.base
	log := o.log.With(slog.String("run_id", state.snap.ID))

	queue := make(chan item)

	var wg sync.WaitGroup

	for workerID := range state.snap.Options.Workers {
		wg.Add(1)

		go o.worker(ctx, log.With(slog.Int("worker_id", workerID)), state, pipeline, queue, cb, &wg)
	}

	for i, u := range urls {
		queue <- item{index: i, url: u}
	}

	close(queue)
	wg.Wait()

	state.mu.Lock()
	state.snap.Done = true
	state.snap.FinishedAt = time.Now()
	state.snap.Summary.Elapsed = state.snap.FinishedAt.Sub(state.snap.StartedAt).Seconds()
	final := state.snap
	final.Results = append([]entity.ItemResult(nil), state.snap.Results...)
	state.mu.Unlock()

	cancelled := state.cancelled.Load()

	o.store.SetRun(ctx, &final)
	o.metrics.RecordRunCompleted(cancelled)

	log.InfoContext(ctx, "run finished", slog.Bool("cancelled", cancelled), slog.Any("summary", final.Summary))

	o.active.Store(false)

	if cb.OnComplete != nil {
		state.cbMu.Lock()
		o.safeCall(ctx, "OnComplete", func() { cb.OnComplete(final) })
		state.cbMu.Unlock()
	}

	close(state.done)
}

func (o *Orchestrator) worker(
	ctx context.Context, log *slog.Logger, state *runState, pipeline Pipeline,
	queue <-chan item, cb Callbacks, wg *sync.WaitGroup,
) {
	defer wg.Done()

	for it := range queue {
		start := time.Now()

		var (
			result entity.ItemResult
			err    error
		)

		if state.cancelled.Load() {
			result = entity.ItemResult{Index: it.index, SourceURL: it.url}
			err = errs.ErrUserCancelled
		} else {
			result, err = o.process(ctx, pipeline, it, state.cancelled.Load)
		}

		elapsed := time.Since(start)

		result.Index, result.SourceURL = it.index, it.url
		result.ElapsedSeconds = elapsed.Seconds()
		result.Success = err == nil

		if err != nil {
			result.Error = err.Error()
		}

		status := itemStatus(result, err)
		o.metrics.RecordItem(status, elapsed)

		switch {
		case o.slowItem > 0 && elapsed > o.slowItem:
			log.WarnContext(ctx, "slow item", slog.Duration("elapsed", elapsed), slog.Any("result", result))
		case err != nil && status != statusCancelled:
			log.WarnContext(ctx, "item failed", slog.Any("result", result))
		default:
			log.DebugContext(ctx, "item finished", slog.Any("result", result))
		}

		o.finish(ctx, state, result, status == statusCancelled, cb)
	}
}

// process recovers a panicking pipeline into a failed item.
func (o *Orchestrator) process(
	ctx context.Context, pipeline Pipeline, it item, cancelled func() bool,
) (result entity.ItemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.ErrorContext(ctx, "pipeline panic", slog.Int("index", it.index), slog.Any("panic", r))

			result, err = entity.ItemResult{}, fmt.Errorf("%w: pipeline panic: %v", errs.ErrTransferError, r)
		}
	}()

	return pipeline.Process(ctx, it.index, it.url, cancelled)
}

func (o *Orchestrator) finish(ctx context.Context, state *runState, result entity.ItemResult, cancelled bool, cb Callbacks) {
	state.cbMu.Lock()
	defer state.cbMu.Unlock()

	state.mu.Lock()
	state.snap.Completed++
	state.snap.Results = append(state.snap.Results, result)
	state.snap.Summary.Add(result)

	if cancelled {
		state.snap.Summary.Cancelled++
	}

	completed, total := state.snap.Completed, state.snap.Total
	state.mu.Unlock()

	o.store.SetRun(ctx, state.snapshot())

	if cb.OnProgress != nil {
		o.safeCall(ctx, "OnProgress", func() { cb.OnProgress(calc.Fraction(completed, total), completed, total) })
	}

	if cb.OnItemResult != nil {
		o.safeCall(ctx, "OnItemResult", func() { cb.OnItemResult(result) })
	}
}

func (o *Orchestrator) safeCall(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WarnContext(ctx, "callback panic", slog.String("callback", name), slog.Any("panic", r))
		}
	}()

	fn()
}

func (s *runState) snapshot() *entity.RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.snap
	cp.Results = append([]entity.ItemResult(nil), s.snap.Results...)

	return &cp
}

func itemStatus(result entity.ItemResult, err error) string {
	switch {
	case err == nil:
		return statusSucceeded
	case errors.Is(err, errs.ErrUserCancelled):
		return statusCancelled
	case result.FilteredByOrientation:
		return statusFiltered
	default:
		return statusFailed
	}
}
