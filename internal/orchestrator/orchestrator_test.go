package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"douyindl/internal/config"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/storage"
	"douyindl/pkg/logger"
)

type funcPipeline func(ctx context.Context, index int, rawURL string, cancelled func() bool) (entity.ItemResult, error)

func (f funcPipeline) Process(ctx context.Context, index int, rawURL string, cancelled func() bool) (entity.ItemResult, error) {
	return f(ctx, index, rawURL, cancelled)
}

type stubBuilder struct {
	pipeline Pipeline
	err      error
}

func (b stubBuilder) Build(context.Context, entity.RunOptions) (Pipeline, error) {
	return b.pipeline, b.err
}

func newTestOrchestrator(ctx context.Context, p Pipeline) (*Orchestrator, storage.Storer) {
	cfg := &config.Config{Transfer: config.Transfer{SlowItemWarnTime: time.Minute}, Storage: config.Storage{TTL: time.Hour}}
	store := storage.New(ctx, logger.Discard(), cfg, afero.NewMemMapFs(), nil)

	return New(ctx, logger.Discard(), cfg, stubBuilder{pipeline: p}, store, nil), store
}

func urlsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://www.douyin.com/video/%d", i)
	}

	return out
}

// recorder captures callbacks; completeAfterLast is false if any item arrived after OnComplete.
type recorder struct {
	mu          sync.Mutex
	progress    []int
	results     []entity.ItemResult
	completions int
	lateItem    bool
	final       entity.RunSnapshot
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(_ float64, completed, _ int) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.progress = append(r.progress, completed)
		},
		OnItemResult: func(res entity.ItemResult) {
			r.mu.Lock()
			defer r.mu.Unlock()

			if r.completions > 0 {
				r.lateItem = true
			}

			r.results = append(r.results, res)
		},
		OnComplete: func(run entity.RunSnapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.completions++
			r.final = run
		},
	}
}

func TestRunDeliversEveryResult(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			inFlight atomic.Int32
			peak     atomic.Int32
		)

		p := funcPipeline(func(_ context.Context, index int, _ string, _ func() bool) (entity.ItemResult, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)

			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}

			time.Sleep(time.Duration(10-index) * time.Second)

			if index%3 == 0 {
				return entity.ItemResult{RetryCount: 1}, fmt.Errorf("%w: boom", errs.ErrTransferError)
			}

			return entity.ItemResult{BytesWritten: 100, FilePath: fmt.Sprintf("/dl/%d.mp4", index)}, nil
		})

		o, store := newTestOrchestrator(t.Context(), p)

		var rec recorder

		id, err := o.Start(t.Context(), urlsN(9), entity.RunOptions{Workers: 3, DownloadFolder: "/dl"}, rec.callbacks())
		require.NoError(t, err)
		require.NotEmpty(t, id)
		require.True(t, o.Active())

		require.NoError(t, o.Wait(t.Context()))
		require.False(t, o.Active())

		rec.mu.Lock()
		defer rec.mu.Unlock()

		require.Len(t, rec.results, 9)
		require.Equal(t, 1, rec.completions)
		require.False(t, rec.lateItem)
		require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, rec.progress)
		require.LessOrEqual(t, peak.Load(), int32(3))

		seen := make(map[int]bool)
		for _, r := range rec.results {
			seen[r.Index] = true
			require.Equal(t, fmt.Sprintf("https://www.douyin.com/video/%d", r.Index), r.SourceURL)
			require.Equal(t, r.Index%3 != 0, r.Success)

			if !r.Success {
				require.Contains(t, r.Error, "boom")
			}
		}

		require.Len(t, seen, 9)

		require.True(t, rec.final.Done)
		require.Equal(t, 9, rec.final.Completed)
		require.Equal(t, entity.RunSummary{
			Succeeded: 6,
			Failed:    3,
			Retries:   3,
			Bytes:     600,
			Elapsed:   rec.final.Summary.Elapsed,
		}, rec.final.Summary)

		stored, err := store.GetRun(t.Context(), id)
		require.NoError(t, err)
		require.True(t, stored.Done)
		require.Len(t, stored.Results, 9)
		require.False(t, stored.ExpiresAt.IsZero())
	})
}

func TestStartRejections(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})
		p := funcPipeline(func(context.Context, int, string, func() bool) (entity.ItemResult, error) {
			<-release

			return entity.ItemResult{}, nil
		})

		o, _ := newTestOrchestrator(t.Context(), p)

		_, err := o.Start(t.Context(), nil, entity.RunOptions{}, Callbacks{})
		require.ErrorIs(t, err, errs.ErrNoURLs)

		require.ErrorIs(t, o.Cancel(t.Context()), errs.ErrNoActiveRun)
		require.Nil(t, o.State())
		require.NoError(t, o.Wait(t.Context()))

		_, err = o.Start(t.Context(), urlsN(1), entity.RunOptions{}, Callbacks{})
		require.NoError(t, err)

		_, err = o.Start(t.Context(), urlsN(1), entity.RunOptions{}, Callbacks{})
		require.ErrorIs(t, err, errs.ErrRunActive)

		close(release)
		require.NoError(t, o.Wait(t.Context()))

		_, err = o.Start(t.Context(), urlsN(1), entity.RunOptions{}, Callbacks{})
		require.NoError(t, err, "a finished run must not block the next")
		require.NoError(t, o.Wait(t.Context()))
	})
}

func TestBuildFailureReleasesRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := &config.Config{}
		store := storage.New(t.Context(), logger.Discard(), cfg, afero.NewMemMapFs(), nil)
		o := New(t.Context(), logger.Discard(), cfg, stubBuilder{err: errors.New("no folder")}, store, nil)

		_, err := o.Start(t.Context(), urlsN(2), entity.RunOptions{}, Callbacks{})
		require.ErrorContains(t, err, "no folder")
		require.False(t, o.Active())
	})
}

func TestCancelDrainsQueue(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var started atomic.Int32

		p := funcPipeline(func(ctx context.Context, _ int, _ string, cancelled func() bool) (entity.ItemResult, error) {
			started.Add(1)

			// a transfer polling the flag per chunk
			for !cancelled() {
				time.Sleep(time.Second)
			}

			return entity.ItemResult{}, errs.ErrUserCancelled
		})

		o, _ := newTestOrchestrator(t.Context(), p)

		var rec recorder

		_, err := o.Start(t.Context(), urlsN(6), entity.RunOptions{Workers: 2}, rec.callbacks())
		require.NoError(t, err)

		time.Sleep(5 * time.Second)
		synctest.Wait()
		require.EqualValues(t, 2, started.Load())

		require.NoError(t, o.Cancel(t.Context()))
		require.NoError(t, o.Cancel(t.Context()), "second cancel is a no-op")
		require.NoError(t, o.Wait(t.Context()))

		require.EqualValues(t, 2, started.Load(), "no new item may start after cancel")

		rec.mu.Lock()
		defer rec.mu.Unlock()

		require.Len(t, rec.results, 6)
		require.Equal(t, 1, rec.completions)

		for _, r := range rec.results {
			require.False(t, r.Success)
			require.Contains(t, r.Error, errs.ErrUserCancelled.Error())
		}

		require.True(t, rec.final.CancelRequested)
		require.Equal(t, 6, rec.final.Summary.Cancelled)
		require.Equal(t, 6, rec.final.Summary.Failed)
	})
}

func TestPanicsAreContained(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := funcPipeline(func(_ context.Context, index int, _ string, _ func() bool) (entity.ItemResult, error) {
			if index == 0 {
				panic("pipeline bug")
			}

			return entity.ItemResult{}, nil
		})

		o, _ := newTestOrchestrator(t.Context(), p)

		var (
			mu      sync.Mutex
			results []entity.ItemResult
			done    atomic.Int32
		)

		cb := Callbacks{
			OnProgress: func(float64, int, int) { panic("progress bug") },
			OnItemResult: func(r entity.ItemResult) {
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			},
			OnComplete: func(entity.RunSnapshot) {
				done.Add(1)
				panic("complete bug")
			},
		}

		_, err := o.Start(t.Context(), urlsN(3), entity.RunOptions{Workers: 1}, cb)
		require.NoError(t, err)
		require.NoError(t, o.Wait(t.Context()))

		require.EqualValues(t, 1, done.Load())

		mu.Lock()
		defer mu.Unlock()

		require.Len(t, results, 3)
		require.False(t, results[0].Success)
		require.True(t, strings.Contains(results[0].Error, "pipeline panic"))
		require.True(t, results[1].Success)
	})
}

func TestItemStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		result entity.ItemResult
		err    error
		want   string
	}{
		{want: statusSucceeded},
		{err: errs.ErrTransferTimeout, want: statusFailed},
		{err: fmt.Errorf("%w: x", errs.ErrUserCancelled), want: statusCancelled},
		{result: entity.ItemResult{FilteredByOrientation: true}, err: errs.ErrOrientationMismatch, want: statusFiltered},
	}

	for _, tc := range tests {
		require.Equal(t, tc.want, itemStatus(tc.result, tc.err))
	}
}
