// Package storage keeps the history of runs in memory.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"douyindl/internal/config"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/observability"
)

// Storer defines the interface for run history operations.
type Storer interface {
	// SetRun stores a copy of run, replacing any previous snapshot with the same id.
	SetRun(ctx context.Context, run *entity.RunSnapshot)
	GetRun(ctx context.Context, id string) (*entity.RunSnapshot, error)
	// GetRuns returns every stored run, newest first.
	GetRuns(ctx context.Context) ([]*entity.RunSnapshot, error)

	// DeleteItemFile removes the file an item produced and marks the item deleted.
	DeleteItemFile(ctx context.Context, runID string, index int) (entity.ItemResult, error)

	CleanupExpiredRuns(ctx context.Context, interval time.Duration)
}

type storage struct {
	log     *slog.Logger
	cfg     *config.Config
	fs      afero.Fs
	metrics *observability.Metrics

	mu   sync.RWMutex
	runs map[string]*entity.RunSnapshot // run id : snapshot
}

// New creates a new in-memory storage instance and starts its cleanup loop.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, fs afero.Fs, metrics *observability.Metrics) Storer {
	stg := &storage{
		log:     log.With(slog.String("package", "storage")),
		cfg:     cfg,
		fs:      fs,
		metrics: metrics,
		runs:    make(map[string]*entity.RunSnapshot),
	}

	go stg.CleanupExpiredRuns(ctx, cfg.Storage.CleanupInterval)

	return stg
}

func (stg *storage) SetRun(ctx context.Context, run *entity.RunSnapshot) {
	if run == nil || run.ID == "" {
		stg.log.ErrorContext(ctx, "set run: nil run or empty id")

		return
	}

	stored := clone(run)
	if stored.Done && stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = time.Now().Add(stg.cfg.Storage.TTL)
	}

	stg.mu.Lock()
	defer stg.mu.Unlock()

	// deletions are recorded here, not by the run
	if prev, ok := stg.runs[run.ID]; ok {
		for i := range stored.Results {
			if deleted(prev, stored.Results[i].Index) {
				stored.Results[i].Deleted = true
			}
		}
	}

	stg.runs[run.ID] = stored
	stg.metrics.SetStoredRuns(len(stg.runs))
}

func (stg *storage) GetRun(_ context.Context, id string) (*entity.RunSnapshot, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	run := stg.runs[id]
	if run == nil {
		return nil, errs.ErrRunNotFound
	}

	return clone(run), nil
}

func (stg *storage) GetRuns(_ context.Context) ([]*entity.RunSnapshot, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	if len(stg.runs) == 0 {
		return nil, errs.ErrNoRuns
	}

	runs := make([]*entity.RunSnapshot, 0, len(stg.runs))
	for _, run := range stg.runs {
		runs = append(runs, clone(run))
	}

	slices.SortFunc(runs, func(a, b *entity.RunSnapshot) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	return runs, nil
}

func (stg *storage) DeleteItemFile(ctx context.Context, runID string, index int) (entity.ItemResult, error) {
	log := stg.log.With(slog.String("func", "DeleteItemFile"), slog.String("run_id", runID), slog.Int("index", index))

	stg.mu.Lock()
	defer stg.mu.Unlock()

	run := stg.runs[runID]
	if run == nil {
		return entity.ItemResult{}, errs.ErrRunNotFound
	}

	pos := slices.IndexFunc(run.Results, func(r entity.ItemResult) bool { return r.Index == index })
	if pos < 0 {
		return entity.ItemResult{}, errs.ErrItemNotFound
	}

	item := &run.Results[pos]
	if item.Deleted {
		return *item, nil
	}

	if !item.Success || item.FilePath == "" {
		return *item, errs.ErrNoFile
	}

	if !within(run.Options.DownloadFolder, item.FilePath) {
		log.ErrorContext(ctx, "file outside download folder", slog.String("file_path", item.FilePath))

		return *item, fmt.Errorf("%w: %s is outside the download folder", errs.ErrNoFile, item.FilePath)
	}

	err := stg.fs.Remove(item.FilePath)
	if err != nil && !os.IsNotExist(err) {
		return *item, fmt.Errorf("remove %s: %w", item.FilePath, err)
	}

	item.Deleted = true

	log.InfoContext(ctx, "item file deleted", slog.String("file_path", item.FilePath))

	return *item, nil
}

func within(folder, path string) bool {
	if folder == "" || path == "" {
		return false
	}

	folder, ferr := filepath.Abs(folder)
	path, perr := filepath.Abs(path)

	if ferr != nil || perr != nil {
		return false
	}

	rel, err := filepath.Rel(folder, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func deleted(run *entity.RunSnapshot, index int) bool {
	for _, r := range run.Results {
		if r.Index == index {
			return r.Deleted
		}
	}

	return false
}

func clone(run *entity.RunSnapshot) *entity.RunSnapshot {
	cp := *run
	cp.Results = slices.Clone(run.Results)

	return &cp
}
