package storage_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/spf13/afero"

	"douyindl/internal/config"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/storage"
	"douyindl/pkg/logger"
)

func TestCleanupExpiredRuns(t *testing.T) {
	const cleanupInterval = time.Minute

	tests := []struct {
		name string
		ttl  time.Duration
	}{
		{name: "short ttl", ttl: 30 * time.Second},
		{name: "ttl equal to interval", ttl: cleanupInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				ctx, cancel := context.WithCancel(t.Context())
				defer cancel()

				fs := afero.NewMemMapFs()
				if err := afero.WriteFile(fs, "/dl/a/1.mp4", []byte("x"), 0o644); err != nil {
					t.Fatal(err)
				}

				cfg := &config.Config{Storage: config.Storage{TTL: tt.ttl, CleanupInterval: cleanupInterval}}
				storer := storage.New(ctx, logger.Discard(), cfg, fs, nil)

				now := time.Now()

				finished := &entity.RunSnapshot{
					ID:         "finished",
					Done:       true,
					StartedAt:  now,
					FinishedAt: now,
					Results:    []entity.ItemResult{{Success: true, FilePath: "/dl/a/1.mp4"}},
				}
				running := &entity.RunSnapshot{ID: "running", StartedAt: now}
				pinned := &entity.RunSnapshot{ID: "pinned", Done: true, StartedAt: now, ExpiresAt: now.Add(time.Hour)}

				for _, run := range []*entity.RunSnapshot{finished, running, pinned} {
					storer.SetRun(ctx, run)
				}

				time.Sleep(2*cleanupInterval + time.Second)
				synctest.Wait()

				if _, err := storer.GetRun(ctx, "finished"); !errors.Is(err, errs.ErrRunNotFound) {
					t.Fatalf("expected finished run to be cleaned up, got %v", err)
				}

				if _, err := storer.GetRun(ctx, "running"); err != nil {
					t.Fatalf("running run must not expire: %v", err)
				}

				if _, err := storer.GetRun(ctx, "pinned"); err != nil {
					t.Fatalf("run with a later expiry must stay: %v", err)
				}

				if exists, _ := afero.Exists(fs, "/dl/a/1.mp4"); !exists {
					t.Fatal("cleanup must leave downloaded files in place")
				}
			})
		})
	}
}

func TestCleanupDisabled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		cfg := &config.Config{Storage: config.Storage{TTL: time.Second}}
		storer := storage.New(ctx, logger.Discard(), cfg, afero.NewMemMapFs(), nil)

		storer.SetRun(ctx, &entity.RunSnapshot{ID: "r", Done: true})

		time.Sleep(time.Hour)
		synctest.Wait()

		if _, err := storer.GetRun(ctx, "r"); err != nil {
			t.Fatalf("expected run to be kept without a cleanup loop: %v", err)
		}
	})
}
