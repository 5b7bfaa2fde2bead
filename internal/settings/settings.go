package settings

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"douyindl/internal/config"
	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/observability"
	"douyindl/internal/session"
)

// Cached reads through to a Backend at most once per TTL.
// A failed load keeps serving the previous snapshot.
type Cached struct {
	log      *slog.Logger
	backend  Backend
	cfg      *config.Config
	fs       afero.Fs
	metrics  *observability.Metrics
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	snap     Snapshot
	loadedAt time.Time
	loaded   bool
}

// NewCached wraps backend. cfg supplies the defaults for missing keys; fs is used for the cookie file.
func NewCached(
	log *slog.Logger, backend Backend, cfg *config.Config, fs afero.Fs, metrics *observability.Metrics,
) *Cached {
	ttl := cfg.Settings.CacheTTL
	if ttl <= 0 {
		ttl = consts.DefaultSettingsCacheTTL
	}

	return &Cached{
		log:     log.With(slog.String("package", "settings")),
		backend: backend,
		cfg:     cfg,
		fs:      fs,
		metrics: metrics,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cached) snapshot(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.loaded && now.Sub(c.loadedAt) < c.ttl {
		return c.snap
	}

	snap, err := c.backend.Load(ctx)
	c.metrics.RecordSettingsLoad(err == nil)

	if err != nil {
		c.log.WarnContext(ctx, "settings load failed, using previous values", slog.Any("error", err))
	} else {
		c.snap = snap
	}

	c.loaded, c.loadedAt = true, now

	return c.snap
}

// Cookie returns the stored cookie, else the cookie file's cookies, else "".
func (c *Cached) Cookie(ctx context.Context) string {
	if cookie := session.CleanCookie(c.snapshot(ctx).Cookie); cookie != "" {
		return cookie
	}

	if c.cfg.Dir.CookieFile == "" {
		return ""
	}

	cookie, err := session.LoadNetscapeFile(c.fs, c.cfg.Dir.CookieFile)
	if err != nil {
		c.log.WarnContext(ctx, "cookie file unreadable",
			slog.String("path", c.cfg.Dir.CookieFile), slog.Any("error", err))

		return ""
	}

	return cookie
}

// DownloadFolder returns the stored folder as an absolute path, or the configured default.
func (c *Cached) DownloadFolder(ctx context.Context) string {
	if folder := strings.TrimSpace(c.snapshot(ctx).DownloadFolder); folder != "" {
		if abs, err := filepath.Abs(folder); err == nil {
			return abs
		}

		return folder
	}

	return c.cfg.Dir.Downloads
}

// Setting returns the raw value for key, or def when absent.
func (c *Cached) Setting(ctx context.Context, key, def string) string {
	if v, ok := c.snapshot(ctx).Values[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}

	return def
}

// Int returns key parsed as an integer, or def.
func (c *Cached) Int(ctx context.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Setting(ctx, key, ""))
	if err != nil {
		return def
	}

	return v
}

// Bool returns key parsed as a boolean, or def.
func (c *Cached) Bool(ctx context.Context, key string, def bool) bool {
	v, err := strconv.ParseBool(c.Setting(ctx, key, ""))
	if err != nil {
		return def
	}

	return v
}

// Duration returns key, stored in seconds, or def.
func (c *Cached) Duration(ctx context.Context, key string, def time.Duration) time.Duration {
	v, err := strconv.ParseFloat(c.Setting(ctx, key, ""), 64)
	if err != nil || v < 0 {
		return def
	}

	return time.Duration(v * float64(time.Second))
}

// RunOptions assembles the options of a new run from the store and configuration.
func (c *Cached) RunOptions(ctx context.Context) entity.RunOptions {
	run, tr := c.cfg.Run, c.cfg.Transfer

	naming := entity.NamingMode(c.Setting(ctx, consts.SettingNamingMode, run.NamingMode))
	if naming != entity.NamingResourceID && naming != entity.NamingTimestamp {
		naming = entity.NamingResourceID
	}

	quality := entity.Quality(c.Setting(ctx, consts.SettingVideoFormat, run.VideoFormat))
	switch quality {
	case entity.QualityAuto, entity.QualityHighest, entity.QualityHigh, entity.QualityMedium, entity.QualityLow:
	default:
		quality = entity.QualityAuto
	}

	filter := entity.OrientationFilter(c.Setting(ctx, consts.SettingOrientationFilter, run.OrientationFilter))
	if !filter.Active() {
		filter = entity.FilterAll
	}

	workers := c.Int(ctx, consts.SettingMaxConcurrent, run.Workers)
	if workers < 1 {
		workers = consts.DefaultWorkers
	}

	return entity.RunOptions{
		DownloadFolder:    c.DownloadFolder(ctx),
		NamingMode:        naming,
		Quality:           quality,
		OrientationFilter: filter,
		OrientationSwap:   c.Bool(ctx, consts.SettingOrientationSwap, run.OrientationSwap),
		Workers:           workers,
		Cookie:            c.Cookie(ctx),
		Transfer: entity.TransferParams{
			RequestTimeout: c.Duration(ctx, consts.SettingDownloadTimeout, tr.RequestTimeout),
			StallWindow:    c.Duration(ctx, consts.SettingChunkTimeout, tr.StallWindow),
			MaxRetries:     max(0, c.Int(ctx, consts.SettingMaxRetries, tr.MaxRetries)),
			RetryDelay:     c.Duration(ctx, consts.SettingRetryDelay, tr.RetryDelay),
			Ceiling:        c.Duration(ctx, consts.SettingMaxDownloadTime, tr.Ceiling),
			ChunkSize:      max(1, c.Int(ctx, consts.SettingChunkSize, tr.ChunkSize)),
			StallDetection: c.Bool(ctx, consts.SettingTimeoutDetection, tr.StallDetection),
			AutoRetry:      c.Bool(ctx, consts.SettingAutoRetry, tr.AutoRetry),
			SkipSlow:       c.Bool(ctx, consts.SettingSkipSlowVideos, tr.SkipSlow),
		},
	}
}
