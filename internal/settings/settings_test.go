package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"douyindl/internal/config"
	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Run: config.Run{
			Workers:           3,
			NamingMode:        "video_id",
			VideoFormat:       "auto",
			OrientationFilter: "all",
		},
		Transfer: config.Transfer{
			RequestTimeout: 300 * time.Second,
			StallWindow:    30 * time.Second,
			MaxRetries:     3,
			RetryDelay:     5 * time.Second,
			Ceiling:        1800 * time.Second,
			ChunkSize:      8192,
			StallDetection: true,
			AutoRetry:      true,
			SkipSlow:       true,
		},
		Dir:      config.Dir{Downloads: "/downloads"},
		Settings: config.Settings{CacheTTL: time.Second},
	}
}

type countingBackend struct {
	loads atomic.Int32
	snap  Snapshot
	err   error
}

func (b *countingBackend) Load(context.Context) (Snapshot, error) {
	b.loads.Add(1)

	return b.snap, b.err
}

func TestDecodeHash(t *testing.T) {
	t.Parallel()

	snap := decodeHash(map[string]string{
		"cookie":          "sessionid=1",
		"download_folder": "/data",
		"max_concurrent":  "5",
	})

	require.Equal(t, "sessionid=1", snap.Cookie)
	require.Equal(t, "/data", snap.DownloadFolder)
	require.Equal(t, map[string]string{"max_concurrent": "5"}, snap.Values)
}

func TestFileBackend(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	doc := `cookie: "sessionid=abc"
download_folder: /data/videos
settings:
  max_concurrent: 4
  orientation_filter: vertical
  enable_auto_retry: false
  unset: null
`
	require.NoError(t, afero.WriteFile(fs, "/settings.yaml", []byte(doc), 0o600))

	snap, err := NewFileBackend(fs, "/settings.yaml").Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sessionid=abc", snap.Cookie)
	require.Equal(t, "/data/videos", snap.DownloadFolder)
	require.Equal(t, map[string]string{
		"max_concurrent":     "4",
		"orientation_filter": "vertical",
		"enable_auto_retry":  "false",
	}, snap.Values)

	snap, err = NewFileBackend(fs, "/missing.yaml").Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Cookie)

	require.NoError(t, afero.WriteFile(fs, "/broken.yaml", []byte("settings: [1, 2"), 0o600))
	_, err = NewFileBackend(fs, "/broken.yaml").Load(context.Background())
	require.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	b, closeFn, err := NewBackend(config.Settings{Backend: BackendEnv}, fs)
	require.NoError(t, err)
	require.IsType(t, EnvBackend{}, b)
	require.NoError(t, closeFn())

	b, _, err = NewBackend(config.Settings{Backend: BackendFile, File: "/s.yaml"}, fs)
	require.NoError(t, err)
	require.IsType(t, &FileBackend{}, b)

	b, closeFn, err = NewBackend(config.Settings{Backend: BackendRedis, RedisURL: "redis://localhost:6379/0", RedisKey: "k"}, fs)
	require.NoError(t, err)
	require.IsType(t, &RedisBackend{}, b)
	require.NoError(t, closeFn())

	_, _, err = NewBackend(config.Settings{Backend: BackendRedis, RedisURL: "://bad"}, fs)
	require.Error(t, err)

	_, closeFn, err = NewBackend(config.Settings{Backend: "etcd"}, fs)
	require.ErrorIs(t, err, errs.ErrUnknownBackend)
	require.NotNil(t, closeFn)
}

func TestCachedTTL(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{snap: Snapshot{Values: map[string]string{consts.SettingMaxConcurrent: "7"}}}
	c := NewCached(logger.Discard(), backend, testConfig(), afero.NewMemMapFs(), nil)

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	require.Equal(t, 7, c.Int(ctx, consts.SettingMaxConcurrent, 1))
	require.Equal(t, 7, c.Int(ctx, consts.SettingMaxConcurrent, 1))
	require.EqualValues(t, 1, backend.loads.Load())

	now = now.Add(2 * time.Second)
	require.Equal(t, 7, c.Int(ctx, consts.SettingMaxConcurrent, 1))
	require.EqualValues(t, 2, backend.loads.Load())
}

func TestCachedKeepsPreviousOnFailure(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{snap: Snapshot{DownloadFolder: "/stored"}}
	c := NewCached(logger.Discard(), backend, testConfig(), afero.NewMemMapFs(), nil)

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	require.Equal(t, "/stored", c.DownloadFolder(ctx))

	backend.err = errors.New("store down")
	now = now.Add(time.Minute)

	require.Equal(t, "/stored", c.DownloadFolder(ctx))
	require.EqualValues(t, 2, backend.loads.Load())
}

func TestCachedRelativeFolder(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{snap: Snapshot{DownloadFolder: "videos/douyin"}}
	c := NewCached(logger.Discard(), backend, testConfig(), afero.NewMemMapFs(), nil)

	want, err := filepath.Abs("videos/douyin")
	require.NoError(t, err)

	ctx := context.Background()
	require.Equal(t, want, c.DownloadFolder(ctx))
	require.Equal(t, want, c.RunOptions(ctx).DownloadFolder)
}

func TestCachedTypedGetters(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{snap: Snapshot{Values: map[string]string{
		"int":      " 12 ",
		"bad_int":  "twelve",
		"bool":     "true",
		"seconds":  "1.5",
		"negative": "-3",
		"blank":    "   ",
	}}}
	c := NewCached(logger.Discard(), backend, testConfig(), afero.NewMemMapFs(), nil)
	ctx := context.Background()

	require.Equal(t, 12, c.Int(ctx, "int", 0))
	require.Equal(t, 9, c.Int(ctx, "bad_int", 9))
	require.True(t, c.Bool(ctx, "bool", false))
	require.True(t, c.Bool(ctx, "missing", true))
	require.Equal(t, 1500*time.Millisecond, c.Duration(ctx, "seconds", 0))
	require.Equal(t, time.Second, c.Duration(ctx, "negative", time.Second))
	require.Equal(t, "def", c.Setting(ctx, "blank", "def"))
}

func TestCookie(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cookies := ".douyin.com\tTRUE\t/\tTRUE\t1999999999\tsessionid\tfromfile\n"
	require.NoError(t, afero.WriteFile(fs, "/cookies.txt", []byte(cookies), 0o600))

	cfg := testConfig()
	cfg.Dir.CookieFile = "/cookies.txt"

	stored := NewCached(logger.Discard(), &countingBackend{snap: Snapshot{Cookie: " sessionid=stored\n"}}, cfg, fs, nil)
	require.Equal(t, "sessionid=stored", stored.Cookie(context.Background()))

	fallback := NewCached(logger.Discard(), &countingBackend{}, cfg, fs, nil)
	require.Equal(t, "sessionid=fromfile", fallback.Cookie(context.Background()))

	cfg2 := testConfig()
	cfg2.Dir.CookieFile = "/missing.txt"

	missing := NewCached(logger.Discard(), &countingBackend{}, cfg2, fs, nil)
	require.Empty(t, missing.Cookie(context.Background()))
}

func TestRunOptions(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		c := NewCached(logger.Discard(), EnvBackend{}, testConfig(), afero.NewMemMapFs(), nil)
		opts := c.RunOptions(context.Background())

		require.Equal(t, "/downloads", opts.DownloadFolder)
		require.Equal(t, entity.NamingResourceID, opts.NamingMode)
		require.Equal(t, entity.QualityAuto, opts.Quality)
		require.Equal(t, entity.FilterAll, opts.OrientationFilter)
		require.Equal(t, 3, opts.Workers)
		require.Empty(t, opts.Cookie)
		require.Equal(t, entity.TransferParams{
			RequestTimeout: 300 * time.Second,
			StallWindow:    30 * time.Second,
			MaxRetries:     3,
			RetryDelay:     5 * time.Second,
			Ceiling:        1800 * time.Second,
			ChunkSize:      8192,
			StallDetection: true,
			AutoRetry:      true,
			SkipSlow:       true,
		}, opts.Transfer)
	})

	t.Run("stored values", func(t *testing.T) {
		t.Parallel()

		backend := &countingBackend{snap: Snapshot{
			DownloadFolder: "/custom",
			Values: map[string]string{
				consts.SettingNamingMode:        "timestamp",
				consts.SettingVideoFormat:       "low",
				consts.SettingOrientationFilter: "vertical",
				consts.SettingOrientationSwap:   "true",
				consts.SettingMaxConcurrent:     "5",
				consts.SettingDownloadTimeout:   "60",
				consts.SettingChunkTimeout:      "10",
				consts.SettingMaxRetries:        "1",
				consts.SettingRetryDelay:        "2",
				consts.SettingMaxDownloadTime:   "600",
				consts.SettingTimeoutDetection:  "false",
				consts.SettingAutoRetry:         "false",
				consts.SettingSkipSlowVideos:    "false",
				consts.SettingChunkSize:         "4096",
			},
		}}

		c := NewCached(logger.Discard(), backend, testConfig(), afero.NewMemMapFs(), nil)
		opts := c.RunOptions(context.Background())

		require.Equal(t, "/custom", opts.DownloadFolder)
		require.Equal(t, entity.NamingTimestamp, opts.NamingMode)
		require.Equal(t, entity.QualityLow, opts.Quality)
		require.Equal(t, entity.FilterVertical, opts.OrientationFilter)
		require.True(t, opts.OrientationSwap)
		require.Equal(t, 5, opts.Workers)
		require.Equal(t, entity.TransferParams{
			RequestTimeout: 60 * time.Second,
			StallWindow:    10 * time.Second,
			MaxRetries:     1,
			RetryDelay:     2 * time.Second,
			Ceiling:        600 * time.Second,
			ChunkSize:      4096,
		}, opts.Transfer)
	})

	t.Run("invalid values fall back", func(t *testing.T) {
		t.Parallel()

		backend := &countingBackend{snap: Snapshot{Values: map[string]string{
			consts.SettingNamingMode:        "random",
			consts.SettingVideoFormat:       "8k",
			consts.SettingOrientationFilter: "diagonal",
			consts.SettingMaxConcurrent:     "0",
			consts.SettingMaxRetries:        "-2",
			consts.SettingChunkSize:         "0",
		}}}

		c := NewCached(logger.Discard(), backend, testConfig(), afero.NewMemMapFs(), nil)
		opts := c.RunOptions(context.Background())

		require.Equal(t, entity.NamingResourceID, opts.NamingMode)
		require.Equal(t, entity.QualityAuto, opts.Quality)
		require.Equal(t, entity.FilterAll, opts.OrientationFilter)
		require.Equal(t, consts.DefaultWorkers, opts.Workers)
		require.Zero(t, opts.Transfer.MaxRetries)
		require.Equal(t, 1, opts.Transfer.ChunkSize)
	})
}

// TestRedisBackend runs against a live server when DOUYINDL_TEST_REDIS_URL is set.
func TestRedisBackend(t *testing.T) {
	url := os.Getenv("DOUYINDL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DOUYINDL_TEST_REDIS_URL not set")
	}

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)

	cl := redis.NewClient(opt)
	t.Cleanup(func() { _ = cl.Close() })

	ctx := context.Background()
	key := "douyindl:test:" + t.Name()

	require.NoError(t, cl.HSet(ctx, key, "cookie", "sessionid=r", consts.SettingMaxConcurrent, "2").Err())
	t.Cleanup(func() { cl.Del(context.Background(), key) })

	snap, err := NewRedisBackend(cl, key).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "sessionid=r", snap.Cookie)
	require.Equal(t, "2", snap.Values[consts.SettingMaxConcurrent])

	empty, err := NewRedisBackend(cl, key+":absent").Load(ctx)
	require.NoError(t, err)
	require.Empty(t, empty.Values)
}
