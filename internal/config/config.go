// Package config handles application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	HTTP     HTTP
	App      App
	Run      Run
	Transfer Transfer
	Resolver Resolver
	Profile  Profile
	Dir      Dir
	Settings Settings
	Storage  Storage
	Proxy    Proxy
	Probe    Probe
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"DOUYINDL_APP_LOG_LEVEL" envDefault:"info"`
	// EnvFile is preloaded before parsing; a missing file is not an error.
	EnvFile string `env:"DOUYINDL_ENV_FILE" envDefault:".env"`
	// LogFile receives the logs while the terminal UI owns stdout.
	LogFile string `env:"DOUYINDL_APP_LOG_FILE" envDefault:"douyindl.log"`
}

// Run holds per-run defaults used when the settings store has no value.
type Run struct {
	Workers           int    `env:"DOUYINDL_RUN_MAX_CONCURRENT"     envDefault:"3"`
	NamingMode        string `env:"DOUYINDL_RUN_NAMING_MODE"        envDefault:"video_id"`
	VideoFormat       string `env:"DOUYINDL_RUN_VIDEO_FORMAT"       envDefault:"auto"`
	OrientationFilter string `env:"DOUYINDL_RUN_ORIENTATION_FILTER" envDefault:"all"`
	OrientationSwap   bool   `env:"DOUYINDL_RUN_ORIENTATION_SWAP"   envDefault:"false"`
}

// Transfer holds the stall/retry parameters of the transfer engine.
type Transfer struct {
	RequestTimeout   time.Duration `env:"DOUYINDL_TRANSFER_REQUEST_TIMEOUT"   envDefault:"300s"`
	StallWindow      time.Duration `env:"DOUYINDL_TRANSFER_STALL_WINDOW"      envDefault:"30s"`
	MaxRetries       int           `env:"DOUYINDL_TRANSFER_MAX_RETRIES"       envDefault:"3"`
	RetryDelay       time.Duration `env:"DOUYINDL_TRANSFER_RETRY_DELAY"       envDefault:"5s"`
	Ceiling          time.Duration `env:"DOUYINDL_TRANSFER_CEILING"           envDefault:"1800s"`
	ChunkSize        int           `env:"DOUYINDL_TRANSFER_CHUNK_SIZE"        envDefault:"8192"`
	StallDetection   bool          `env:"DOUYINDL_TRANSFER_STALL_DETECTION"   envDefault:"true"`
	AutoRetry        bool          `env:"DOUYINDL_TRANSFER_AUTO_RETRY"        envDefault:"true"`
	SkipSlow         bool          `env:"DOUYINDL_TRANSFER_SKIP_SLOW"         envDefault:"true"`
	CleanupAttempts  int           `env:"DOUYINDL_TRANSFER_CLEANUP_ATTEMPTS"  envDefault:"3"`
	CleanupInterval  time.Duration `env:"DOUYINDL_TRANSFER_CLEANUP_INTERVAL"  envDefault:"500ms"`
	CleanupSettle    time.Duration `env:"DOUYINDL_TRANSFER_CLEANUP_SETTLE"    envDefault:"200ms"`
	SlowItemWarnTime time.Duration `env:"DOUYINDL_TRANSFER_SLOW_ITEM_WARNING" envDefault:"5m"`
}

// Resolver holds metadata resolution configuration.
type Resolver struct {
	// Domains are the host fragments recognized as the platform.
	DomainList string   `env:"DOUYINDL_RESOLVER_DOMAINS" envDefault:"douyin.com,iesdouyin.com"`
	Domains    []string `env:"-"`
	// ShortHostList are redirect-shortener host fragments.
	ShortHostList string   `env:"DOUYINDL_RESOLVER_SHORT_HOSTS" envDefault:"v.douyin.com,iesdouyin.com"`
	ShortHosts    []string `env:"-"`

	RedirectTimeout   time.Duration `env:"DOUYINDL_RESOLVER_REDIRECT_TIMEOUT"    envDefault:"15s"`
	ThirdPartyTimeout time.Duration `env:"DOUYINDL_RESOLVER_THIRD_PARTY_TIMEOUT" envDefault:"30s"`
	FirstPartyTimeout time.Duration `env:"DOUYINDL_RESOLVER_FIRST_PARTY_TIMEOUT" envDefault:"15s"`
	PageTimeout       time.Duration `env:"DOUYINDL_RESOLVER_PAGE_TIMEOUT"        envDefault:"15s"`
	Retries           int           `env:"DOUYINDL_RESOLVER_RETRIES"             envDefault:"1"`
	RetryDelay        time.Duration `env:"DOUYINDL_RESOLVER_RETRY_DELAY"         envDefault:"1s"`

	// ThirdPartyList is a comma-separated list of mirror resolver endpoints.
	ThirdPartyList string   `env:"DOUYINDL_RESOLVER_THIRD_PARTY_ENDPOINTS" envDefault:"https://tikvideo.app/api/download,https://tikvideo.app/api/video,https://tikvideo.app/api/parse,https://api.tikvideo.app/download"` //nolint:lll
	ThirdParty     []string `env:"-"`

	// PageBase is used to build page URLs from a resource id.
	PageBase string `env:"DOUYINDL_RESOLVER_PAGE_BASE" envDefault:"https://www.douyin.com"`
}

// Profile holds profile enumeration configuration.
type Profile struct {
	PageSize    int           `env:"DOUYINDL_PROFILE_PAGE_SIZE"    envDefault:"20"`
	PageDelay   time.Duration `env:"DOUYINDL_PROFILE_PAGE_DELAY"   envDefault:"1s"`
	StatusDelay time.Duration `env:"DOUYINDL_PROFILE_STATUS_DELAY" envDefault:"2s"`
	ErrorDelay  time.Duration `env:"DOUYINDL_PROFILE_ERROR_DELAY"  envDefault:"3s"`
	MaxErrors   int           `env:"DOUYINDL_PROFILE_MAX_ERRORS"   envDefault:"5"`
	Timeout     time.Duration `env:"DOUYINDL_PROFILE_TIMEOUT"      envDefault:"15s"`
}

// Storage holds run history configuration.
type Storage struct {
	TTL             time.Duration `env:"DOUYINDL_STORAGE_TTL"              envDefault:"24h"`
	CleanupInterval time.Duration `env:"DOUYINDL_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port             string        `env:"DOUYINDL_HTTP_PORT"              envDefault:":8080"`
	HandlerTimeout   time.Duration `env:"DOUYINDL_HTTP_HANDLER_TIMEOUT"   envDefault:"20s"`
	EnumerateTimeout time.Duration `env:"DOUYINDL_HTTP_ENUMERATE_TIMEOUT" envDefault:"30m"`
	ShutdownTimeout  time.Duration `env:"DOUYINDL_HTTP_SHUTDOWN_TIMEOUT"  envDefault:"10s"`
}

// Dir holds directory paths for downloads and the cookie file.
type Dir struct {
	Downloads string `env:"DOUYINDL_DIR_DOWNLOAD" envDefault:"./downloads"`

	// netscape cookies.txt, used when the settings store has no cookie
	CookieFile string `env:"DOUYINDL_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Downloads, err = filepath.Abs(c.Downloads); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// Settings selects the backend of the settings store.
type Settings struct {
	// Backend is one of "env", "file", "redis".
	Backend  string        `env:"DOUYINDL_SETTINGS_BACKEND"   envDefault:"file"`
	File     string        `env:"DOUYINDL_SETTINGS_FILE"      envDefault:"./settings.yaml"`
	RedisURL string        `env:"DOUYINDL_SETTINGS_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisKey string        `env:"DOUYINDL_SETTINGS_REDIS_KEY" envDefault:"douyindl:settings"`
	CacheTTL time.Duration `env:"DOUYINDL_SETTINGS_CACHE_TTL" envDefault:"1s"`
}

// Probe holds post-download media probing configuration.
type Probe struct {
	// FFprobe enables ffprobe; the native mp4 reader is always the fallback.
	FFprobe bool `env:"DOUYINDL_PROBE_FFPROBE" envDefault:"false"`
	// UseSystemBinary looks ffprobe up in PATH instead of downloading it.
	UseSystemBinary bool   `env:"DOUYINDL_PROBE_USE_SYSTEM_BINARY" envDefault:"true"`
	BinsDir         string `env:"DOUYINDL_PROBE_BINS_DIR"          envDefault:"./bins"`

	FFmpegSHA256SumsURL string `env:"DOUYINDL_PROBE_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                        //nolint:lll
	FFmpegLinuxARM64    string `env:"DOUYINDL_PROBE_FFMPEG_LINUX_ARM64"    envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64    string `env:"DOUYINDL_PROBE_FFMPEG_LINUX_AMD64"    envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (p *Probe) SetAbsPaths() error {
	var err error
	if p.BinsDir, err = filepath.Abs(p.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for platform requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs
	List string `env:"DOUYINDL_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"DOUYINDL_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"DOUYINDL_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the number of failures before a proxy is benched
	MaxFailures int `env:"DOUYINDL_PROXY_MAX_FAILURES" envDefault:"3"`

	Proxies []string `env:"-"`
}

// New loads configuration from environment variables, after preloading the env file.
func New() (*Config, error) {
	cfg := &Config{}

	err := loadEnvFile()
	if err != nil {
		return nil, err
	}

	err = env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.Probe.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set probe absolute paths: %w", err)
	}

	cfg.Proxy.Proxies = splitList(cfg.Proxy.List)
	cfg.Resolver.Domains = splitList(cfg.Resolver.DomainList)
	cfg.Resolver.ShortHosts = splitList(cfg.Resolver.ShortHostList)
	cfg.Resolver.ThirdParty = splitList(cfg.Resolver.ThirdPartyList)

	return cfg, nil
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(list string) []string {
	if list == "" {
		return nil
	}

	var out []string

	for item := range strings.SplitSeq(list, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}

	return out
}

// loadEnvFile applies DOUYINDL_ENV_FILE (default .env). Variables already set win.
func loadEnvFile() error {
	path := os.Getenv("DOUYINDL_ENV_FILE")
	if path == "" {
		path = ".env"
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}
