// Package settings reads user settings from a backing store with a short-lived cache.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"douyindl/internal/config"
	"douyindl/internal/errs"
)

// Backend names.
const (
	BackendEnv   = "env"
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Hash fields with a dedicated meaning; every other field is a setting.
const (
	fieldCookie         = "cookie"
	fieldDownloadFolder = "download_folder"
)

// Snapshot is one read of the store.
type Snapshot struct {
	Cookie         string
	DownloadFolder string
	Values         map[string]string
}

// Backend loads a snapshot of the store.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
}

// NewBackend builds the backend named in cfg. The returned close function is never nil.
func NewBackend(cfg config.Settings, fs afero.Fs) (Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendEnv, "":
		return EnvBackend{}, noop, nil
	case BackendFile:
		return NewFileBackend(fs, cfg.File), noop, nil
	case BackendRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("parse redis url: %w", err)
		}

		cl := redis.NewClient(opt)

		return NewRedisBackend(cl, cfg.RedisKey), cl.Close, nil
	}

	return nil, noop, fmt.Errorf("%w: %q", errs.ErrUnknownBackend, cfg.Backend)
}

// EnvBackend has no store; every value falls back to configuration.
type EnvBackend struct{}

// Load implements Backend.
func (EnvBackend) Load(context.Context) (Snapshot, error) {
	return Snapshot{}, nil
}

// FileBackend reads a YAML settings file:
//
//	cookie: "sessionid=..."
//	download_folder: /data/videos
//	settings:
//	  max_concurrent: 3
//	  orientation_filter: vertical
type FileBackend struct {
	fs   afero.Fs
	path string
}

// NewFileBackend creates a file backend. A missing file reads as empty.
func NewFileBackend(fs afero.Fs, path string) *FileBackend {
	return &FileBackend{fs: fs, path: path}
}

type fileDoc struct {
	Cookie         string         `yaml:"cookie"`
	DownloadFolder string         `yaml:"download_folder"`
	Settings       map[string]any `yaml:"settings"`
}

// Load implements Backend.
func (b *FileBackend) Load(context.Context) (Snapshot, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}

	if err != nil {
		return Snapshot{}, fmt.Errorf("read settings file: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("parse settings file: %w", err)
	}

	values := make(map[string]string, len(doc.Settings))
	for k, v := range doc.Settings {
		if v != nil {
			values[k] = fmt.Sprint(v)
		}
	}

	return Snapshot{Cookie: doc.Cookie, DownloadFolder: doc.DownloadFolder, Values: values}, nil
}

// RedisBackend reads a single hash.
type RedisBackend struct {
	cl  *redis.Client
	key string
}

// NewRedisBackend creates a Redis backend over the hash at key.
func NewRedisBackend(cl *redis.Client, key string) *RedisBackend {
	return &RedisBackend{cl: cl, key: key}
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) (Snapshot, error) {
	fields, err := b.cl.HGetAll(ctx, b.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("hgetall %s: %w", b.key, err)
	}

	return decodeHash(fields), nil
}

func decodeHash(fields map[string]string) Snapshot {
	snap := Snapshot{Values: make(map[string]string, len(fields))}

	for k, v := range fields {
		switch k {
		case fieldCookie:
			snap.Cookie = v
		case fieldDownloadFolder:
			snap.DownloadFolder = v
		default:
			snap.Values[k] = v
		}
	}

	return snap
}
