// Package placer derives destination paths for downloaded videos and applies
// the post-download orientation check.
package placer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/probe"
)

const dirPerm = 0o755

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Placer picks collision-free file paths under the download folder.
type Placer struct {
	log   *slog.Logger
	fs    afero.Fs
	probe probe.Prober
	now   func() time.Time

	// mu serializes path reservation so concurrent workers cannot pick the same name.
	mu       sync.Mutex
	reserved map[string]struct{}
}

// New creates a placer. p may be nil, in which case orientation checks keep every file.
func New(log *slog.Logger, fs afero.Fs, p probe.Prober) *Placer {
	return &Placer{
		log:      log.With(slog.String("package", "placer")),
		fs:       fs,
		probe:    p,
		now:      time.Now,
		reserved: make(map[string]struct{}),
	}
}

// SanitizeAuthor makes an author name safe for use as a folder name.
func SanitizeAuthor(author string) string {
	name := strings.TrimSpace(unsafeChars.ReplaceAllString(strings.TrimSpace(author), "_"))
	if name == "" {
		return consts.UnknownAuthor
	}

	return name
}

// Destination creates <folder>/<author>/ and returns a path that does not exist yet.
// Collisions get a numeric suffix: name.mp4, name_1.mp4, name_2.mp4.
func (p *Placer) Destination(folder string, desc *entity.MediaDescriptor, mode entity.NamingMode) (string, error) {
	dir := filepath.Join(folder, SanitizeAuthor(desc.Author))
	base := p.baseName(desc.ResourceID, mode)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fs.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create author folder: %w", err)
	}

	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name += "_" + strconv.Itoa(i)
		}

		path := filepath.Join(dir, name+consts.MediaExt)

		if _, taken := p.reserved[path]; taken {
			continue
		}

		exists, err := afero.Exists(p.fs, path)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", path, err)
		}

		if !exists {
			p.reserved[path] = struct{}{}

			return path, nil
		}
	}
}

// Release forgets a reservation once the file exists or was abandoned.
func (p *Placer) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.reserved, path)
}

// Abandon releases path after its download failed and removes the author
// folder when nothing else lives or is reserved in it.
func (p *Placer) Abandon(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.reserved, path)

	dir := filepath.Dir(path)
	for reserved := range p.reserved {
		if filepath.Dir(reserved) == dir {
			return
		}
	}

	empty, err := afero.IsEmpty(p.fs, dir)
	if err != nil || !empty {
		return
	}

	if err := p.fs.Remove(dir); err != nil {
		p.log.Warn("remove empty author folder", slog.String("dir", dir), slog.Any("error", err))
	}
}

func (p *Placer) baseName(id string, mode entity.NamingMode) string {
	if mode == entity.NamingTimestamp || id == "" {
		return fmt.Sprintf("video_%d", p.now().UnixMicro())
	}

	return SanitizeAuthor(id)
}

// VerifyOrientation probes a downloaded file against an active filter.
// A mismatch deletes the file and returns errs.ErrOrientationMismatch with the probed orientation.
// An unreadable file is kept.
func (p *Placer) VerifyOrientation(
	ctx context.Context, path string, filter entity.OrientationFilter,
) (entity.Orientation, int, int, error) {
	if !filter.Active() || p.probe == nil {
		return entity.OrientationUnknown, 0, 0, nil
	}

	w, h, err := p.probe.Dimensions(ctx, path)
	if err != nil {
		p.log.DebugContext(ctx, "probe failed, keeping file", slog.String("path", path), slog.Any("error", err))

		return entity.OrientationUnknown, 0, 0, nil
	}

	o := entity.OrientationOf(w, h)
	if filter.Accepts(o) {
		return o, w, h, nil
	}

	if err := p.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.WarnContext(ctx, "remove filtered file", slog.String("path", path), slog.Any("error", err))
	}

	return o, w, h, fmt.Errorf("%w: %s video, filter %s", errs.ErrOrientationMismatch, o, filter)
}
