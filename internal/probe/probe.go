// Package probe reads the display dimensions of a downloaded video.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"douyindl/internal/entity"
	"douyindl/internal/errs"
)

// Prober returns the display width and height of a video file.
type Prober interface {
	Dimensions(ctx context.Context, path string) (width, height int, err error)
}

// Chain tries each prober in order and returns the first answer.
type Chain []Prober

// Dimensions implements Prober.
func (c Chain) Dimensions(ctx context.Context, path string) (int, int, error) {
	var errList []error

	for _, p := range c {
		w, h, err := p.Dimensions(ctx, path)
		if err == nil {
			return w, h, nil
		}

		errList = append(errList, err)
	}

	if len(errList) == 0 {
		return 0, 0, fmt.Errorf("probe %s: %w", path, errs.ErrProbeUnsupported)
	}

	return 0, 0, fmt.Errorf("probe %s: %w", path, errors.Join(errList...))
}

// Orientation probes path and maps the result to an orientation.
// Any probe failure yields OrientationUnknown.
func Orientation(ctx context.Context, log *slog.Logger, p Prober, path string) entity.Orientation {
	if p == nil {
		return entity.OrientationUnknown
	}

	w, h, err := p.Dimensions(ctx, path)
	if err != nil {
		log.DebugContext(ctx, "probe failed", slog.String("path", path), slog.Any("error", err))

		return entity.OrientationUnknown
	}

	return entity.OrientationOf(w, h)
}
