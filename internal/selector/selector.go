// Package selector picks one rendition out of a resolved descriptor.
package selector

import (
	"fmt"

	"douyindl/internal/entity"
	"douyindl/internal/errs"
)

// Select picks a rendition from a list sorted by descending quality.
// Unknown tiers behave like auto.
func Select(renditions []entity.Rendition, quality entity.Quality) (entity.Rendition, error) {
	n := len(renditions)
	if n == 0 {
		return entity.Rendition{}, fmt.Errorf("%w: empty rendition list", errs.ErrNoRenditionFound)
	}

	if n == 1 {
		return renditions[0], nil
	}

	var idx int

	switch quality {
	case entity.QualityHigh:
		idx = n / 4
	case entity.QualityMedium:
		idx = n / 2
	case entity.QualityLow:
		idx = n - 1
	default:
		idx = 0
	}

	r := renditions[idx]
	if r.URL == "" {
		return entity.Rendition{}, fmt.Errorf("%w: rendition %d has no url", errs.ErrNoRenditionFound, idx)
	}

	return r, nil
}
