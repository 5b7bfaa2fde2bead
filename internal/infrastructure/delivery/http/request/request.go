// Package request holds the request bodies of the API.
package request

import (
	"fmt"
	"slices"
	"strings"

	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/pkg/ptr"
	"douyindl/pkg/urls"
)

// StartRun starts a batch. Unset overrides fall back to the stored settings.
type StartRun struct {
	URLs              []string                  `json:"urls"`
	DownloadFolder    *string                   `json:"downloadFolder"`
	Quality           *entity.Quality           `json:"quality"`
	NamingMode        *entity.NamingMode        `json:"namingMode"`
	OrientationFilter *entity.OrientationFilter `json:"orientationFilter"`
	OrientationSwap   *bool                     `json:"orientationSwap"`
	Workers           *int                      `json:"workers"`
}

// Validate trims the URL list and drops blank entries.
// Entries are not checked for shape; unrecognized URLs fail per item.
func (s *StartRun) Validate() error {
	s.URLs = slices.DeleteFunc(s.URLs, func(u string) bool { return strings.TrimSpace(u) == "" })
	for i := range s.URLs {
		s.URLs[i] = strings.TrimSpace(s.URLs[i])
	}

	if len(s.URLs) == 0 {
		return errs.ErrNoURLs
	}

	if s.Quality != nil && !slices.Contains([]entity.Quality{
		entity.QualityAuto, entity.QualityHighest, entity.QualityHigh, entity.QualityMedium, entity.QualityLow,
	}, *s.Quality) {
		return fmt.Errorf("%w: quality %q", errs.ErrInvalidInput, *s.Quality)
	}

	if s.NamingMode != nil && *s.NamingMode != entity.NamingResourceID && *s.NamingMode != entity.NamingTimestamp {
		return fmt.Errorf("%w: naming mode %q", errs.ErrInvalidInput, *s.NamingMode)
	}

	if s.OrientationFilter != nil && !s.OrientationFilter.Active() && *s.OrientationFilter != entity.FilterAll {
		return fmt.Errorf("%w: orientation filter %q", errs.ErrInvalidInput, *s.OrientationFilter)
	}

	if s.Workers != nil && *s.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive", errs.ErrInvalidInput)
	}

	return nil
}

// Apply overlays the set fields on opts.
func (s *StartRun) Apply(opts entity.RunOptions) entity.RunOptions {
	opts.DownloadFolder = ptr.DerefOr(s.DownloadFolder, opts.DownloadFolder)
	opts.Quality = ptr.DerefOr(s.Quality, opts.Quality)
	opts.NamingMode = ptr.DerefOr(s.NamingMode, opts.NamingMode)
	opts.OrientationFilter = ptr.DerefOr(s.OrientationFilter, opts.OrientationFilter)
	opts.OrientationSwap = ptr.DerefOr(s.OrientationSwap, opts.OrientationSwap)
	opts.Workers = ptr.DerefOr(s.Workers, opts.Workers)

	return opts
}

// Enumerate lists a profile's posts. With Start set the list is run as a batch.
type Enumerate struct {
	URL   string `json:"url"`
	Start bool   `json:"start"`
}

func (e *Enumerate) Validate() error {
	e.URL = strings.TrimSpace(e.URL)
	if !urls.IsURLValid(urls.FixURL(e.URL)) {
		return fmt.Errorf("%w: profile url %q", errs.ErrInvalidInput, e.URL)
	}

	return nil
}
