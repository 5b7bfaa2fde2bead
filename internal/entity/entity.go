// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"slices"
	"time"
)

// Orientation of a video derived from its dimensions.
type Orientation string

const (
	// OrientationUnknown is used when dimensions are not known.
	OrientationUnknown Orientation = "unknown"
	// OrientationVertical means height > width.
	OrientationVertical Orientation = "vertical"
	// OrientationHorizontal means width > height.
	OrientationHorizontal Orientation = "horizontal"
	// OrientationSquare means width == height.
	OrientationSquare Orientation = "square"
)

// OrientationOf derives the orientation from width and height.
func OrientationOf(width, height int) Orientation {
	switch {
	case width <= 0 || height <= 0:
		return OrientationUnknown
	case height > width:
		return OrientationVertical
	case width > height:
		return OrientationHorizontal
	default:
		return OrientationSquare
	}
}

// RenditionKind tells which address list a rendition came from.
type RenditionKind string

const (
	// RenditionPlay is a "play" address.
	RenditionPlay RenditionKind = "play"
	// RenditionDownload is a "download" address.
	RenditionDownload RenditionKind = "download"
)

// Rendition is one directly fetchable media variant.
type Rendition struct {
	URL         string        `json:"url"`
	QualityHint int           `json:"qualityHint"`
	Kind        RenditionKind `json:"kind"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r Rendition) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", r.URL),
		slog.Int("quality_hint", r.QualityHint),
		slog.String("kind", string(r.Kind)),
	)
}

// MediaDescriptor is the result of a successful resolution. It is read-only once built.
type MediaDescriptor struct {
	ResourceID  string      `json:"resourceId"`
	Title       string      `json:"title"`
	Author      string      `json:"author"`
	Orientation Orientation `json:"orientation"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Renditions  []Rendition `json:"renditions"`
}

// NewMediaDescriptor builds a descriptor with renditions sorted by descending quality hint.
// The rendition slice is copied.
func NewMediaDescriptor(id, title, author string, width, height int, renditions []Rendition) *MediaDescriptor {
	sorted := slices.Clone(renditions)
	slices.SortStableFunc(sorted, func(a, b Rendition) int {
		return b.QualityHint - a.QualityHint
	})

	return &MediaDescriptor{
		ResourceID:  id,
		Title:       title,
		Author:      author,
		Orientation: OrientationOf(width, height),
		Width:       width,
		Height:      height,
		Renditions:  sorted,
	}
}

// Swapped returns a copy with width and height exchanged.
func (d *MediaDescriptor) Swapped() *MediaDescriptor {
	return NewMediaDescriptor(d.ResourceID, d.Title, d.Author, d.Height, d.Width, d.Renditions)
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (d *MediaDescriptor) LogValue() slog.Value {
	if d == nil {
		return slog.StringValue("<nil>")
	}

	return slog.GroupValue(
		slog.String("resource_id", d.ResourceID),
		slog.String("title", d.Title),
		slog.String("author", d.Author),
		slog.String("orientation", string(d.Orientation)),
		slog.Int("width", d.Width),
		slog.Int("height", d.Height),
		slog.Int("renditions", len(d.Renditions)),
	)
}

// NormalizedURL is the output of URL normalization.
type NormalizedURL struct {
	URL string
	// Direct marks a direct media link that must not be rewritten.
	Direct bool
	// Short marks a redirect-shortened link that could not be resolved.
	Short bool
}

// Absent reports whether the input was outside the recognized domains.
func (n NormalizedURL) Absent() bool {
	return n.URL == ""
}

// Target is what the resolver works on.
type Target struct {
	URL        string
	ResourceID string
	Direct     bool
}

// TransferOutcome is the result of one attempt chain for one item.
type TransferOutcome struct {
	Success          bool
	BytesWritten     int64
	Elapsed          time.Duration
	RetryCount       int
	TimeoutDetected  bool
	SkippedByCeiling bool
	Cancelled        bool
	Err              error
}

// ElapsedSeconds returns the elapsed time in seconds.
func (o TransferOutcome) ElapsedSeconds() float64 {
	return o.Elapsed.Seconds()
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (o TransferOutcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Bool("success", o.Success),
		slog.Int64("bytes_written", o.BytesWritten),
		slog.Duration("elapsed", o.Elapsed),
		slog.Int("retry_count", o.RetryCount),
		slog.Bool("timeout_detected", o.TimeoutDetected),
		slog.Bool("skipped_by_ceiling", o.SkippedByCeiling),
		slog.Bool("cancelled", o.Cancelled),
	}
	if o.Err != nil {
		attrs = append(attrs, slog.String("error", o.Err.Error()))
	}

	return slog.GroupValue(attrs...)
}
