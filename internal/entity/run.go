package entity

import (
	"log/slog"
	"time"
)

// Quality is the requested rendition tier.
type Quality string

const (
	QualityAuto    Quality = "auto"
	QualityHighest Quality = "highest"
	QualityHigh    Quality = "high"
	QualityMedium  Quality = "medium"
	QualityLow     Quality = "low"
)

// NamingMode selects how downloaded files are named.
type NamingMode string

const (
	// NamingResourceID names files "<id>.mp4".
	NamingResourceID NamingMode = "video_id"
	// NamingTimestamp names files "video_<unix micro>.mp4".
	NamingTimestamp NamingMode = "timestamp"
)

// OrientationFilter restricts which orientations are kept.
type OrientationFilter string

const (
	FilterAll        OrientationFilter = "all"
	FilterVertical   OrientationFilter = "vertical"
	FilterHorizontal OrientationFilter = "horizontal"
)

// Active reports whether the filter rejects anything.
func (f OrientationFilter) Active() bool {
	return f == FilterVertical || f == FilterHorizontal
}

// Accepts reports whether a known orientation passes the filter.
// Unknown orientations are accepted; they are checked after download.
func (f OrientationFilter) Accepts(o Orientation) bool {
	if !f.Active() || o == OrientationUnknown {
		return true
	}

	return string(f) == string(o)
}

// TransferParams are the per-run transfer engine parameters.
type TransferParams struct {
	RequestTimeout time.Duration `json:"requestTimeout"`
	StallWindow    time.Duration `json:"stallWindow"`
	MaxRetries     int           `json:"maxRetries"`
	RetryDelay     time.Duration `json:"retryDelay"`
	Ceiling        time.Duration `json:"ceiling"`
	ChunkSize      int           `json:"chunkSize"`
	StallDetection bool          `json:"stallDetection"`
	AutoRetry      bool          `json:"autoRetry"`
	SkipSlow       bool          `json:"skipSlow"`
}

// RunOptions are fixed for the lifetime of one run.
type RunOptions struct {
	DownloadFolder    string            `json:"downloadFolder"`
	NamingMode        NamingMode        `json:"namingMode"`
	Quality           Quality           `json:"quality"`
	OrientationFilter OrientationFilter `json:"orientationFilter"`
	OrientationSwap   bool              `json:"orientationSwap"`
	Workers           int               `json:"workers"`
	Transfer          TransferParams    `json:"transfer"`
	Cookie            string            `json:"-"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (o RunOptions) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("download_folder", o.DownloadFolder),
		slog.String("naming_mode", string(o.NamingMode)),
		slog.String("quality", string(o.Quality)),
		slog.String("orientation_filter", string(o.OrientationFilter)),
		slog.Bool("orientation_swap", o.OrientationSwap),
		slog.Int("workers", o.Workers),
		slog.Int("cookie_len", len(o.Cookie)),
	)
}

// ItemResult is the public per-URL output of a run.
type ItemResult struct {
	Index                 int         `json:"index"`
	SourceURL             string      `json:"sourceUrl"`
	ResourceID            string      `json:"resourceId,omitempty"`
	FilePath              string      `json:"filePath,omitempty"`
	Success               bool        `json:"success"`
	Error                 string      `json:"error,omitempty"`
	Orientation           Orientation `json:"orientation,omitempty"`
	Width                 int         `json:"width,omitempty"`
	Height                int         `json:"height,omitempty"`
	Author                string      `json:"author,omitempty"`
	Title                 string      `json:"title,omitempty"`
	RetryCount            int         `json:"retryCount"`
	ElapsedSeconds        float64     `json:"elapsedSeconds"`
	BytesWritten          int64       `json:"bytesWritten,omitempty"`
	TimeoutDetected       bool        `json:"timeoutDetected,omitempty"`
	SkippedByCeiling      bool        `json:"skippedByCeiling,omitempty"`
	FilteredByOrientation bool        `json:"filteredByOrientation,omitempty"`
	// Deleted is set when a caller removed the backing file afterwards.
	Deleted bool `json:"deleted,omitempty"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r ItemResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", r.Index),
		slog.String("source_url", r.SourceURL),
		slog.String("resource_id", r.ResourceID),
		slog.String("file_path", r.FilePath),
		slog.Bool("success", r.Success),
		slog.String("error", r.Error),
		slog.String("orientation", string(r.Orientation)),
		slog.Int("retry_count", r.RetryCount),
		slog.Float64("elapsed_seconds", r.ElapsedSeconds),
	)
}

// RunSummary aggregates the results of a run.
type RunSummary struct {
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Timeouts  int     `json:"timeouts"`
	Skipped   int     `json:"skipped"`
	Retries   int     `json:"retries"`
	Filtered  int     `json:"filtered"`
	Cancelled int     `json:"cancelled"`
	Bytes     int64   `json:"bytes"`
	Elapsed   float64 `json:"elapsedSeconds"`
}

// Add folds one result into the summary.
func (s *RunSummary) Add(r ItemResult) {
	if r.Success {
		s.Succeeded++
	} else {
		s.Failed++
	}

	if r.TimeoutDetected {
		s.Timeouts++
	}

	if r.SkippedByCeiling {
		s.Skipped++
	}

	if r.FilteredByOrientation {
		s.Filtered++
	}

	s.Retries += r.RetryCount
	s.Bytes += r.BytesWritten
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (s RunSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int("timeouts", s.Timeouts),
		slog.Int("skipped", s.Skipped),
		slog.Int("retries", s.Retries),
		slog.Int("filtered", s.Filtered),
		slog.Int("cancelled", s.Cancelled),
		slog.Int64("bytes", s.Bytes),
		slog.Float64("elapsed_seconds", s.Elapsed),
	)
}

// RunSnapshot is a point-in-time copy of a run's state.
type RunSnapshot struct {
	ID              string       `json:"id"`
	Total           int          `json:"total"`
	Completed       int          `json:"completed"`
	CancelRequested bool         `json:"cancelRequested"`
	Done            bool         `json:"done"`
	Options         RunOptions   `json:"options"`
	Results         []ItemResult `json:"results"`
	Summary         RunSummary   `json:"summary"`
	StartedAt       time.Time    `json:"startedAt"`
	FinishedAt      time.Time    `json:"finishedAt"`
	ExpiresAt       time.Time    `json:"expiresAt"`
}
