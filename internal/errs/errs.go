// Package errs defines common error variables used across the application.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline errors. Every terminal item outcome wraps exactly one of these.
var (
	// ErrInvalidInput indicates a malformed or unrecognized URL.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotVideoContent indicates the input points at audio, not video.
	ErrNotVideoContent = errors.New("not video content")
	// ErrResolutionFailed indicates that every metadata strategy was exhausted.
	ErrResolutionFailed = errors.New("resolution failed: all strategies exhausted")
	// ErrNoRenditionFound indicates that a descriptor has no usable rendition.
	ErrNoRenditionFound = errors.New("no rendition found")
	// ErrTransferTimeout indicates the transfer stalled for longer than the stall window.
	ErrTransferTimeout = errors.New("transfer stalled")
	// ErrTransferCeilingExceeded indicates the hard per-item elapsed cap was hit.
	ErrTransferCeilingExceeded = errors.New("transfer elapsed ceiling exceeded")
	// ErrTransferError indicates a network or filesystem failure during transfer.
	ErrTransferError = errors.New("transfer error")
	// ErrOrientationMismatch indicates the item was rejected by the orientation filter.
	ErrOrientationMismatch = errors.New("orientation mismatch")
	// ErrUserCancelled indicates the run was cancelled.
	ErrUserCancelled = errors.New("user cancelled")
)

// Strategy errors.
var (
	// ErrNotApplicable indicates a strategy cannot handle the target.
	ErrNotApplicable = errors.New("strategy not applicable")
	// ErrNoMediaURL indicates a response carried no playable URL.
	ErrNoMediaURL = errors.New("no media url in response")
	// ErrUnexpectedStatus indicates a non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrEmptyBody indicates an empty response body.
	ErrEmptyBody = errors.New("empty response body")
)

// Run errors.
var (
	// ErrRunActive indicates a run is already in progress.
	ErrRunActive = errors.New("run already active")
	// ErrNoActiveRun indicates there is no run to cancel.
	ErrNoActiveRun = errors.New("no active run")
	// ErrNoURLs indicates an empty URL list.
	ErrNoURLs = errors.New("no urls")
	// ErrRunNotFound indicates that the run is not in storage.
	ErrRunNotFound = errors.New("run not found")
	// ErrNoRuns indicates that there are no runs in storage.
	ErrNoRuns = errors.New("no runs")
	// ErrItemNotFound indicates an item index outside the run.
	ErrItemNotFound = errors.New("item not found")
	// ErrNoFile indicates the item produced no file.
	ErrNoFile = errors.New("item has no file")
)

// Profile errors.
var (
	// ErrNoUserID indicates the profile URL carries no user id.
	ErrNoUserID = errors.New("no user id in profile url")
)

// Settings errors.
var (
	// ErrUnknownBackend indicates an unsupported settings backend.
	ErrUnknownBackend = errors.New("unknown settings backend")
)

// Probe and dependency errors.
var (
	// ErrProbeUnsupported indicates the prober cannot read the file.
	ErrProbeUnsupported = errors.New("probe unsupported")
	// ErrNoVideoTrack indicates that no video track dimensions were found.
	ErrNoVideoTrack = errors.New("no video track")
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrChecksumMismatch indicates a downloaded archive failed verification.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)

// StrategyAttempt captures one failed strategy.
type StrategyAttempt struct {
	Strategy string
	Err      error
}

// StrategiesExhaustedError is returned when no strategy produced a rendition.
type StrategiesExhaustedError struct {
	Attempts []StrategyAttempt
}

func (e *StrategiesExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrResolutionFailed.Error()
	}

	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Strategy)
	}

	return fmt.Sprintf("%s (tried %s); the cookie may be expired or the video unavailable",
		ErrResolutionFailed, strings.Join(names, ", "))
}

// Unwrap makes errors.Is(err, ErrResolutionFailed) hold.
func (e *StrategiesExhaustedError) Unwrap() error {
	return ErrResolutionFailed
}

// StatusError carries a non-200 HTTP status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status=%d url=%s", ErrUnexpectedStatus, e.StatusCode, e.URL)
}

// Unwrap makes errors.Is(err, ErrUnexpectedStatus) hold.
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
