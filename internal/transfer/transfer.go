// Package transfer streams a rendition to disk with stall detection,
// an elapsed-time ceiling and bounded retry.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"douyindl/internal/config"
	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
	"douyindl/internal/observability"
)

// Outcome labels used for metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeTimeout   = "timeout"
	OutcomeCeiling   = "ceiling"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

var (
	errStalled        = errors.New("stalled")
	errCeiling        = errors.New("ceiling reached")
	errRequestTimeout = errors.New("request timeout")
)

// Client builds and sends requests carrying the session headers.
type Client interface {
	NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error)
	Do(req *http.Request) (*http.Response, error)
}

// Cancelled reports whether the run was cancelled. It is polled per chunk.
type Cancelled func() bool

// Engine downloads one URL to one path.
type Engine struct {
	log     *slog.Logger
	client  Client
	fs      afero.Fs
	metrics *observability.Metrics

	cleanupAttempts int
	cleanupInterval time.Duration
	cleanupSettle   time.Duration
}

// New creates an engine. Cleanup behaviour comes from cfg; the stall and
// retry parameters are passed per call.
func New(log *slog.Logger, client Client, fs afero.Fs, cfg config.Transfer, metrics *observability.Metrics) *Engine {
	return &Engine{
		log:             log.With(slog.String("package", "transfer")),
		client:          client,
		fs:              fs,
		metrics:         metrics,
		cleanupAttempts: max(1, cfg.CleanupAttempts),
		cleanupInterval: cfg.CleanupInterval,
		cleanupSettle:   cfg.CleanupSettle,
	}
}

// Transfer downloads rawURL to path. It never returns an error directly;
// failures are reported in the outcome, and a partial file is removed.
func (e *Engine) Transfer(
	ctx context.Context, rawURL, path string, p entity.TransferParams, cancelled Cancelled,
) entity.TransferOutcome {
	log := e.log.With(slog.String("func", "Transfer"), slog.String("path", path))

	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	start := time.Now()

	var deadline time.Time
	if p.SkipSlow && p.Ceiling > 0 {
		deadline = start.Add(p.Ceiling)
	}

	var out entity.TransferOutcome

	for attempt := 0; ; attempt++ {
		if cancelled() {
			out.Cancelled, out.Err = true, errs.ErrUserCancelled

			break
		}

		n, err := e.attempt(ctx, rawURL, path, p, cancelled, deadline)
		if err == nil {
			err = e.verify(path)
		}

		if err == nil {
			out.Success, out.Err, out.BytesWritten = true, nil, n
			out.TimeoutDetected = false

			break
		}

		out.Err = err
		if errors.Is(err, errs.ErrTransferTimeout) {
			out.TimeoutDetected = true
		}

		e.removePartial(ctx, path)

		if errors.Is(err, errs.ErrUserCancelled) {
			out.Cancelled = true

			break
		}

		if errors.Is(err, errs.ErrTransferCeilingExceeded) {
			out.SkippedByCeiling = true

			break
		}

		if !p.AutoRetry || attempt >= p.MaxRetries || !isRetryable(err) {
			break
		}

		if werr := wait(ctx, p.RetryDelay); werr != nil {
			out.Cancelled, out.Err = true, fmt.Errorf("%w: %w", errs.ErrUserCancelled, werr)

			break
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			out.SkippedByCeiling, out.Err = true, fmt.Errorf("%w: before retry", errs.ErrTransferCeilingExceeded)

			break
		}

		out.RetryCount++
		log.InfoContext(ctx, "retrying transfer",
			slog.Int("retry", out.RetryCount), slog.Int("max_retries", p.MaxRetries), slog.Any("error", err))
	}

	out.Elapsed = time.Since(start)

	e.metrics.RecordTransfer(outcomeLabel(out), out.BytesWritten, out.RetryCount)

	if out.Success {
		log.DebugContext(ctx, "transfer finished", slog.Any("outcome", out))
	} else {
		log.WarnContext(ctx, "transfer failed", slog.Any("outcome", out))
	}

	return out
}

func (e *Engine) attempt(
	ctx context.Context, rawURL, path string, p entity.TransferParams, cancelled Cancelled, deadline time.Time,
) (int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if !deadline.IsZero() {
		ceiling := time.AfterFunc(time.Until(deadline), func() { cancel(errCeiling) })
		defer ceiling.Stop()
	}

	req, err := e.client.NewRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrTransferError, err)
	}

	// idle bounds the wait for headers and then for every read of the body.
	var idle *time.Timer
	if p.RequestTimeout > 0 {
		idle = time.AfterFunc(p.RequestTimeout, func() { cancel(errRequestTimeout) })
		defer idle.Stop()
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("%w: %w", errs.ErrTransferError, &errs.StatusError{StatusCode: resp.StatusCode, URL: rawURL})
	}

	f, err := e.fs.Create(path)
	if err != nil {
		return 0, &fsError{op: "create", err: err}
	}

	n, err := e.copy(ctx, f, resp.Body, p, cancelled, deadline, idle, cancel)

	if cerr := f.Close(); cerr != nil && err == nil {
		err = &fsError{op: "close", err: cerr}
	}

	if err != nil {
		return n, err
	}

	if resp.ContentLength > 0 && n != resp.ContentLength {
		e.log.WarnContext(ctx, "content length mismatch",
			slog.String("path", path), slog.Int64("expected", resp.ContentLength), slog.Int64("written", n))
	}

	return n, nil
}

// copy checks, per chunk: cancellation, then the ceiling, then writes and re-arms the stall and idle timers.
func (e *Engine) copy(
	ctx context.Context, dst io.Writer, src io.Reader, p entity.TransferParams,
	cancelled Cancelled, deadline time.Time, idle *time.Timer, cancel context.CancelCauseFunc,
) (int64, error) {
	size := p.ChunkSize
	if size <= 0 {
		size = consts.DefaultChunkSize
	}

	buf := make([]byte, size)

	var stall *time.Timer
	if p.StallDetection && p.StallWindow > 0 {
		stall = time.AfterFunc(p.StallWindow, func() { cancel(errStalled) })
		defer stall.Stop()
	}

	var written int64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if cancelled() {
				return written, errs.ErrUserCancelled
			}

			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return written, fmt.Errorf("%w: after %d bytes", errs.ErrTransferCeilingExceeded, written)
			}

			if _, err := dst.Write(buf[:n]); err != nil {
				return written, &fsError{op: "write", err: err}
			}

			written += int64(n)

			if stall != nil {
				stall.Reset(p.StallWindow)
			}

			if idle != nil {
				idle.Reset(p.RequestTimeout)
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}

		if rerr != nil {
			return written, classify(ctx, rerr)
		}
	}
}

func (e *Engine) verify(path string) error {
	if _, err := e.fs.Stat(path); err != nil {
		return &fsError{op: "verify", err: err}
	}

	return nil
}

// removePartial deletes a partial file, retrying briefly for OS-level lock delays.
// It gives up and leaves the file after the configured attempts.
func (e *Engine) removePartial(ctx context.Context, path string) {
	if e.cleanupSettle > 0 {
		time.Sleep(e.cleanupSettle)
	}

	var err error

	for i := range e.cleanupAttempts {
		if i > 0 && e.cleanupInterval > 0 {
			time.Sleep(e.cleanupInterval)
		}

		err = e.fs.Remove(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return
		}
	}

	e.log.WarnContext(ctx, "partial file left behind", slog.String("path", path), slog.Any("error", err))
}

// classify maps a read or request failure to the error taxonomy using the cancel cause.
func classify(ctx context.Context, err error) error {
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errStalled):
		return fmt.Errorf("%w: no progress within stall window", errs.ErrTransferTimeout)
	case errors.Is(cause, errCeiling):
		return fmt.Errorf("%w: while waiting for data", errs.ErrTransferCeilingExceeded)
	case errors.Is(cause, errRequestTimeout):
		return fmt.Errorf("%w: no data within request timeout", errs.ErrTransferTimeout)
	case cause != nil:
		return fmt.Errorf("%w: %w", errs.ErrUserCancelled, cause)
	}

	return fmt.Errorf("%w: %w", errs.ErrTransferError, err)
}

// fsError is a filesystem failure. Only a narrow transient subset is retried.
type fsError struct {
	op  string
	err error
}

func (e *fsError) Error() string {
	return fmt.Sprintf("%s: %s: %v", errs.ErrTransferError, e.op, e.err)
}

func (e *fsError) Unwrap() []error {
	return []error{errs.ErrTransferError, e.err}
}

var transientErrnos = []error{syscall.EAGAIN, syscall.EBUSY, syscall.EINTR, syscall.ETXTBSY}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, errs.ErrUserCancelled) || errors.Is(err, errs.ErrTransferCeilingExceeded) {
		return false
	}

	var fe *fsError
	if errors.As(err, &fe) {
		for _, errno := range transientErrnos {
			if errors.Is(fe.err, errno) {
				return true
			}
		}

		return false
	}

	var se *errs.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusRequestTimeout ||
			se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode >= http.StatusInternalServerError
	}

	return true
}

func outcomeLabel(o entity.TransferOutcome) string {
	switch {
	case o.Success:
		return OutcomeSuccess
	case o.Cancelled:
		return OutcomeCancelled
	case o.SkippedByCeiling:
		return OutcomeCeiling
	case o.TimeoutDetected:
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
