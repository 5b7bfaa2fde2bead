package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"douyindl/internal/session"
)

// maxBodySize caps how much of a page or API response is read.
const maxBodySize = 16 << 20

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// fetcher sends platform requests and retries network failures with a fixed delay.
// Non-200 statuses are returned to the caller, not retried.
type fetcher struct {
	log     *slog.Logger
	sess    *session.Session
	retries int
	delay   time.Duration
}

// requestFunc builds a fresh request for every attempt.
type requestFunc func(ctx context.Context) (*http.Request, error)

func (f *fetcher) fetch(ctx context.Context, timeout time.Duration, build requestFunc) (response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			if err := waitBackoff(ctx, f.delay); err != nil {
				return response{}, err
			}
		}

		resp, err := f.once(ctx, timeout, build)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}

		f.log.DebugContext(ctx, "request failed, retrying",
			slog.Int("attempt", attempt+1), slog.Int("retries", f.retries), slog.Any("error", err))
	}

	return response{}, lastErr
}

func (f *fetcher) once(ctx context.Context, timeout time.Duration, build requestFunc) (response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := build(ctx)
	if err != nil {
		return response{}, err
	}

	resp, err := f.sess.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return response{}, fmt.Errorf("read body: %w", err)
	}

	return response{status: resp.StatusCode, body: body}, nil
}

// isRetryableError treats every network failure as transient unless the parent context is gone.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	return !errors.Is(err, context.Canceled)
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
