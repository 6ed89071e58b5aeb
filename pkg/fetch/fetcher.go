package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/metrics"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// maxBodyBytes caps how much of a response body is buffered. Larger bodies are
// rejected, never truncated.
var maxBodyBytes int64 = 10 << 20

// errBodyTooLarge is not retried: the same page comes back just as large.
var errBodyTooLarge = fmt.Errorf("%w: body exceeds size limit", utils.ErrResponseBodyRead)

func bodyTooLarge() error {
	return fmt.Errorf("%w of %d bytes", errBodyTooLarge, maxBodyBytes)
}

// Fetcher handles making HTTP requests with configured retry logic, using an underlying http.Client
type Fetcher struct {
	client *http.Client      // The configured HTTP client to use for requests
	cfg    *config.AppConfig // Retry and per-attempt timeout settings
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// FetchWithRetry performs an HTTP request associated with the provided context.
// Each attempt runs under its own per_page_timeout deadline and its body is fully
// buffered inside that deadline, so the returned response body stays readable.
// Network errors, attempt timeouts, body read failures, 5xx and 429 are retried with
// exponential backoff and jitter. Other 4xx and non-2xx statuses return the response
// together with a wrapped error. Cancellation of ctx is never retried.
func (f *Fetcher) FetchWithRetry(req *http.Request, ctx context.Context) (*http.Response, error) {
	var lastErr error
	var lastWait time.Duration // Server-requested wait from the last 429/503

	reqLog := f.log.WithField("url", req.URL.String())

	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// --- Context Check ---
		if err := ctx.Err(); err != nil {
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, err)
			if lastErr != nil {
				return nil, fmt.Errorf("%w: before attempt %d, last error: %v", err, attempt, lastErr)
			}
			return nil, fmt.Errorf("%w: before first attempt", err)
		}

		// --- Exponential Backoff Delay ---
		if attempt > 0 {
			finalDelay := backoffDelay(attempt, initialRetryDelay, maxRetryDelay)
			if lastWait > finalDelay {
				finalDelay = min(lastWait, maxRetryDelay)
			}
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				return nil, fmt.Errorf("%w: during retry delay, last error: %v", ctx.Err(), lastErr)
			}
		}

		resp, err := f.attempt(ctx, req)
		lastWait = 0

		// --- Handle Network-Level Errors ---
		if err != nil {
			if ctx.Err() != nil {
				// The caller gave up; do not retry and do not report it as a timeout
				reqLog.Warnf("Context cancelled during HTTP request execution: %v", err)
				return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
			}
			if errors.Is(err, errBodyTooLarge) {
				reqLog.Errorf("Response rejected: %v", err)
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", err)
			lastErr = err
			continue
		}

		// --- Handle HTTP Status Codes ---
		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil

		case isRetryableStatus(statusCode):
			sentinel := utils.ErrServerHTTPError
			if statusCode == http.StatusTooManyRequests {
				sentinel = utils.ErrClientHTTPError // Categorize 429 as client error
			}
			resLog.Warn("Retryable status, retrying...")
			lastErr = fmt.Errorf("HTTP status %d : %w", statusCode, sentinel)
			lastWait = retryAfter(resp.Header)
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return resp, fmt.Errorf("HTTP status %d : %w", statusCode, utils.ErrClientHTTPError)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return resp, fmt.Errorf("HTTP status %d : %w", statusCode, utils.ErrOtherHTTPError)
		}
	}

	// --- All Retries Failed ---
	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// attempt performs one request under the per-attempt deadline and buffers the body.
// A deadline hit while the parent context is alive is reported as ErrFetchTimeout.
func (f *Fetcher) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	attemptCtx := ctx
	if f.cfg.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.cfg.PerPageTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := f.client.Do(req.Clone(attemptCtx))
	if err != nil {
		metrics.ObserveFetch(config.BackendHTTP, 0, time.Since(start))
		return nil, f.classifyAttemptError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	metrics.ObserveFetch(config.BackendHTTP, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, f.classifyAttemptError(ctx, attemptCtx, readErr))
	}
	if int64(len(body)) > maxBodyBytes {
		return nil, bodyTooLarge()
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (f *Fetcher) classifyAttemptError(ctx, attemptCtx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %v", utils.ErrFetchTimeout, f.cfg.PerPageTimeout, err)
	}
	return err
}
