package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/metrics"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// CollyPageFetcher fetches pages with a fresh colly collector per attempt.
// Retry, timeout and status handling mirror Fetcher.FetchWithRetry.
type CollyPageFetcher struct {
	pageFetcherBase
	transport http.RoundTripper
	cfg       *config.AppConfig
	log       *logrus.Entry
}

// collyOutcome is what a single collector visit produced.
type collyOutcome struct {
	body       []byte
	statusCode int
	resolved   string
	retryWait  time.Duration
	err        error
}

// Fetch implements PageFetcher.
func (c *CollyPageFetcher) Fetch(ctx context.Context, path string) (*Page, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	release, err := c.admit(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	reqLog := c.log.WithField("url", target.String())
	var lastErr error
	var lastWait time.Duration

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, c.cfg.InitialRetryDelay, c.cfg.MaxRetryDelay)
			if lastWait > delay {
				delay = min(lastWait, c.cfg.MaxRetryDelay)
			}
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("Retrying request...")
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: during retry delay, last error: %v", ctx.Err(), lastErr)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: before attempt %d", err, attempt)
		}

		out := c.visit(ctx, target.String())
		lastWait = out.retryWait
		page := &Page{
			Content:       string(out.body),
			ResolvedURL:   out.resolved,
			StatusCode:    out.statusCode,
			RequestedPath: path,
		}

		switch {
		case errors.Is(out.err, errBodyTooLarge):
			reqLog.Errorf("Response rejected: %v", out.err)
			return nil, out.err
		case out.statusCode == 0:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ctx.Err(), out.err)
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", out.err)
			lastErr = out.err
			continue
		case out.statusCode >= 200 && out.statusCode < 300:
			return page, nil
		case isRetryableStatus(out.statusCode):
			sentinel := utils.ErrServerHTTPError
			if out.statusCode == http.StatusTooManyRequests {
				sentinel = utils.ErrClientHTTPError
			}
			lastErr = fmt.Errorf("HTTP status %d : %w", out.statusCode, sentinel)
			continue
		case out.statusCode >= 400 && out.statusCode < 500:
			return page, fmt.Errorf("HTTP status %d : %w", out.statusCode, utils.ErrClientHTTPError)
		default:
			return page, fmt.Errorf("HTTP status %d : %w", out.statusCode, utils.ErrOtherHTTPError)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", c.cfg.MaxRetries+1, lastErr)
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// visit runs one collector against target under the per-attempt deadline.
func (c *CollyPageFetcher) visit(ctx context.Context, target string) collyOutcome {
	attemptCtx := ctx
	if c.cfg.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.PerPageTimeout)
		defer cancel()
	}

	collector := colly.NewCollector(
		colly.UserAgent(c.userAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(int(maxBodyBytes+1)),
	)
	if c.cfg.HTTPClientSettings.Timeout > 0 {
		collector.SetRequestTimeout(c.cfg.HTTPClientSettings.Timeout)
	}
	collector.WithTransport(contextTransport{ctx: attemptCtx, base: c.transport})

	out := collyOutcome{resolved: target}
	collector.OnResponse(func(r *colly.Response) {
		out.body = r.Body
		out.statusCode = r.StatusCode
		out.resolved = r.Request.URL.String()
		if int64(len(r.Body)) > maxBodyBytes {
			out.body = nil
			out.err = bodyTooLarge()
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		out.err = err
		if r == nil {
			return
		}
		out.statusCode = r.StatusCode
		out.body = r.Body
		if r.Request != nil && r.Request.URL != nil {
			out.resolved = r.Request.URL.String()
		}
		if r.Headers != nil {
			out.retryWait = retryAfter(*r.Headers)
		}
	})

	start := time.Now()
	visitErr := collector.Visit(target)
	metrics.ObserveFetch(config.BackendColly, out.statusCode, time.Since(start))

	if out.err == nil && visitErr != nil {
		out.err = visitErr
	}
	if out.statusCode == 0 && out.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		out.err = fmt.Errorf("%w after %v: %v", utils.ErrFetchTimeout, c.cfg.PerPageTimeout, out.err)
	}
	if out.statusCode == 0 && out.err == nil {
		out.err = errors.New("colly: visit produced no response")
	}
	return out
}

// contextTransport binds every round trip to ctx so cancellation and the
// per-attempt deadline reach colly's requests.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req.WithContext(t.ctx))
}
