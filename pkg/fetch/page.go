package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// Page is one fetched document.
type Page struct {
	Content       string
	ResolvedURL   string // final URL after redirects
	StatusCode    int
	RequestedPath string
}

// PageFetcher retrieves a site-relative path. Transient failures are retried
// internally; the returned error wraps one of the utils fetch sentinels, or a
// context error when ctx ended first. Non-2xx responses come back with both a
// Page and an error so callers can inspect the status.
type PageFetcher interface {
	Fetch(ctx context.Context, path string) (*Page, error)
}

// NewPageFetcher builds the PageFetcher selected by fetcher_backend. Both
// backends share the gate and, when enabled, the robots handler.
func NewPageFetcher(cfg *config.AppConfig, gate *Gate, log *logrus.Entry) (PageFetcher, error) {
	base, err := url.Parse(cfg.Target.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base_url %q", utils.ErrConfigValidation, cfg.Target.BaseURL)
	}

	client := NewClient(cfg.HTTPClientSettings, log)
	retrying := NewFetcher(client, cfg, log)
	userAgent := config.GetEffectiveUserAgent(cfg.Target, *cfg)

	var robots *RobotsHandler
	if config.GetEffectiveRespectRobots(cfg.Target) {
		robots = NewRobotsHandler(retrying, gate, userAgent, log.WithField("component", "robots"))
	}

	common := pageFetcherBase{
		base:      base,
		gate:      gate,
		robots:    robots,
		userAgent: userAgent,
		delay:     config.GetEffectiveDelayPerHost(cfg.Target, *cfg),
	}

	switch cfg.FetcherBackend {
	case config.BackendColly:
		return &CollyPageFetcher{
			pageFetcherBase: common,
			transport:       client.Transport,
			cfg:             cfg,
			log:             log.WithField("backend", config.BackendColly),
		}, nil
	case config.BackendHTTP, "":
		return &HTTPPageFetcher{
			pageFetcherBase: common,
			fetcher:         retrying,
			log:             log.WithField("backend", config.BackendHTTP),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown fetcher_backend %q", utils.ErrConfigValidation, cfg.FetcherBackend)
	}
}

// pageFetcherBase holds what both backends need before a request goes out.
type pageFetcherBase struct {
	base      *url.URL
	gate      *Gate
	robots    *RobotsHandler
	userAgent string
	delay     time.Duration
}

// resolve turns a site-relative path (optionally with a query) into an absolute URL.
func (b *pageFetcherBase) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	return b.base.ResolveReference(ref), nil
}

// admit checks robots rules and then waits on the gate.
func (b *pageFetcherBase) admit(ctx context.Context, target *url.URL) (func(), error) {
	if b.robots != nil && !b.robots.Allowed(ctx, target) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, target.RequestURI())
	}
	return b.gate.Acquire(ctx, target.Hostname(), b.delay)
}

// HTTPPageFetcher fetches pages with net/http through Fetcher.FetchWithRetry.
type HTTPPageFetcher struct {
	pageFetcherBase
	fetcher *Fetcher
	log     *logrus.Entry
}

// Fetch implements PageFetcher.
func (h *HTTPPageFetcher) Fetch(ctx context.Context, path string) (*Page, error) {
	target, err := h.resolve(path)
	if err != nil {
		return nil, err
	}
	release, err := h.admit(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, fetchErr := h.fetcher.FetchWithRetry(req, ctx)
	if resp == nil {
		return nil, fetchErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}

	page := &Page{
		Content:       string(body),
		ResolvedURL:   target.String(),
		StatusCode:    resp.StatusCode,
		RequestedPath: path,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		page.ResolvedURL = resp.Request.URL.String()
	}
	h.log.WithFields(logrus.Fields{"path": path, "status_code": page.StatusCode, "resolved": page.ResolvedURL}).Debug("Fetched page")
	return page, fetchErr
}
