package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/review-scraper/pkg/extract"
	"github.com/Sriram-PR/review-scraper/pkg/paginate"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 8")
		c.NumWorkers = 8
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 4")
		c.MaxRequestsPerHost = 4
	}

	if c.RequestsPerSecond < 0 {
		warnings = append(warnings, "requests_per_second cannot be negative, disabling global rate limit")
		c.RequestsPerSecond = 0
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './review_output'")
		c.OutputBaseDir = "./review_output"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 2
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// PerPageTimeout
	if c.PerPageTimeout < 0 {
		warnings = append(warnings, "per_page_timeout cannot be negative, disabling timeout")
		c.PerPageTimeout = 0
	}

	// FetcherBackend
	switch c.FetcherBackend {
	case "":
		c.FetcherBackend = BackendHTTP
	case BackendHTTP, BackendColly:
	default:
		return warnings, fmt.Errorf("%w: unknown fetcher_backend %q (want %q or %q)",
			utils.ErrConfigValidation, c.FetcherBackend, BackendHTTP, BackendColly)
	}

	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = "review-scraper/1.0"
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks TargetConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (e.g., base URL normalization).
func (c *TargetConfig) Validate() (warnings []string, err error) {
	// Required: BaseURL
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: target needs base_url", utils.ErrConfigValidation)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: base_url %q must be an absolute http(s) URL", utils.ErrConfigValidation, c.BaseURL)
	}
	if u.Path != "" && u.Path != "/" {
		warnings = append(warnings, fmt.Sprintf("base_url path %q is ignored, identifiers are site-relative", u.Path))
	}
	c.BaseURL = strings.TrimRight(u.Scheme+"://"+u.Host, "/")

	// PaginationPolicy
	if c.PaginationPolicy == "" {
		c.PaginationPolicy = string(paginate.PolicyCount)
	}
	if !paginate.Policy(c.PaginationPolicy).IsValid() {
		return nil, fmt.Errorf("%w: unknown pagination_policy %q", utils.ErrConfigValidation, c.PaginationPolicy)
	}

	// Layout
	if c.Layout == "" {
		c.Layout = extract.LayoutAuto
	}
	if !extract.IsKnownLayout(c.Layout) {
		return nil, fmt.Errorf("%w: unknown layout %q", utils.ErrConfigValidation, c.Layout)
	}

	// ReviewsPerPage
	if c.ReviewsPerPage <= 0 {
		if c.PaginationPolicy == string(paginate.PolicyCount) {
			warnings = append(warnings, "reviews_per_page not set, defaulting to 20")
		}
		c.ReviewsPerPage = 20
	}

	// PageFanout
	if c.PageFanout <= 0 {
		c.PageFanout = 1
	}
	if c.PageFanout > 1 && c.PaginationPolicy == string(paginate.PolicyRedirect) {
		warnings = append(warnings, "page_fanout is ignored with the redirect policy, pages are fetched sequentially")
		c.PageFanout = 1
	}

	// MaxPages
	if c.MaxPages < 0 {
		warnings = append(warnings, "max_pages cannot be negative, setting to 0 (unlimited)")
		c.MaxPages = 0
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, using default_delay_per_host")
		c.DelayPerHost = 0
	}

	// ExcludePatterns
	if _, err := utils.CompileRegexPatterns(c.ExcludePatterns); err != nil {
		return nil, err
	}

	return warnings, nil
}
