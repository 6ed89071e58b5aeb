package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsHandler fetches, parses and caches robots.txt per host.
type RobotsHandler struct {
	fetcher   *Fetcher
	gate      *Gate
	userAgent string
	cache     map[string]*robotstxt.RobotsData // host -> parsed rules, nil when unavailable
	cacheMu   sync.Mutex
	log       *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. Robots fetches go through the same
// gate as page fetches.
func NewRobotsHandler(fetcher *Fetcher, gate *Gate, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:   fetcher,
		gate:      gate,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether the configured user agent may fetch target.
// A robots.txt that cannot be fetched or parsed allows everything.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL) bool {
	data := rh.rulesFor(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}

func (rh *RobotsHandler) rulesFor(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host

	rh.cacheMu.Lock()
	data, found := rh.cache[host]
	rh.cacheMu.Unlock()
	if found {
		return data
	}

	data, cacheable := rh.fetchRules(ctx, target)
	if cacheable {
		rh.cacheMu.Lock()
		rh.cache[host] = data
		rh.cacheMu.Unlock()
	}
	return data
}

// fetchRules returns the parsed rules and whether the outcome may be cached.
// Outcomes caused by the caller's cancellation are not cached.
func (rh *RobotsHandler) fetchRules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, bool) {
	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	robotsLog := rh.log.WithField("robots_url", robotsURL.String())
	robotsLog.Info("Fetching robots.txt...")

	release, err := rh.gate.Acquire(ctx, target.Hostname(), 0)
	if err != nil {
		robotsLog.Warnf("Could not acquire request slot for robots.txt: %v", err)
		return nil, ctx.Err() == nil
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil, true
	}
	req.Header.Set("User-Agent", rh.userAgent)

	resp, err := rh.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		robotsLog.Warnf("robots.txt unavailable, allowing all: %v", err)
		return nil, ctx.Err() == nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading robots.txt body: %v", err)
		return nil, true
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Errorf("Error parsing robots.txt: %v", err)
		return nil, true
	}
	robotsLog.Debug("Parsed robots.txt")
	return data, true
}
