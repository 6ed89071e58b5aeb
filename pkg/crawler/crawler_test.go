package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/extract"
	"github.com/Sriram-PR/review-scraper/pkg/fetch"
	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/storage"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

const (
	siteURL = "https://reviews.example"
	shopID  = "/review/shop.com"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func reviewCard(title string, stars int) string {
	return fmt.Sprintf(`<article class="paper_paper___1P styles_reviewCard___hc">
  <div class="star-rating_starRating___4r"><img src="https://cdn.example.net/stars/stars-%d.svg" alt="%d out of 5 stars"></div>
  <h2 class="typography_heading-s___f7">%s</h2>
  <p class="typography_body-l___KU">Body of %s</p>
</article>`, stars, stars, title, title)
}

func untitledCard() string {
	return `<article class="paper_paper___1P styles_reviewCard___hc">
  <div class="star-rating_starRating___4r"><img alt="3 out of 5 stars"></div>
  <p class="typography_body-l___KU">No title here</p>
</article>`
}

func landingPage(count int, word string, cards ...string) string {
	return fmt.Sprintf(`<html><body>
<section class="styles_businessInformation___p0Q1">
  <h1><span class="typography_display-s___qO title_displayName___TtD"> Shop </span></h1>
  <p class="typography_body-l___KU styles_reviewsAndRating___Jd">%d reviews • %s</p>
</section>
<div class="styles_categoriesList___x7"><a href="/categories/shops">Shops</a><a href="/categories/gifts">Gifts</a></div>
<section>%s</section>
</body></html>`, count, word, strings.Join(cards, "\n"))
}

func reviewsPage(cards ...string) string {
	return "<html><body><section>" + strings.Join(cards, "\n") + "</section></body></html>"
}

const inactivePage = `<html><body><p>This company is no longer listed.</p></body></html>`

// fakePage is one canned response. An empty resolved URL means the page resolved to itself.
type fakePage struct {
	content  string
	resolved string
	err      error
}

// fakeSite serves canned pages keyed by requested path; unknown paths are 404s.
type fakeSite struct {
	mu       sync.Mutex
	pages    map[string]fakePage
	calls    map[string]int
	onFetch  func(path string)
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeSite(pages map[string]fakePage) *fakeSite {
	return &fakeSite{pages: pages, calls: map[string]int{}}
}

func (s *fakeSite) Fetch(ctx context.Context, path string) (*fetch.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls[path]++
	p, ok := s.pages[path]
	hook := s.onFetch
	s.mu.Unlock()

	if hook != nil {
		hook(path)
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if !ok {
		return &fetch.Page{StatusCode: http.StatusNotFound, RequestedPath: path, ResolvedURL: siteURL + path},
			utils.WrapErrorf(utils.ErrClientHTTPError, "status 404 for %s", path)
	}
	if p.err != nil {
		return nil, p.err
	}
	resolved := p.resolved
	if resolved == "" {
		resolved = siteURL + path
	}
	return &fetch.Page{Content: p.content, ResolvedURL: resolved, StatusCode: http.StatusOK, RequestedPath: path}, nil
}

func (s *fakeSite) callsTo(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *fakeSite) set(path string, page fakePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = page
}

// memCheckpoints is an in-memory PageCheckpointer.
type memCheckpoints struct {
	mu      sync.Mutex
	pages   map[string]models.PageCheckpoint
	deleted []string
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{pages: map[string]models.PageCheckpoint{}}
}

func cpKey(id string, page int) string { return fmt.Sprintf("%s#%d", id, page) }

func (m *memCheckpoints) LoadPage(id string, page int) (*models.PageCheckpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.pages[cpKey(id, page)]
	if !ok {
		return nil, false, nil
	}
	return &cp, true, nil
}

func (m *memCheckpoints) SavePage(id string, cp *models.PageCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[cpKey(id, cp.Page)] = *cp
	return nil
}

func (m *memCheckpoints) DeletePages(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.pages {
		if strings.HasPrefix(key, id+"#") {
			delete(m.pages, key)
		}
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memCheckpoints) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

func target(policy string, perPage int) config.TargetConfig {
	return config.TargetConfig{
		BaseURL:          siteURL,
		ReviewsPerPage:   perPage,
		PaginationPolicy: policy,
		Layout:           extract.LayoutCurrent,
	}
}

// newTestCrawler builds a crawler over site. A nil cps disables checkpoints.
func newTestCrawler(t *testing.T, site fetch.PageFetcher, tgt config.TargetConfig, cps *memCheckpoints) *CompanyCrawler {
	t.Helper()
	extractor, err := extract.NewExtractor(tgt.Layout)
	require.NoError(t, err)
	var checkpoints storage.PageCheckpointer
	if cps != nil {
		checkpoints = cps
	}
	return NewCompanyCrawler(site, extractor, tgt, checkpoints, testLogger())
}

func titles(set models.CompanyReviewSet) []string {
	var out []string
	for _, row := range set.Rows {
		out = append(out, row.ReviewTitle)
	}
	return out
}

func TestCrawlCompany_SinglePage(t *testing.T) {
	site := newFakeSite(map[string]fakePage{
		shopID: {content: landingPage(2, "Great", reviewCard("Fast", 5), reviewCard("Slow", 2))},
	})
	res := newTestCrawler(t, site, target("count", 20), nil).CrawlCompany(context.Background(), shopID)

	require.Equal(t, models.CrawlStatusSuccess, res.Status, "err: %v", res.Err)
	assert.Equal(t, models.ReasonNone, res.Reason)
	assert.False(t, res.Partial)
	assert.Equal(t, 1, res.PagesCrawled)
	assert.Positive(t, res.Duration)
	require.Equal(t, 2, res.RowCount())

	four := 4
	assert.Equal(t, models.ReviewRow{
		CompanyURL:         shopID,
		CompanyName:        "Shop",
		CompanyReviewCount: 2,
		CompanyRating:      &four,
		CompanyCategories:  "Shops,Gifts",
		ReviewRating:       5,
		ReviewTitle:        "Fast",
		ReviewBody:         "Body of Fast",
	}, res.Set.Rows[0])
	assert.Equal(t, 2, res.Set.Rows[1].ReviewRating)
	assert.Equal(t, 1, site.callsTo(shopID))
	assert.Zero(t, site.callsTo(shopID+"?page=2"), "one expected page means no second fetch")
}

func TestCrawlCompany_CountPolicy(t *testing.T) {
	t.Run("visits every expected page in order", func(t *testing.T) {
		site := newFakeSite(map[string]fakePage{
			shopID:             {content: landingPage(5, "Great", reviewCard("a", 5), reviewCard("b", 4))},
			shopID + "?page=2": {content: reviewsPage(reviewCard("c", 3), reviewCard("d", 2))},
			shopID + "?page=3": {content: reviewsPage(reviewCard("e", 1))},
		})
		res := newTestCrawler(t, site, target("count", 2), nil).CrawlCompany(context.Background(), shopID)

		require.Equal(t, models.CrawlStatusSuccess, res.Status, "err: %v", res.Err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, titles(res.Set))
		assert.Equal(t, 3, res.PagesCrawled)
		assert.Zero(t, site.callsTo(shopID+"?page=4"))
	})

	t.Run("empty page ends pagination", func(t *testing.T) {
		site := newFakeSite(map[string]fakePage{
			shopID:             {content: landingPage(4, "Great", reviewCard("a", 5), reviewCard("b", 4))},
			shopID + "?page=2": {content: reviewsPage(reviewCard("c", 3), reviewCard("d", 2))},
			shopID + "?page=3": {content: reviewsPage()},
		})
		res := newTestCrawler(t, site, target("count", 2), nil).CrawlCompany(context.Background(), shopID)

		require.Equal(t, models.CrawlStatusSuccess, res.Status)
		assert.Equal(t, []string{"a", "b", "c", "d"}, titles(res.Set))
		assert.Equal(t, 2, res.PagesCrawled)
	})

	t.Run("404 after the first page ends pagination", func(t *testing.T) {
		site := newFakeSite(map[string]fakePage{
			shopID: {content: landingPage(5, "Great", reviewCard("a", 5), reviewCard("b", 4))},
		})
		res := newTestCrawler(t, site, target("count", 2), nil).CrawlCompany(context.Background(), shopID)

		require.Equal(t, models.CrawlStatusSuccess, res.Status, "err: %v", res.Err)
		assert.Equal(t, []string{"a", "b"}, titles(res.Set))
		assert.Equal(t, 1, site.callsTo(shopID+"?page=2"))
		assert.Zero(t, site.callsTo(shopID+"?page=3"))
	})

	t.Run("max pages caps the walk", func(t *testing.T) {
		site := newFakeSite(map[string]fakePage{
			shopID:             {content: landingPage(5, "Great", reviewCard("a", 5), reviewCard("b", 4))},
			shopID + "?page=2": {content: reviewsPage(reviewCard("c", 3), reviewCard("d", 2))},
			shopID + "?page=3": {content: reviewsPage(reviewCard("e", 1))},
		})
		tgt := target("count", 2)
		tgt.MaxPages = 2
		res := newTestCrawler(t, site, tgt, nil).CrawlCompany(context.Background(), shopID)

		require.Equal(t, models.CrawlStatusSuccess, res.Status)
		assert.Equal(t, []string{"a", "b", "c", "d"}, titles(res.Set))
		assert.Zero(t, site.callsTo(shopID+"?page=3"))
	})
}

func TestCrawlCompany_RedirectPolicy(t *testing.T) {
	site := newFakeSite(map[string]fakePage{
		shopID:             {content: landingPage(999, "Excellent", reviewCard("a", 5))},
		shopID + "?page=2": {content: reviewsPage(reviewCard("b", 4))},
		// The site sends out-of-range pages back to the landing page.
		shopID + "?page=3": {content: landingPage(999, "Excellent", reviewCard("a", 5)), resolved: siteURL + shopID},
	})
	crawler := newTestCrawler(t, site, target("redirect", 20), nil)

	first := crawler.CrawlCompany(context.Background(), shopID)
	require.Equal(t, models.CrawlStatusSuccess, first.Status, "err: %v", first.Err)
	assert.Equal(t, []string{"a", "b"}, titles(first.Set))
	assert.Equal(t, 2, first.PagesCrawled)
	assert.Equal(t, 1, site.callsTo(shopID+"?page=3"))
	assert.Zero(t, site.callsTo(shopID+"?page=4"))

	second := crawler.CrawlCompany(context.Background(), shopID)
	assert.Equal(t, first.Set, second.Set, "crawling an unchanged site twice yields the same rows")
}

func TestCrawlCompany_RedirectPolicyEmptyPage(t *testing.T) {
	// The site never redirects: every ?page=N answers 200 with no review cards.
	pages := map[string]fakePage{
		shopID: {content: landingPage(999, "Excellent", reviewCard("a", 5))},
	}
	for p := 2; p <= 50; p++ {
		pages[fmt.Sprintf("%s?page=%d", shopID, p)] = fakePage{content: reviewsPage()}
	}
	site := newFakeSite(pages)

	res := newTestCrawler(t, site, target("redirect", 20), nil).CrawlCompany(context.Background(), shopID)

	require.Equal(t, models.CrawlStatusSuccess, res.Status, "err: %v", res.Err)
	assert.Equal(t, []string{"a"}, titles(res.Set))
	assert.Equal(t, 1, res.PagesCrawled)
	assert.Equal(t, 1, site.callsTo(shopID+"?page=2"))
	assert.Zero(t, site.callsTo(shopID+"?page=3"))
}

func TestCrawlCompany_Inactive(t *testing.T) {
	site := newFakeSite(map[string]fakePage{shopID: {content: inactivePage}})
	cps := newMemCheckpoints()
	require.NoError(t, cps.SavePage(shopID, &models.PageCheckpoint{Page: 2}))

	res := newTestCrawler(t, site, target("count", 20), cps).CrawlCompany(context.Background(), shopID)

	assert.Equal(t, models.CrawlStatusSkippedInactive, res.Status)
	assert.Equal(t, models.ReasonNone, res.Reason)
	assert.ErrorIs(t, res.Err, extract.ErrInactivePage)
	assert.Equal(t, "Content_Inactive", utils.CategorizeError(res.Err))
	assert.Zero(t, res.RowCount())
	assert.Empty(t, res.ReviewFailures)
	assert.Zero(t, cps.len(), "checkpoints of an inactive company are dropped")
}

func TestCrawlCompany_UnparseableSubheader(t *testing.T) {
	page := strings.Replace(landingPage(3, "Great", reviewCard("a", 5)), "3 reviews • Great", "many reviews", 1)
	site := newFakeSite(map[string]fakePage{shopID: {content: page}})

	res := newTestCrawler(t, site, target("count", 20), nil).CrawlCompany(context.Background(), shopID)

	assert.Equal(t, models.CrawlStatusFailure, res.Status)
	assert.Equal(t, models.ReasonUnparseableSubheader, res.Reason)
	assert.ErrorIs(t, res.Err, extract.ErrUnparseableSubheader)
	assert.Equal(t, "Content_UnparseableHeader", utils.CategorizeError(res.Err))
	assert.False(t, res.Partial)
}

func TestCrawlCompany_NoReviews(t *testing.T) {
	t.Run("no cards", func(t *testing.T) {
		site := newFakeSite(map[string]fakePage{shopID: {content: landingPage(0, "")}})
		res := newTestCrawler(t, site, target("count", 20), nil).CrawlCompany(context.Background(), shopID)

		assert.Equal(t, models.CrawlStatusFailure, res.Status)
		assert.Equal(t, models.ReasonNoReviews, res.Reason)
		assert.ErrorIs(t, res.Err, utils.ErrNoReviews)
		assert.Equal(t, "Content_NoReviews", utils.CategorizeError(res.Err))
		assert.Zero(t, res.RowCount())
	})

	t.Run("every card fails", func(t *testing.T) {
		site := newFakeSite(map[string]fakePage{shopID: {content: landingPage(2, "Poor", untitledCard(), untitledCard())}})
		res := newTestCrawler(t, site, target("count", 20), nil).CrawlCompany(context.Background(), shopID)

		assert.Equal(t, models.CrawlStatusFailure, res.Status)
		assert.Equal(t, models.ReasonNoReviews, res.Reason)
		require.Len(t, res.ReviewFailures, 2)
		assert.Equal(t, models.ReviewFailure{Page: 1, Index: 1, Reason: extract.ErrMissingTitle.Error()}, res.ReviewFailures[1])
	})
}

func TestCrawlCompany_PartialReviewFailures(t *testing.T) {
	site := newFakeSite(map[string]fakePage{
		shopID: {content: landingPage(3, "Great", reviewCard("a", 5), untitledCard(), reviewCard("c", 1))},
	})
	res := newTestCrawler(t, site, target("count", 20), nil).CrawlCompany(context.Background(), shopID)

	require.Equal(t, models.CrawlStatusSuccess, res.Status)
	assert.Equal(t, []string{"a", "c"}, titles(res.Set))
	require.Len(t, res.ReviewFailures, 1)
	assert.Equal(t, 1, res.ReviewFailures[0].Index)
}

func TestCrawlCompany_FetchFailures(t *testing.T) {
	timeout := fmt.Errorf("%w: %w: attempt 3", utils.ErrRetryFailed, utils.ErrFetchTimeout)
	serverErr := fmt.Errorf("%w: %w: status 503", utils.ErrRetryFailed, utils.ErrServerHTTPError)

	tests := []struct {
		name        string
		pages       map[string]fakePage
		wantReason  models.FailureReason
		wantTitles  []string
		wantPartial bool
	}{
		{
			name:       "landing not found",
			pages:      map[string]fakePage{},
			wantReason: models.ReasonHTTPStatus,
		},
		{
			name:       "landing disallowed by robots",
			pages:      map[string]fakePage{shopID: {err: utils.WrapErrorf(utils.ErrRobotsDisallowed, "%s", shopID)}},
			wantReason: models.ReasonRobotsDisallowed,
		},
		{
			name:       "landing transport error",
			pages:      map[string]fakePage{shopID: {err: fmt.Errorf("%w: connection refused", utils.ErrRetryFailed)}},
			wantReason: models.ReasonFetchError,
		},
		{
			name: "timeout on a later page keeps earlier rows",
			pages: map[string]fakePage{
				shopID:             {content: landingPage(5, "Great", reviewCard("a", 5), reviewCard("b", 4))},
				shopID + "?page=2": {err: timeout},
			},
			wantReason:  models.ReasonFetchTimeout,
			wantTitles:  []string{"a", "b"},
			wantPartial: true,
		},
		{
			name: "server error on a later page",
			pages: map[string]fakePage{
				shopID:             {content: landingPage(5, "Great", reviewCard("a", 5), reviewCard("b", 4))},
				shopID + "?page=2": {content: reviewsPage(reviewCard("c", 3), reviewCard("d", 2))},
				shopID + "?page=3": {err: serverErr},
			},
			wantReason:  models.ReasonHTTPStatus,
			wantTitles:  []string{"a", "b", "c", "d"},
			wantPartial: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newFakeSite(tt.pages)
			res := newTestCrawler(t, site, target("count", 2), nil).CrawlCompany(context.Background(), shopID)

			assert.Equal(t, models.CrawlStatusFailure, res.Status)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Error(t, res.Err)
			assert.Equal(t, tt.wantPartial, res.Partial)
			assert.Equal(t, tt.wantTitles, titles(res.Set))
		})
	}
}

func TestCrawlCompany_CancelledKeepsPartialRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	site := newFakeSite(map[string]fakePage{
		shopID:             {content: landingPage(5, "Great", reviewCard("a", 5), reviewCard("b", 4))},
		shopID + "?page=2": {content: reviewsPage(reviewCard("c", 3))},
	})
	site.onFetch = func(path string) {
		if path == shopID {
			cancel()
		}
	}
	res := newTestCrawler(t, site, target("count", 2), nil).CrawlCompany(ctx, shopID)

	assert.Equal(t, models.CrawlStatusFailure, res.Status)
	assert.Equal(t, models.ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"a", "b"}, titles(res.Set))
	assert.Zero(t, site.callsTo(shopID+"?page=2"))
}

func TestCrawlCompany_Fanout(t *testing.T) {
	fivePages := func() map[string]fakePage {
		return map[string]fakePage{
			shopID:             {content: landingPage(9, "Average", reviewCard("p1a", 3), reviewCard("p1b", 3))},
			shopID + "?page=2": {content: reviewsPage(reviewCard("p2a", 3), reviewCard("p2b", 3))},
			shopID + "?page=3": {content: reviewsPage(reviewCard("p3a", 3), reviewCard("p3b", 3))},
			shopID + "?page=4": {content: reviewsPage(reviewCard("p4a", 3), reviewCard("p4b", 3))},
			shopID + "?page=5": {content: reviewsPage(reviewCard("p5a", 3))},
		}
	}

	t.Run("pages applied in order with bounded concurrency", func(t *testing.T) {
		site := newFakeSite(fivePages())
		site.delay = 20 * time.Millisecond
		tgt := target("count", 2)
		tgt.PageFanout = 3

		res := newTestCrawler(t, site, tgt, nil).CrawlCompany(context.Background(), shopID)

		require.Equal(t, models.CrawlStatusSuccess, res.Status, "err: %v", res.Err)
		assert.Equal(t, []string{"p1a", "p1b", "p2a", "p2b", "p3a", "p3b", "p4a", "p4b", "p5a"}, titles(res.Set))
		assert.Equal(t, 5, res.PagesCrawled)
		assert.LessOrEqual(t, site.peak.Load(), int32(3))
	})

	t.Run("rejected page discards later pages", func(t *testing.T) {
		pages := fivePages()
		pages[shopID+"?page=3"] = fakePage{content: reviewsPage()}
		site := newFakeSite(pages)
		tgt := target("count", 2)
		tgt.PageFanout = 4

		res := newTestCrawler(t, site, tgt, nil).CrawlCompany(context.Background(), shopID)

		require.Equal(t, models.CrawlStatusSuccess, res.Status)
		assert.Equal(t, []string{"p1a", "p1b", "p2a", "p2b"}, titles(res.Set))
		assert.Equal(t, 2, res.PagesCrawled)
	})

	t.Run("failed page fails the company", func(t *testing.T) {
		pages := fivePages()
		pages[shopID+"?page=4"] = fakePage{err: fmt.Errorf("%w: status 500", utils.ErrServerHTTPError)}
		site := newFakeSite(pages)
		tgt := target("count", 2)
		tgt.PageFanout = 3

		res := newTestCrawler(t, site, tgt, nil).CrawlCompany(context.Background(), shopID)

		assert.Equal(t, models.CrawlStatusFailure, res.Status)
		assert.Equal(t, models.ReasonHTTPStatus, res.Reason)
		assert.True(t, res.Partial)
		got := titles(res.Set)
		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, []string{"p1a", "p1b"}, got[:2])
		assert.NotContains(t, got, "p5a")
	})

	t.Run("redirect policy ignores fan-out", func(t *testing.T) {
		site := newFakeSite(map[string]fakePage{
			shopID:             {content: landingPage(9, "Average", reviewCard("a", 3))},
			shopID + "?page=2": {content: reviewsPage(reviewCard("a", 3)), resolved: siteURL + shopID},
		})
		tgt := target("redirect", 2)
		tgt.PageFanout = 4

		res := newTestCrawler(t, site, tgt, nil).CrawlCompany(context.Background(), shopID)

		require.Equal(t, models.CrawlStatusSuccess, res.Status)
		assert.Equal(t, []string{"a"}, titles(res.Set))
		assert.Zero(t, site.callsTo(shopID+"?page=3"))
	})
}

func TestCrawlCompany_CheckpointResume(t *testing.T) {
	cps := newMemCheckpoints()
	site := newFakeSite(map[string]fakePage{
		shopID:             {content: landingPage(5, "Great", reviewCard("a", 5), reviewCard("b", 4))},
		shopID + "?page=2": {content: reviewsPage(reviewCard("c", 3), untitledCard())},
		shopID + "?page=3": {err: fmt.Errorf("%w: status 502", utils.ErrServerHTTPError)},
	})
	crawler := newTestCrawler(t, site, target("count", 2), cps)

	first := crawler.CrawlCompany(context.Background(), shopID)
	require.Equal(t, models.CrawlStatusFailure, first.Status)
	assert.Equal(t, 1, cps.len(), "page 2 was checkpointed, the landing page never is")

	site.set(shopID+"?page=3", fakePage{content: reviewsPage(reviewCard("e", 1))})
	second := crawler.CrawlCompany(context.Background(), shopID)

	require.Equal(t, models.CrawlStatusSuccess, second.Status, "err: %v", second.Err)
	assert.Equal(t, []string{"a", "b", "c", "e"}, titles(second.Set))
	assert.Equal(t, 1, site.callsTo(shopID+"?page=2"), "page 2 comes from its checkpoint on the second run")
	require.Len(t, second.ReviewFailures, 1, "checkpointed review failures are carried over")
	assert.Equal(t, 2, second.ReviewFailures[0].Page)
	assert.Zero(t, cps.len(), "checkpoints are dropped after success")
	assert.Equal(t, []string{shopID}, cps.deleted)
}

func TestFailureReasonFor(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	bg := context.Background()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want models.FailureReason
	}{
		{"cancelled context wins", cancelled, utils.ErrServerHTTPError, models.ReasonCancelled},
		{"cancel error", bg, fmt.Errorf("wrapped: %w", context.Canceled), models.ReasonCancelled},
		{"robots", bg, utils.WrapErrorf(utils.ErrRobotsDisallowed, "x"), models.ReasonRobotsDisallowed},
		{"fetch timeout", bg, utils.WrapErrorf(utils.ErrFetchTimeout, "x"), models.ReasonFetchTimeout},
		{"deadline", bg, context.DeadlineExceeded, models.ReasonFetchTimeout},
		{"client status", bg, utils.ErrClientHTTPError, models.ReasonHTTPStatus},
		{"server status", bg, utils.ErrServerHTTPError, models.ReasonHTTPStatus},
		{"other status", bg, utils.ErrOtherHTTPError, models.ReasonHTTPStatus},
		{"anything else", bg, errors.New("connection reset"), models.ReasonFetchError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureReasonFor(tt.ctx, tt.err))
		})
	}
}

func TestCrawlCompany_OverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(shopID, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			_, _ = io.WriteString(w, landingPage(120, "Great", reviewCard("a", 5), reviewCard("b", 4)))
		case "2":
			_, _ = io.WriteString(w, reviewsPage(reviewCard("c", 3)))
		default:
			http.Redirect(w, r, shopID, http.StatusFound)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	off := false
	cfg := &config.AppConfig{
		DefaultUserAgent:        "review-scraper-test/1.0",
		MaxRequests:             2,
		MaxRequestsPerHost:      2,
		MaxRetries:              1,
		InitialRetryDelay:       5 * time.Millisecond,
		MaxRetryDelay:           10 * time.Millisecond,
		SemaphoreAcquireTimeout: time.Second,
		PerPageTimeout:          2 * time.Second,
		FetcherBackend:          config.BackendHTTP,
		Target: config.TargetConfig{
			BaseURL:          server.URL,
			PaginationPolicy: "redirect",
			ReviewsPerPage:   20,
			Layout:           extract.LayoutAuto,
			RespectRobots:    &off,
		},
	}
	pf, err := fetch.NewPageFetcher(cfg, fetch.NewGate(cfg, testLogger()), testLogger())
	require.NoError(t, err)

	res := newTestCrawler(t, pf, cfg.Target, nil).CrawlCompany(context.Background(), shopID)

	require.Equal(t, models.CrawlStatusSuccess, res.Status, "err: %v", res.Err)
	assert.Equal(t, []string{"a", "b", "c"}, titles(res.Set))
	assert.Equal(t, 2, res.PagesCrawled)
}
