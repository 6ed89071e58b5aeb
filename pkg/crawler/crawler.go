package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/extract"
	"github.com/Sriram-PR/review-scraper/pkg/fetch"
	"github.com/Sriram-PR/review-scraper/pkg/metrics"
	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/paginate"
	"github.com/Sriram-PR/review-scraper/pkg/parse"
	"github.com/Sriram-PR/review-scraper/pkg/storage"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// CompanyCrawler crawls every review page of one company at a time and joins the
// reviews with the company metadata. It holds no per-company state, so a single
// instance is shared by all batch workers.
type CompanyCrawler struct {
	fetcher     fetch.PageFetcher
	extractor   *extract.Extractor
	policy      paginate.Policy
	perPage     int
	maxPages    int
	fanout      int
	checkpoints storage.PageCheckpointer // nil disables page checkpoints
	log         *logrus.Entry
}

// NewCompanyCrawler builds a crawler for the configured target. checkpoints may be nil.
func NewCompanyCrawler(
	fetcher fetch.PageFetcher,
	extractor *extract.Extractor,
	target config.TargetConfig,
	checkpoints storage.PageCheckpointer,
	log *logrus.Entry,
) *CompanyCrawler {
	fanout := target.PageFanout
	if fanout < 1 {
		fanout = 1
	}
	return &CompanyCrawler{
		fetcher:     fetcher,
		extractor:   extractor,
		policy:      paginate.Policy(target.PaginationPolicy),
		perPage:     target.ReviewsPerPage,
		maxPages:    target.MaxPages,
		fanout:      fanout,
		checkpoints: checkpoints,
		log:         log,
	}
}

// pageOutcome is one fetched (or checkpointed) review page.
type pageOutcome struct {
	cursor         paginate.Cursor
	resolved       string
	nodes          int
	reviews        []models.Review
	failures       []models.ReviewFailure
	fromCheckpoint bool
	notFound       bool // 404 on a page after the first ends pagination
}

// companyCrawl accumulates the state of one CrawlCompany call.
type companyCrawl struct {
	company  models.Company
	ctrl     *paginate.Controller
	reviews  []models.Review
	failures []models.ReviewFailure
	pages    int
}

// CrawlCompany fetches the landing page and every following review page of
// identifier. It never returns an error: the outcome, including any rows
// gathered before a failure, is carried by the result.
func (c *CompanyCrawler) CrawlCompany(ctx context.Context, identifier string) (result models.CrawlResult) {
	start := time.Now()
	log := c.log.WithField("company", identifier)
	result.Identifier = identifier
	defer func() { result.Duration = time.Since(start) }()

	landing, err := c.fetcher.Fetch(ctx, identifier)
	if err != nil {
		c.fail(ctx, &result, nil, err)
		log.Warnf("Landing page fetch failed (%s): %v", result.Reason, err)
		return result
	}
	doc := parse.Parse(landing.Content)

	company, err := c.extractor.ExtractCompany(doc, identifier)
	switch {
	case errors.Is(err, extract.ErrInactivePage):
		result.Status = models.CrawlStatusSkippedInactive
		result.Err = err
		c.dropCheckpoints(identifier, log)
		log.Infof("Skipping inactive company: %v", err)
		return result
	case errors.Is(err, extract.ErrUnparseableSubheader):
		result.Status = models.CrawlStatusFailure
		result.Reason = models.ReasonUnparseableSubheader
		result.Err = err
		log.Warnf("Company header unreadable: %v", err)
		return result
	case err != nil:
		c.fail(ctx, &result, nil, err)
		return result
	}
	log = log.WithField("review_count", company.ReviewCount)

	crawl := &companyCrawl{
		company: company,
		ctrl:    paginate.NewController(c.policy, company, c.perPage, c.maxPages),
	}
	first := c.extractPage(paginate.Cursor{Identifier: identifier, Page: 1}, landing, doc)
	c.apply(crawl, first, log)

	if c.fanout > 1 && crawl.ctrl.Policy() == paginate.PolicyCount {
		err = c.crawlFanout(ctx, crawl, log)
	} else {
		err = c.crawlSequential(ctx, crawl, log)
	}
	if err != nil {
		c.fail(ctx, &result, crawl, err)
		log.Warnf("Crawl stopped after %d page(s) with %d review(s) (%s): %v", crawl.pages, len(crawl.reviews), result.Reason, err)
		return result
	}

	result.PagesCrawled = crawl.pages
	result.ReviewFailures = crawl.failures
	if len(crawl.reviews) == 0 {
		result.Status = models.CrawlStatusFailure
		result.Reason = models.ReasonNoReviews
		result.Err = fmt.Errorf("%w from %d page(s)", utils.ErrNoReviews, crawl.pages)
		log.Warn("No reviews extracted")
		return result
	}

	result.Status = models.CrawlStatusSuccess
	result.Set = models.JoinReviews(company, crawl.reviews)
	c.dropCheckpoints(identifier, log)
	log.WithFields(logrus.Fields{
		"pages":           crawl.pages,
		"rows":            len(result.Set.Rows),
		"review_failures": len(crawl.failures),
	}).Info("Company crawled")
	return result
}

// crawlSequential asks the controller for one page at a time until it stops.
func (c *CompanyCrawler) crawlSequential(ctx context.Context, crawl *companyCrawl, log *logrus.Entry) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cursor, ok := crawl.ctrl.Next()
		if !ok {
			return nil
		}
		outcome, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return err
		}
		if !c.apply(crawl, outcome, log) {
			return nil
		}
	}
}

// crawlFanout fetches every planned page concurrently, bounded by the fan-out
// setting, then applies them in page order. A rejected page ends the crawl as it
// would sequentially; pages after it are discarded.
func (c *CompanyCrawler) crawlFanout(ctx context.Context, crawl *companyCrawl, log *logrus.Entry) error {
	plan := crawl.ctrl.Plan()
	if len(plan) == 0 {
		return nil
	}
	log.Debugf("Fetching %d page(s) with fan-out %d", len(plan), c.fanout)

	outcomes := make([]*pageOutcome, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanout)
	for i, cursor := range plan {
		g.Go(func() error {
			outcome, err := c.fetchPage(gctx, cursor)
			if err != nil {
				return err
			}
			outcomes[i] = &outcome
			return nil
		})
	}
	waitErr := g.Wait()

	for _, outcome := range outcomes {
		if outcome == nil {
			if waitErr == nil {
				waitErr = errors.New("page fetch produced no outcome")
			}
			return waitErr
		}
		if !c.apply(crawl, *outcome, log) {
			return nil
		}
	}
	return nil
}

// fetchPage returns the reviews of one page, from its checkpoint when one exists.
func (c *CompanyCrawler) fetchPage(ctx context.Context, cursor paginate.Cursor) (pageOutcome, error) {
	if outcome, ok := c.loadCheckpoint(cursor); ok {
		return outcome, nil
	}

	page, err := c.fetcher.Fetch(ctx, cursor.Path())
	if err != nil {
		if page != nil && page.StatusCode == http.StatusNotFound && cursor.Page > 1 {
			return pageOutcome{cursor: cursor, notFound: true}, nil
		}
		return pageOutcome{}, fmt.Errorf("page %d: %w", cursor.Page, err)
	}
	return c.extractPage(cursor, page, parse.Parse(page.Content)), nil
}

func (c *CompanyCrawler) extractPage(cursor paginate.Cursor, page *fetch.Page, doc *parse.Document) pageOutcome {
	reviews, reviewErrs := c.extractor.ExtractReviews(doc, cursor.Identifier)
	outcome := pageOutcome{
		cursor:   cursor,
		resolved: page.ResolvedURL,
		nodes:    c.extractor.CountReviewNodes(doc),
		reviews:  reviews,
	}
	for _, re := range reviewErrs {
		metrics.ObserveReviewFailure(reviewFailureLabel(re.Err))
		outcome.failures = append(outcome.failures, models.ReviewFailure{
			Page:   cursor.Page,
			Index:  re.Index,
			Reason: re.Err.Error(),
		})
	}
	return outcome
}

// apply hands a page to the controller and keeps its reviews when accepted.
func (c *CompanyCrawler) apply(crawl *companyCrawl, outcome pageOutcome, log *logrus.Entry) bool {
	accepted := crawl.ctrl.Advance(paginate.FetchResult{
		Cursor:      outcome.cursor,
		ResolvedURL: outcome.resolved,
		ReviewNodes: outcome.nodes,
	})
	pageLog := log.WithField("page", outcome.cursor.Page)
	if !accepted {
		switch {
		case outcome.notFound:
			pageLog.Debug("Page not found, pagination ended")
		default:
			pageLog.Debugf("Page rejected (resolved=%q, nodes=%d), pagination ended", outcome.resolved, outcome.nodes)
		}
		return false
	}

	crawl.pages++
	crawl.reviews = append(crawl.reviews, outcome.reviews...)
	crawl.failures = append(crawl.failures, outcome.failures...)
	for _, f := range outcome.failures {
		pageLog.Debugf("Review %d skipped: %s", f.Index, f.Reason)
	}
	if outcome.cursor.Page > 1 && !outcome.fromCheckpoint {
		c.saveCheckpoint(outcome, pageLog)
	}
	return true
}

func (c *CompanyCrawler) loadCheckpoint(cursor paginate.Cursor) (pageOutcome, bool) {
	if c.checkpoints == nil || cursor.Page <= 1 {
		return pageOutcome{}, false
	}
	cp, found, err := c.checkpoints.LoadPage(cursor.Identifier, cursor.Page)
	if err != nil {
		c.log.WithFields(logrus.Fields{"company": cursor.Identifier, "page": cursor.Page}).
			Warnf("Failed to load page checkpoint, refetching: %v", err)
		return pageOutcome{}, false
	}
	if !found {
		return pageOutcome{}, false
	}
	// Only accepted pages are checkpointed, so the page resolved to itself.
	return pageOutcome{
		cursor:         cursor,
		resolved:       cursor.Path(),
		nodes:          cp.Nodes,
		reviews:        cp.Reviews,
		failures:       cp.Failures,
		fromCheckpoint: true,
	}, true
}

func (c *CompanyCrawler) saveCheckpoint(outcome pageOutcome, log *logrus.Entry) {
	if c.checkpoints == nil {
		return
	}
	err := c.checkpoints.SavePage(outcome.cursor.Identifier, &models.PageCheckpoint{
		Page:       outcome.cursor.Page,
		Reviews:    outcome.reviews,
		Failures:   outcome.failures,
		Nodes:      outcome.nodes,
		CapturedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warnf("Failed to save page checkpoint: %v", err)
	}
}

func (c *CompanyCrawler) dropCheckpoints(identifier string, log *logrus.Entry) {
	if c.checkpoints == nil {
		return
	}
	if err := c.checkpoints.DeletePages(identifier); err != nil {
		log.Warnf("Failed to delete page checkpoints: %v", err)
	}
}

// fail marks result as a failure. Reviews gathered so far are kept as a partial set.
func (c *CompanyCrawler) fail(ctx context.Context, result *models.CrawlResult, crawl *companyCrawl, err error) {
	result.Status = models.CrawlStatusFailure
	result.Reason = FailureReasonFor(ctx, err)
	result.Err = err
	if crawl == nil {
		return
	}
	result.PagesCrawled = crawl.pages
	result.ReviewFailures = crawl.failures
	if len(crawl.reviews) > 0 {
		result.Partial = true
		result.Set = models.JoinReviews(crawl.company, crawl.reviews)
	}
}

// FailureReasonFor maps a fetch error to the failure reason recorded for a company.
// A cancelled ctx wins over whatever error the cancellation surfaced as.
func FailureReasonFor(ctx context.Context, err error) models.FailureReason {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return models.ReasonCancelled
	case errors.Is(err, utils.ErrRobotsDisallowed):
		return models.ReasonRobotsDisallowed
	case utils.IsTimeout(err):
		return models.ReasonFetchTimeout
	case errors.Is(err, utils.ErrClientHTTPError),
		errors.Is(err, utils.ErrServerHTTPError),
		errors.Is(err, utils.ErrOtherHTTPError):
		return models.ReasonHTTPStatus
	default:
		return models.ReasonFetchError
	}
}

func reviewFailureLabel(err error) string {
	switch {
	case errors.Is(err, extract.ErrMissingTitle):
		return "missing-title"
	case errors.Is(err, extract.ErrRatingMismatch):
		return "rating-mismatch"
	case errors.Is(err, extract.ErrInvalidRating):
		return "invalid-rating"
	default:
		return "other"
	}
}
