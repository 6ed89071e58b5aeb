package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/fetch"
	"github.com/Sriram-PR/review-scraper/pkg/metrics"
	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/output"
	"github.com/Sriram-PR/review-scraper/pkg/queue"
	"github.com/Sriram-PR/review-scraper/pkg/storage"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

const (
	defaultProgressInterval = 30 * time.Second
	defaultGCInterval       = 10 * time.Minute
	defaultEvictionInterval = 5 * time.Minute
)

// CompanyCrawler crawls a single company to a terminal result.
type CompanyCrawler interface {
	CrawlCompany(ctx context.Context, identifier string) models.CrawlResult
}

// Options tune a batch run.
type Options struct {
	// Resume skips companies the store already finished and appends to the
	// failure log instead of truncating it.
	Resume bool
	// Hosts, when set, has its idle host semaphores evicted during the run.
	Hosts *fetch.HostSemaphorePool
}

// Runner crawls a list of companies with a bounded pool of workers. Every
// company ends in exactly one recorded outcome; per-company errors never
// abort the batch.
type Runner struct {
	appCfg  *config.AppConfig
	log     *logrus.Entry
	runID   string
	opts    Options
	crawler CompanyCrawler
	store   storage.ResumeStore
	output  *output.OutputManager
	pq      *queue.ThreadSafePriorityQueue
	summary *Summary

	progressInterval time.Duration
	gcInterval       time.Duration
}

// NewRunner wires a runner. store and out are owned by the caller, except that
// Run opens and closes out.
func NewRunner(
	appCfg *config.AppConfig,
	runID string,
	crawler CompanyCrawler,
	store storage.ResumeStore,
	out *output.OutputManager,
	log *logrus.Entry,
	opts Options,
) *Runner {
	runLog := log.WithField("run_id", runID)
	return &Runner{
		appCfg:           appCfg,
		log:              runLog,
		runID:            runID,
		opts:             opts,
		crawler:          crawler,
		store:            store,
		output:           out,
		pq:               queue.NewThreadSafePriorityQueue(runLog),
		summary:          NewSummary(),
		progressInterval: defaultProgressInterval,
		gcInterval:       defaultGCInterval,
	}
}

// Run crawls items until all are done or ctx is cancelled, then writes the run
// metadata. Companies never started because of cancellation stay pending in the
// store. The returned error is only set when outputs could not be written.
func (r *Runner) Run(ctx context.Context, items []models.WorkItem) (models.RunTotals, error) {
	startTime := time.Now()

	var cancel context.CancelFunc
	if r.appCfg.GlobalCrawlTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.appCfg.GlobalCrawlTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := r.output.OpenFiles(r.opts.Resume); err != nil {
		return models.RunTotals{}, err
	}

	queued := r.seed(ctx, items)
	r.pq.Close()

	numWorkers := max(r.appCfg.NumWorkers, 1)
	r.log.Infof("Batch starting: %d companies queued, %d worker(s)", queued, numWorkers)

	var notStarted atomic.Int64
	var background sync.WaitGroup
	bgCtx, stopBackground := context.WithCancel(ctx)
	r.startBackground(ctx, bgCtx, queued, &background, &notStarted)

	var workers sync.WaitGroup
	for i := 1; i <= numWorkers; i++ {
		workers.Add(1)
		go func(workerLog *logrus.Entry) {
			defer workers.Done()
			r.worker(ctx, workerLog)
		}(r.log.WithField("worker_id", i))
	}
	workers.Wait()
	stopBackground()
	background.Wait()

	if err := ctx.Err(); err != nil {
		r.log.Warnf("Batch interrupted: %v", err)
	}

	totals := r.summary.Totals()
	logSummary(r.log, totals, queued, int(notStarted.Load()), time.Since(startTime))
	if err := r.output.Close(totals); err != nil {
		return totals, err
	}
	return totals, nil
}

// seed queues every item the store has not already finished.
func (r *Runner) seed(ctx context.Context, items []models.WorkItem) int {
	queued, skipped := 0, 0
	for _, item := range items {
		if ctx.Err() != nil {
			r.log.Warnf("Seeding stopped: %v", ctx.Err())
			break
		}
		itemLog := r.log.WithField("company", item.Identifier)

		if r.opts.Resume {
			status, _, err := r.store.CheckCompanyStatus(item.Identifier)
			if err != nil {
				itemLog.Warnf("Could not read stored status, crawling anyway: %v", err)
			} else if status.IsTerminal() {
				itemLog.Debugf("Already finished (%s), skipping", status)
				skipped++
				continue
			}
		}
		if _, err := r.store.MarkCompanyQueued(item.Identifier); err != nil {
			itemLog.Warnf("Could not mark company as queued: %v", err)
		}
		if r.pq.Add(item) {
			queued++
		}
	}
	if skipped > 0 {
		r.log.Infof("Resume mode: skipped %d already finished companies", skipped)
	}
	return queued
}

// startBackground launches store GC, host eviction, progress reporting, and the
// queue drain that runs when ctx is cancelled.
func (r *Runner) startBackground(ctx, bgCtx context.Context, queued int, wg *sync.WaitGroup, notStarted *atomic.Int64) {
	wg.Add(3)
	go func() {
		defer wg.Done()
		r.store.RunGC(bgCtx, r.gcInterval)
	}()
	go func() {
		defer wg.Done()
		<-bgCtx.Done()
		if ctx.Err() == nil {
			return
		}
		left := r.pq.Drain()
		notStarted.Store(int64(len(left)))
		if len(left) > 0 {
			r.log.Warnf("%d queued companies not started; they remain pending for resume", len(left))
		}
	}()
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.log.WithFields(logrus.Fields{
					"processed": r.summary.Processed(),
					"queued":    queued,
					"remaining": r.pq.Len(),
				}).Info("Batch progress")
			case <-bgCtx.Done():
				return
			}
		}
	}()

	if r.opts.Hosts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.opts.Hosts.RunEviction(bgCtx, defaultEvictionInterval)
		}()
	}
}

func (r *Runner) worker(ctx context.Context, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		select {
		case <-ctx.Done():
			workerLog.Warnf("Worker shutting down due to context cancellation: %v", ctx.Err())
			return
		default:
		}

		item, ok := r.pq.Pop()
		if !ok {
			return
		}
		r.processCompany(ctx, item, workerLog)
	}
}

// processCompany crawls one company and records its outcome in every sink.
func (r *Runner) processCompany(ctx context.Context, item models.WorkItem, workerLog *logrus.Entry) {
	taskLog := workerLog.WithField("company", item.Identifier)
	res := r.crawlSafely(ctx, item.Identifier, taskLog)

	outFile, err := r.output.WriteResult(res)
	if err != nil {
		taskLog.Errorf("Failed to write review rows: %v", err)
		res.Status = models.CrawlStatusFailure
		res.Reason = models.ReasonOutputError
		res.Err = err
		res.Partial = res.RowCount() > 0
	}
	r.output.RecordOutcome(res, outFile, taskLog)
	r.summary.Record(res)
	metrics.ObserveCompany(res.Status.String(), string(res.Reason), res.RowCount(), res.PagesCrawled, res.Duration)

	entry := &models.CompanyDBEntry{
		Status:      res.Status,
		Reason:      string(res.Reason),
		RowCount:    res.RowCount(),
		LastAttempt: time.Now(),
	}
	logFields := logrus.Fields{
		"status":   res.Status.String(),
		"rows":     res.RowCount(),
		"pages":    res.PagesCrawled,
		"duration": res.Duration.String(),
	}
	switch res.Status {
	case models.CrawlStatusSuccess:
		entry.ProcessedAt = entry.LastAttempt
		logFields["output"] = outFile
	case models.CrawlStatusFailure:
		entry.ErrorType = utils.CategorizeError(res.Err)
		logFields["reason"] = res.Reason.String()
		logFields["category"] = entry.ErrorType
	}
	if dbErr := r.store.UpdateCompanyStatus(item.Identifier, entry); dbErr != nil {
		taskLog.Errorf("Failed to update stored status to '%s': %v", res.Status, dbErr)
	}

	if res.Status == models.CrawlStatusFailure {
		taskLog.WithFields(logFields).Warnf("Company failed: %v", res.Err)
	} else {
		taskLog.WithFields(logFields).Info("Company finished")
	}
}

// crawlSafely runs the crawler, turning a panic into a failed result.
func (r *Runner) crawlSafely(ctx context.Context, identifier string, taskLog *logrus.Entry) (res models.CrawlResult) {
	startTime := time.Now()
	defer func() {
		if p := recover(); p != nil {
			taskLog.WithFields(logrus.Fields{
				"panic_info":  p,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while crawling company")
			res = models.CrawlResult{
				Identifier: identifier,
				Status:     models.CrawlStatusFailure,
				Reason:     models.ReasonPanic,
				Err:        fmt.Errorf("panic: %v", p),
				Duration:   time.Since(startTime),
			}
		}
	}()
	return r.crawler.CrawlCompany(ctx, identifier)
}

// IncompleteItems lists every company the store has not finished, in key order.
func IncompleteItems(ctx context.Context, store storage.StoreAdmin, log *logrus.Entry) ([]models.WorkItem, error) {
	var items []models.WorkItem
	requeued, scanErrors, err := store.RequeueIncomplete(ctx, func(item models.WorkItem) {
		items = append(items, item)
	})
	if err != nil {
		return nil, err
	}
	if scanErrors > 0 {
		log.Warnf("%d stored entries could not be decoded and were requeued", scanErrors)
	}
	log.Infof("Found %d incomplete companies to resume", requeued)
	return items, nil
}
