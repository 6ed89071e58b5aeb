package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/models"
)

// Summary tallies company outcomes across workers.
type Summary struct {
	mu     sync.Mutex
	totals models.RunTotals
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{totals: models.RunTotals{FailuresByReason: map[string]int{}}}
}

// Record adds one company result. Rows of failed companies count as partial rows.
func (s *Summary) Record(res models.CrawlResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals.ReviewFailures += len(res.ReviewFailures)
	switch res.Status {
	case models.CrawlStatusSuccess:
		s.totals.Success++
		s.totals.Rows += res.RowCount()
	case models.CrawlStatusSkippedInactive:
		s.totals.SkippedInactive++
	default:
		s.totals.Failure++
		s.totals.FailuresByReason[res.Reason.String()]++
		s.totals.PartialRows += res.RowCount()
	}
}

// Totals returns a copy of the current tallies.
func (s *Summary) Totals() models.RunTotals {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := s.totals
	totals.FailuresByReason = make(map[string]int, len(s.totals.FailuresByReason))
	for reason, n := range s.totals.FailuresByReason {
		totals.FailuresByReason[reason] = n
	}
	return totals
}

// Processed returns the number of companies recorded.
func (s *Summary) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals.Success + s.totals.SkippedInactive + s.totals.Failure
}

func logSummary(log *logrus.Entry, totals models.RunTotals, queued, notStarted int, totalDuration time.Duration) {
	log.Info("============================================")
	log.Infof("Batch completed in %v", totalDuration)
	log.Infof("Companies: %d queued, %d success, %d skipped (inactive), %d failed, %d not started",
		queued, totals.Success, totals.SkippedInactive, totals.Failure, notStarted)

	if len(totals.FailuresByReason) > 0 {
		reasons := make([]string, 0, len(totals.FailuresByReason))
		for reason := range totals.FailuresByReason {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		log.Info("Failures by reason:")
		for _, reason := range reasons {
			log.Infof("  %s: %d", reason, totals.FailuresByReason[reason])
		}
	}

	log.Info("--------------------------------------------")
	log.Infof("Rows: %d written, %d partial, %d review cards skipped", totals.Rows, totals.PartialRows, totals.ReviewFailures)
	log.Info("============================================")
}
