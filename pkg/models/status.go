package models

// CrawlStatus is the terminal status of a company crawl
type CrawlStatus string

const (
	CrawlStatusUnset           CrawlStatus = ""                 // Zero value = unset/unknown
	CrawlStatusPending         CrawlStatus = "pending"          // Queued, not yet crawled
	CrawlStatusSuccess         CrawlStatus = "success"          // All pages crawled, rows emitted
	CrawlStatusSkippedInactive CrawlStatus = "skipped_inactive" // Landing page carries no company header
	CrawlStatusFailure         CrawlStatus = "failure"          // See FailureReason
	CrawlStatusNotFound        CrawlStatus = "not_found"        // Company not in database
	CrawlStatusDBError         CrawlStatus = "db_error"         // Database error occurred
)

// String implements fmt.Stringer for logging
func (s CrawlStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s CrawlStatus) IsValid() bool {
	switch s {
	case CrawlStatusPending, CrawlStatusSuccess, CrawlStatusSkippedInactive, CrawlStatusFailure:
		return true
	}
	return false
}

// IsTerminal reports whether a crawl with this status needs no further attempt.
func (s CrawlStatus) IsTerminal() bool {
	return s == CrawlStatusSuccess || s == CrawlStatusSkippedInactive
}

// FailureReason explains a failed company crawl
type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonUnparseableSubheader FailureReason = "unparseable-subheader"
	ReasonNoReviews            FailureReason = "no-reviews"
	ReasonFetchTimeout         FailureReason = "fetch-timeout"
	ReasonFetchError           FailureReason = "fetch-error"
	ReasonHTTPStatus           FailureReason = "http-status"
	ReasonRobotsDisallowed     FailureReason = "robots-disallowed"
	ReasonCancelled            FailureReason = "cancelled"
	ReasonPanic                FailureReason = "panic"
	ReasonOutputError          FailureReason = "output-error" // Rows crawled but the CSV could not be written
)

func (r FailureReason) String() string {
	if r == "" {
		return "none"
	}
	return string(r)
}
