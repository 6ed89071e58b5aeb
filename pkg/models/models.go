package models

import (
	"strconv"
	"strings"
	"time"
)

// Company is the metadata extracted from a company's landing page.
// It is built once per crawl and not mutated afterwards.
type Company struct {
	Identifier  string   // Canonical site-relative path, e.g. "/review/example.com"
	DisplayName string   // Text of the header name node, surrounding whitespace trimmed
	Categories  []string // Never nil; empty when the page lists none
	ReviewCount int      // Aggregate review count from the subheader
	RatingScore *int     // nil when the rating word is outside the known vocabulary
}

// Review is a single review card extracted from a review page.
type Review struct {
	CompanyIdentifier string
	Title             string
	Body              string // "" when the card has no body node
	RatingScore       int    // Always in [1,5]
}

// Columns is the fixed column order of a flattened review row.
var Columns = []string{
	"company_url",
	"company_name",
	"company_review_count",
	"company_rating",
	"company_categories",
	"review_rating",
	"review_title",
	"review_body",
}

// ReviewRow is one review flattened together with its company's metadata.
type ReviewRow struct {
	CompanyURL         string
	CompanyName        string
	CompanyReviewCount int
	CompanyRating      *int
	CompanyCategories  string // Comma-joined
	ReviewRating       int
	ReviewTitle        string
	ReviewBody         string
}

// Record renders the row in Columns order. An absent company rating is an empty cell.
func (r ReviewRow) Record() []string {
	rating := ""
	if r.CompanyRating != nil {
		rating = strconv.Itoa(*r.CompanyRating)
	}
	return []string{
		r.CompanyURL,
		r.CompanyName,
		strconv.Itoa(r.CompanyReviewCount),
		rating,
		r.CompanyCategories,
		strconv.Itoa(r.ReviewRating),
		r.ReviewTitle,
		r.ReviewBody,
	}
}

// CompanyReviewSet is the joined output of one company crawl.
type CompanyReviewSet struct {
	Company Company
	Rows    []ReviewRow
}

// JoinReviews flattens reviews against company metadata, one row per review, preserving order.
func JoinReviews(company Company, reviews []Review) CompanyReviewSet {
	categories := strings.Join(company.Categories, ",")
	rows := make([]ReviewRow, 0, len(reviews))
	for _, rv := range reviews {
		rows = append(rows, ReviewRow{
			CompanyURL:         company.Identifier,
			CompanyName:        company.DisplayName,
			CompanyReviewCount: company.ReviewCount,
			CompanyRating:      company.RatingScore,
			CompanyCategories:  categories,
			ReviewRating:       rv.RatingScore,
			ReviewTitle:        rv.Title,
			ReviewBody:         rv.Body,
		})
	}
	return CompanyReviewSet{Company: company, Rows: rows}
}

// ReviewFailure records one review card that could not be extracted.
type ReviewFailure struct {
	Page   int
	Index  int // Position of the card on its page, 0-based
	Reason string
}

// CrawlResult is the terminal outcome of crawling one company.
type CrawlResult struct {
	Identifier     string
	Status         CrawlStatus
	Reason         FailureReason // Empty unless Status is failure
	Set            CompanyReviewSet
	ReviewFailures []ReviewFailure
	Partial        bool // Set carries rows gathered before a failure
	PagesCrawled   int
	Err            error
	Duration       time.Duration
}

// RowCount reports the number of rows carried by the result, partial or not.
func (r CrawlResult) RowCount() int {
	return len(r.Set.Rows)
}

// WorkItem is a company identifier waiting in the crawl queue.
type WorkItem struct {
	Identifier string
	Seq        int // Input order; lower is popped first
}

// CompanyDBEntry stores the last crawl outcome of a company in the resume store
type CompanyDBEntry struct {
	Status      CrawlStatus `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	RowCount    int         `json:"row_count"`
	ErrorType   string      `json:"error_type,omitempty"`   // Error category (on failure)
	ProcessedAt time.Time   `json:"processed_at,omitempty"` // Timestamp of successful processing
	LastAttempt time.Time   `json:"last_attempt"`
}

// PageCheckpoint holds the reviews captured from one page so a resumed crawl can skip refetching it.
type PageCheckpoint struct {
	Page       int             `json:"page"`
	Reviews    []Review        `json:"reviews"`
	Failures   []ReviewFailure `json:"failures,omitempty"`
	Nodes      int             `json:"nodes"` // Review cards seen, parseable or not
	CapturedAt time.Time       `json:"captured_at"`
}

// RunMetadata is written at the end of a batch run.
type RunMetadata struct {
	RunID      string            `yaml:"run_id"`
	StartTime  time.Time         `yaml:"start_time"`
	EndTime    time.Time         `yaml:"end_time"`
	Policy     string            `yaml:"pagination_policy"`
	Layout     string            `yaml:"layout"`
	Totals     RunTotals         `yaml:"totals"`
	Companies  []CompanyMetadata `yaml:"companies"`
	Parameters map[string]any    `yaml:"parameters,omitempty"`
}

// RunTotals summarizes a batch run.
type RunTotals struct {
	Success          int            `yaml:"success"`
	SkippedInactive  int            `yaml:"skipped_inactive"`
	Failure          int            `yaml:"failure"`
	FailuresByReason map[string]int `yaml:"failures_by_reason,omitempty"`
	Rows             int            `yaml:"rows"`
	PartialRows      int            `yaml:"partial_rows"`
	ReviewFailures   int            `yaml:"review_failures"`
}

// CompanyMetadata holds the outcome of one company within a run.
type CompanyMetadata struct {
	Identifier     string  `yaml:"identifier"`
	Status         string  `yaml:"status"`
	Reason         string  `yaml:"reason,omitempty"`
	Rows           int     `yaml:"rows"`
	Pages          int     `yaml:"pages"`
	ReviewFailures int     `yaml:"review_failures,omitempty"`
	OutputFile     string  `yaml:"output_file,omitempty"` // Relative to output_base_dir
	ContentHash    string  `yaml:"content_hash,omitempty"`
	DurationSec    float64 `yaml:"duration_sec"`
}
