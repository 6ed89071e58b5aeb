package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/review-scraper/pkg/models"
)

// CompanyStore tracks the last crawl outcome of each company
type CompanyStore interface {
	// MarkCompanyQueued records a company as pending unless it is already known.
	// Returns true if the company was newly added.
	MarkCompanyQueued(identifier string) (bool, error)

	// CheckCompanyStatus returns the stored status (CrawlStatusNotFound when absent,
	// CrawlStatusDBError on read failure) and the entry when one could be decoded
	CheckCompanyStatus(identifier string) (models.CrawlStatus, *models.CompanyDBEntry, error)

	// UpdateCompanyStatus overwrites the stored outcome for a company
	UpdateCompanyStatus(identifier string, entry *models.CompanyDBEntry) error
}

// PageCheckpointer persists the reviews of already captured pages so an
// interrupted company crawl can resume without refetching them
type PageCheckpointer interface {
	LoadPage(identifier string, page int) (*models.PageCheckpoint, bool, error)
	SavePage(identifier string, checkpoint *models.PageCheckpoint) error
	// DeletePages drops every checkpoint of a company once it has reached a terminal status
	DeletePages(identifier string) error
}

// StoreAdmin handles lifecycle and reporting operations
type StoreAdmin interface {
	// GetCompanyCount returns the number of companies known to the store
	GetCompanyCount() (int, error)

	// RequeueIncomplete hands every company whose status is not terminal to push,
	// in key order. Returns the number requeued and the number of undecodable entries.
	RequeueIncomplete(ctx context.Context, push func(models.WorkItem)) (requeued int, scanErrors int, err error)

	// WriteStatusLists writes missing_companies.txt and inactive_companies.txt into dir
	WriteStatusLists(ctx context.Context, dir string) (missing int, inactive int, err error)

	// RunGC runs periodic value log garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	Close() error
}

// ResumeStore combines all store interfaces for components that need full access
type ResumeStore interface {
	CompanyStore
	PageCheckpointer
	StoreAdmin
}
