package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/log"
	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

const (
	companyKeyPrefix = "company:"  // company:<identifier> -> CompanyDBEntry
	pageKeyPrefix    = "page:"     // page:<identifier>#<page> -> PageCheckpoint
	resumeDBDir      = "resume_db" // Subdirectory name within stateDir for Badger DB files

	MissingListFilename  = "missing_companies.txt"
	InactiveListFilename = "inactive_companies.txt"
)

// BadgerStore implements ResumeStore using BadgerDB
type BadgerStore struct {
	db           *badger.DB
	log          *logrus.Entry
	companyCount atomic.Int64 // Cached count of company keys
}

// NewBadgerStore opens (or creates) the resume database for siteHost under stateDir.
// When resume is false any previous state for the site is removed first.
func NewBadgerStore(stateDir, siteHost string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(siteHost)+"_"+resumeDBDir)

	if !resume {
		logger.Warnf("Resume flag is false. REMOVING existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing resume database at: %s (Resume: %v)", dbPath, resume)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if resume {
		count, err := store.countPrefix(companyKeyPrefix)
		if err != nil {
			logger.Warnf("Failed to count existing companies on resume: %v", err)
		} else {
			store.companyCount.Store(int64(count))
			logger.Infof("Loaded %d known companies on resume", count)
		}
	}
	return store, nil
}

func companyKey(identifier string) []byte {
	return []byte(companyKeyPrefix + identifier)
}

// pageKeyPrefixFor is the scan prefix for every checkpoint of one company.
func pageKeyPrefixFor(identifier string) []byte {
	return []byte(pageKeyPrefix + identifier + "#")
}

// pageKey zero-pads the page number so checkpoints sort in page order.
func pageKey(identifier string, page int) []byte {
	return fmt.Appendf(pageKeyPrefixFor(identifier), "%06d", page)
}

func (s *BadgerStore) countPrefix(prefix string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkCompanyQueued implements CompanyStore
func (s *BadgerStore) MarkCompanyQueued(identifier string) (bool, error) {
	key := companyKey(identifier)
	pending, err := json.Marshal(&models.CompanyDBEntry{Status: models.CrawlStatusPending, LastAttempt: time.Now()})
	if err != nil {
		return false, fmt.Errorf("%w: marshal pending entry: %w", utils.ErrParsing, err)
	}

	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			added = true
			return txn.SetEntry(badger.NewEntry(key, pending))
		}
		return errGet
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkCompanyQueued: %v", err)
		return false, fmt.Errorf("%w: marking company key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.companyCount.Add(1)
	}
	return added, nil
}

// CheckCompanyStatus implements CompanyStore
func (s *BadgerStore) CheckCompanyStatus(identifier string) (models.CrawlStatus, *models.CompanyDBEntry, error) {
	status := models.CrawlStatusNotFound
	var entry *models.CompanyDBEntry
	key := companyKey(identifier)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting company key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.CompanyDBEntry
			if len(val) == 0 || json.Unmarshal(val, &decoded) != nil {
				s.log.Warnf("Undecodable CompanyDBEntry for key '%s'. Treating as 'pending'.", string(key))
				status = models.CrawlStatusPending
				return nil
			}
			entry = &decoded
			status = decoded.Status
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in CheckCompanyStatus for key '%s': %v", string(key), errView)
		return models.CrawlStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateCompanyStatus implements CompanyStore
func (s *BadgerStore) UpdateCompanyStatus(identifier string, entry *models.CompanyDBEntry) error {
	key := companyKey(identifier)
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal CompanyDBEntry for key '%s': %w", utils.ErrParsing, string(key), err)
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		if _, errGet := txn.Get(key); errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateCompanyStatus: %v", err)
		return fmt.Errorf("%w: failed setting company status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.companyCount.Add(1)
	}
	s.log.Debugf("Updated company status for key '%s' to '%s'", string(key), entry.Status)
	return nil
}

// LoadPage implements PageCheckpointer
func (s *BadgerStore) LoadPage(identifier string, page int) (*models.PageCheckpoint, bool, error) {
	var checkpoint *models.PageCheckpoint
	key := pageKey(identifier, page)

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			var decoded models.PageCheckpoint
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Ignoring undecodable checkpoint '%s': %v", string(key), errJSON)
				return nil
			}
			checkpoint = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: loading checkpoint '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return checkpoint, checkpoint != nil, nil
}

// SavePage implements PageCheckpointer
func (s *BadgerStore) SavePage(identifier string, checkpoint *models.PageCheckpoint) error {
	key := pageKey(identifier, checkpoint.Page)
	val, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("%w: marshal checkpoint '%s': %w", utils.ErrParsing, string(key), err)
	}
	if err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, val))
	}); err != nil {
		return fmt.Errorf("%w: saving checkpoint '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return nil
}

// DeletePages implements PageCheckpointer
func (s *BadgerStore) DeletePages(identifier string) error {
	prefix := pageKeyPrefixFor(identifier)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		if err != nil {
			return fmt.Errorf("%w: scanning checkpoints of '%s': %w", utils.ErrDatabase, identifier, err)
		}
		return nil
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		for _, k := range keys {
			if errDel := txn.Delete(k); errDel != nil {
				return errDel
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: deleting checkpoints of '%s': %w", utils.ErrDatabase, identifier, err)
	}
	s.log.Debugf("Deleted %d page checkpoints for %s", len(keys), identifier)
	return nil
}

// GetCompanyCount implements StoreAdmin. Returns the cached count maintained on writes.
func (s *BadgerStore) GetCompanyCount() (int, error) {
	return int(s.companyCount.Load()), nil
}

// scanCompanies calls fn for every company key in key order. Undecodable entries
// are passed with a nil entry.
func (s *BadgerStore) scanCompanies(ctx context.Context, fn func(identifier string, entry *models.CompanyDBEntry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(companyKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			identifier := strings.TrimPrefix(string(item.KeyCopy(nil)), companyKeyPrefix)

			var entry *models.CompanyDBEntry
			if err := item.Value(func(val []byte) error {
				var decoded models.CompanyDBEntry
				if json.Unmarshal(val, &decoded) == nil {
					entry = &decoded
				}
				return nil
			}); err != nil {
				return err
			}
			if err := fn(identifier, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// RequeueIncomplete implements StoreAdmin
func (s *BadgerStore) RequeueIncomplete(ctx context.Context, push func(models.WorkItem)) (int, int, error) {
	s.log.Info("Resume Mode: Scanning database for incomplete companies to requeue...")
	requeued, scanErrors := 0, 0
	start := time.Now()

	err := s.scanCompanies(ctx, func(identifier string, entry *models.CompanyDBEntry) error {
		if entry == nil {
			s.log.Errorf("Resume Scan: undecodable entry for '%s', requeueing", identifier)
			scanErrors++
		} else if entry.Status.IsTerminal() {
			return nil
		}
		push(models.WorkItem{Identifier: identifier, Seq: requeued})
		requeued++
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Errorf("Error during DB scan for resume: %v", err)
		err = fmt.Errorf("%w: resume scan: %w", utils.ErrDatabase, err)
	}
	s.log.Infof("Resume Scan Complete: Requeued %d companies in %v. Errors: %d.", requeued, time.Since(start), scanErrors)
	return requeued, scanErrors, err
}

// WriteStatusLists implements StoreAdmin. Companies that never reached a terminal
// status go to the missing list; inactive companies to the inactive list.
func (s *BadgerStore) WriteStatusLists(ctx context.Context, dir string) (int, int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, 0, fmt.Errorf("%w: create report dir '%s': %w", utils.ErrFilesystem, dir, err)
	}

	var missing, inactive []string
	err := s.scanCompanies(ctx, func(identifier string, entry *models.CompanyDBEntry) error {
		switch {
		case entry == nil || !entry.Status.IsTerminal():
			missing = append(missing, identifier)
		case entry.Status == models.CrawlStatusSkippedInactive:
			inactive = append(inactive, identifier)
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: status scan: %w", utils.ErrDatabase, err)
	}

	if err := writeLines(filepath.Join(dir, MissingListFilename), missing); err != nil {
		return 0, 0, err
	}
	if err := writeLines(filepath.Join(dir, InactiveListFilename), inactive); err != nil {
		return 0, 0, err
	}
	s.log.Infof("Wrote status lists to %s: %d missing, %d inactive", dir, len(missing), len(inactive))
	return len(missing), len(inactive), nil
}

func writeLines(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("%w: write '%s': %w", utils.ErrFilesystem, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush '%s': %w", utils.ErrFilesystem, path, err)
	}
	return file.Sync()
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	s.log.Info("Closing resume DB...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing resume DB: %v", err)
		return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
	}
	return nil
}
