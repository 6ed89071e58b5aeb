package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// WriteReviewSet writes the rows of set, preceded by a header row, to path.
// Rows go to a temporary file in the same directory that replaces path only
// once fully written, so readers never observe a truncated CSV.
func WriteReviewSet(path string, set models.CompanyReviewSet) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating directory '%s': %w", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err = w.Write(models.Columns); err != nil {
		return fmt.Errorf("%w: writing header to '%s': %w", utils.ErrFilesystem, tmp.Name(), err)
	}
	for _, row := range set.Rows {
		if err = w.Write(row.Record()); err != nil {
			return fmt.Errorf("%w: writing row to '%s': %w", utils.ErrFilesystem, tmp.Name(), err)
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return fmt.Errorf("%w: flushing '%s': %w", utils.ErrFilesystem, tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing '%s': %w", utils.ErrFilesystem, tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: renaming '%s' to '%s': %w", utils.ErrFilesystem, tmp.Name(), path, err)
	}
	return nil
}
