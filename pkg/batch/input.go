package batch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/parse"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// LoadIdentifiers reads one company per line from r. Blank lines and lines
// starting with '#' are ignored, absolute URLs are normalized to identifiers,
// duplicates are dropped keeping the first occurrence, and identifiers matching
// any exclude pattern are skipped. Unparseable lines are logged and skipped.
func LoadIdentifiers(r io.Reader, exclude []*regexp.Regexp, log *logrus.Entry) ([]string, error) {
	seen := make(map[string]struct{})
	var identifiers []string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lineLog := log.WithField("line", lineNo)

		id, err := parse.NormalizeIdentifier(line)
		if err != nil {
			lineLog.Warnf("Skipping unparseable identifier: %v", err)
			continue
		}
		if _, dup := seen[id]; dup {
			lineLog.Debugf("Skipping duplicate identifier: %s", id)
			continue
		}
		seen[id] = struct{}{}
		if utils.MatchesAny(id, exclude) {
			lineLog.Infof("Skipping excluded identifier: %s", id)
			continue
		}
		identifiers = append(identifiers, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading identifiers: %w", utils.ErrFilesystem, err)
	}
	return identifiers, nil
}

// LoadIdentifierFile opens path and reads it with LoadIdentifiers.
func LoadIdentifierFile(path string, exclude []*regexp.Regexp, log *logrus.Entry) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening identifier file '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer file.Close()
	return LoadIdentifiers(file, exclude, log.WithField("input", path))
}

// WorkItems turns identifiers into queue items that pop in input order.
func WorkItems(identifiers []string) []models.WorkItem {
	items := make([]models.WorkItem, len(identifiers))
	for i, id := range identifiers {
		items[i] = models.WorkItem{Identifier: id, Seq: i}
	}
	return items
}
