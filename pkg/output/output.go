package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

const (
	ReviewsDirName = "reviews"
	PartialDirName = "partial"

	csvSuffix        = ".csv"
	partialCSVSuffix = ".partial.csv"
)

// FailureLogHeader is the first line of a fresh failure log.
var FailureLogHeader = []string{"identifier", "status", "reason", "rows", "category", "error"}

// tsvCleaner keeps one failure per line and one value per column.
var tsvCleaner = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// OutputManager owns the per-company CSV files, the failure log, and the run
// metadata of one batch run. All methods are safe for concurrent use.
type OutputManager struct {
	log          *logrus.Entry
	appCfg       *config.AppConfig
	runID        string
	baseDir      string
	writePartial bool

	// Failure log (TSV)
	failureFile     *os.File
	failureFileMu   sync.Mutex
	failureFilePath string

	// YAML metadata
	companies     []models.CompanyMetadata
	metadataMutex sync.Mutex
	startTime     time.Time
}

// NewOutputManager creates an OutputManager without opening files.
func NewOutputManager(log *logrus.Entry, appCfg *config.AppConfig, runID string) *OutputManager {
	return &OutputManager{
		log:             log,
		appCfg:          appCfg,
		runID:           runID,
		baseDir:         appCfg.OutputBaseDir,
		writePartial:    appCfg.WritePartial,
		failureFilePath: filepath.Join(appCfg.OutputBaseDir, config.GetEffectiveFailureLogFilename(*appCfg)),
		companies:       make([]models.CompanyMetadata, 0),
		startTime:       time.Now(),
	}
}

// CompanyCSVPath returns the path, relative to the output base directory, of
// the CSV holding a company's rows.
func CompanyCSVPath(identifier string, partial bool) string {
	stem := utils.CompanyFilename(identifier)
	if partial {
		return filepath.Join(PartialDirName, stem+partialCSVSuffix)
	}
	return filepath.Join(ReviewsDirName, stem+csvSuffix)
}

// OpenFiles creates the output directories and opens the failure log. In resume
// mode the log is appended to; otherwise it is truncated.
func (om *OutputManager) OpenFiles(resume bool) error {
	reviewsDir := filepath.Join(om.baseDir, ReviewsDirName)
	if err := os.MkdirAll(reviewsDir, 0755); err != nil {
		return fmt.Errorf("%w: creating output directory '%s': %w", utils.ErrFilesystem, reviewsDir, err)
	}

	openFlags := os.O_CREATE | os.O_WRONLY
	if resume {
		om.log.Infof("Resume mode: Appending to failure log: %s", om.failureFilePath)
		openFlags |= os.O_APPEND
	} else {
		om.log.Infof("Non-resume mode: Truncating failure log: %s", om.failureFilePath)
		openFlags |= os.O_TRUNC
	}
	file, err := os.OpenFile(om.failureFilePath, openFlags, 0644)
	if err != nil {
		return fmt.Errorf("%w: opening failure log '%s': %w", utils.ErrFilesystem, om.failureFilePath, err)
	}

	info, err := file.Stat()
	if err == nil && info.Size() == 0 {
		if _, err := file.WriteString(strings.Join(FailureLogHeader, "\t") + "\n"); err != nil {
			om.log.Errorf("Failed to write failure log header: %v", err)
		}
	}

	om.failureFileMu.Lock()
	om.failureFile = file
	om.failureFileMu.Unlock()
	return nil
}

// WriteResult writes the rows of res to its CSV file: every success, and
// failures carrying partial rows when write_partial is set. Returns the path
// written relative to the output base directory, or "" when nothing was due.
func (om *OutputManager) WriteResult(res models.CrawlResult) (string, error) {
	var rel string
	switch {
	case res.Status == models.CrawlStatusSuccess:
		rel = CompanyCSVPath(res.Identifier, false)
	case res.Partial && om.writePartial:
		rel = CompanyCSVPath(res.Identifier, true)
	default:
		return "", nil
	}
	if err := WriteReviewSet(filepath.Join(om.baseDir, rel), res.Set); err != nil {
		return "", err
	}
	return rel, nil
}

// RecordOutcome logs a non-successful result to the failure log and collects
// the metadata of every result. outputFile is the path returned by WriteResult.
func (om *OutputManager) RecordOutcome(res models.CrawlResult, outputFile string, taskLog *logrus.Entry) {
	if res.Status != models.CrawlStatusSuccess {
		om.writeToFailureLog(res, taskLog)
	}

	meta := models.CompanyMetadata{
		Identifier:     res.Identifier,
		Status:         res.Status.String(),
		Reason:         string(res.Reason),
		Rows:           res.RowCount(),
		Pages:          res.PagesCrawled,
		ReviewFailures: len(res.ReviewFailures),
		OutputFile:     filepath.ToSlash(outputFile),
		DurationSec:    res.Duration.Seconds(),
	}
	if outputFile != "" {
		hash, err := utils.CalculateFileSHA256(filepath.Join(om.baseDir, outputFile))
		if err != nil {
			taskLog.Warnf("Could not hash output file '%s' for run metadata: %v", outputFile, err)
		} else {
			meta.ContentHash = hash
		}
	}

	om.metadataMutex.Lock()
	om.companies = append(om.companies, meta)
	om.metadataMutex.Unlock()
}

// writeToFailureLog writes one line to the failure log (if open).
func (om *OutputManager) writeToFailureLog(res models.CrawlResult, taskLog *logrus.Entry) {
	om.failureFileMu.Lock()
	defer om.failureFileMu.Unlock()

	if om.failureFile == nil {
		return
	}

	errText := ""
	if res.Err != nil {
		errText = tsvCleaner.Replace(res.Err.Error())
	}
	line := strings.Join([]string{
		res.Identifier,
		res.Status.String(),
		res.Reason.String(),
		strconv.Itoa(res.RowCount()),
		utils.CategorizeError(res.Err),
		errText,
	}, "\t") + "\n"
	if _, err := om.failureFile.WriteString(line); err != nil {
		taskLog.WithField("failure_log", om.failureFilePath).Errorf("Failed to write to failure log: %v", err)
	}
}

// CompaniesRecorded returns the number of results collected so far.
func (om *OutputManager) CompaniesRecorded() int {
	om.metadataMutex.Lock()
	defer om.metadataMutex.Unlock()
	return len(om.companies)
}

// Close syncs and closes the failure log and writes the YAML run metadata with totals.
func (om *OutputManager) Close(totals models.RunTotals) error {
	om.closeFailureLog()
	return om.writeMetadataYAML(totals)
}

func (om *OutputManager) closeFailureLog() {
	om.failureFileMu.Lock()
	defer om.failureFileMu.Unlock()

	if om.failureFile != nil {
		om.log.Infof("Syncing and closing failure log: %s", om.failureFilePath)
		if err := om.failureFile.Sync(); err != nil {
			om.log.Errorf("Error syncing failure log '%s': %v", om.failureFilePath, err)
		}
		if err := om.failureFile.Close(); err != nil {
			om.log.Errorf("Error closing failure log '%s': %v", om.failureFilePath, err)
		}
		om.failureFile = nil
	}
}

// writeMetadataYAML writes the collected company outcomes to the run metadata file.
func (om *OutputManager) writeMetadataYAML(totals models.RunTotals) error {
	yamlFilePath := filepath.Join(om.baseDir, config.GetEffectiveMetadataYAMLFilename(*om.appCfg))
	om.log.Infof("Preparing to write run metadata to: %s", yamlFilePath)

	var params map[string]any
	cfgBytes, err := yaml.Marshal(om.appCfg)
	if err != nil {
		om.log.Warnf("Could not marshal configuration for run metadata: %v", err)
	} else if err := yaml.Unmarshal(cfgBytes, &params); err != nil {
		om.log.Warnf("Could not unmarshal configuration into map for run metadata: %v", err)
		params = nil
	}

	om.metadataMutex.Lock()
	companies := make([]models.CompanyMetadata, len(om.companies))
	copy(companies, om.companies)
	om.metadataMutex.Unlock()
	sort.SliceStable(companies, func(i, j int) bool { return companies[i].Identifier < companies[j].Identifier })

	metadata := models.RunMetadata{
		RunID:      om.runID,
		StartTime:  om.startTime,
		EndTime:    time.Now(),
		Policy:     om.appCfg.Target.PaginationPolicy,
		Layout:     om.appCfg.Target.Layout,
		Totals:     totals,
		Companies:  companies,
		Parameters: params,
	}

	yamlData, err := yaml.Marshal(&metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata to YAML: %w", err)
	}
	if err := os.WriteFile(yamlFilePath, yamlData, 0644); err != nil {
		return fmt.Errorf("%w: writing run metadata '%s': %w", utils.ErrFilesystem, yamlFilePath, err)
	}

	om.log.Infof("Wrote run metadata (%d companies) to %s", len(companies), yamlFilePath)
	return nil
}
