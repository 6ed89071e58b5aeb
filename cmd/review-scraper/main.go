package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/review-scraper/pkg/batch"
	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/crawler"
	"github.com/Sriram-PR/review-scraper/pkg/extract"
	"github.com/Sriram-PR/review-scraper/pkg/fetch"
	"github.com/Sriram-PR/review-scraper/pkg/metrics"
	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/output"
	"github.com/Sriram-PR/review-scraper/pkg/storage"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "validate":
		runValidate(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "version":
		fmt.Printf("review-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `review-scraper - Company review site crawler

Usage:
  review-scraper <command> [options]

Commands:
  crawl       Crawl the companies listed in an input file
  resume      Re-crawl every company a previous run did not finish
  validate    Validate configuration file
  report      Write missing and inactive company lists from the state store
  version     Show version info

Run 'review-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// validateConfig applies defaults to cfg and its target. Warnings are returned
// prefixed with their scope.
func validateConfig(cfg *config.AppConfig) ([]string, error) {
	appWarnings, err := cfg.Validate()
	if err != nil {
		return appWarnings, err
	}
	targetWarnings, err := cfg.Target.Validate()
	if err != nil {
		return appWarnings, err
	}
	for _, w := range targetWarnings {
		appWarnings = append(appWarnings, "[target] "+w)
	}
	return appWarnings, nil
}

// runCrawl handles both crawl and resume subcommands
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	var inputFile *string
	var resumeFlag *bool
	if !isResume {
		inputFile = fs.String("input", "", "File with one company identifier or URL per line (required)")
		resumeFlag = fs.Bool("resume", false, "Keep state from a previous run and skip companies it finished")
	}

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: review-scraper %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		if isResume {
			fmt.Fprintf(os.Stderr, "  review-scraper resume -config config.yaml\n")
		} else {
			fmt.Fprintf(os.Stderr, "  review-scraper crawl -config config.yaml -input companies.txt\n")
			fmt.Fprintf(os.Stderr, "  review-scraper crawl -input companies.txt -resume\n")
		}
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	opts := crawlOptions{
		configFile: *configFile,
		logLevel:   *logLevel,
		pprofAddr:  *pprofAddr,
		fromStore:  isResume,
		resume:     isResume,
	}
	if !isResume {
		if *inputFile == "" {
			fmt.Fprintln(os.Stderr, "Error: -input is required")
			fs.Usage()
			os.Exit(1)
		}
		opts.inputFile = *inputFile
		opts.resume = *resumeFlag
	}

	os.Exit(executeCrawl(opts))
}

type crawlOptions struct {
	configFile string
	inputFile  string
	logLevel   string
	pprofAddr  string
	resume     bool // keep existing state
	fromStore  bool // take work items from the store instead of an input file
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: review-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := validateConfig(appCfg)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	t := appCfg.Target
	fmt.Fprintf(stdout, "OK: target %s (pagination: %s, layout: %s, %d per page)\n",
		t.BaseURL, t.PaginationPolicy, t.Layout, t.ReviewsPerPage)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runReport handles the report subcommand
func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	outDir := fs.String("out", "", "Directory for the lists (defaults to output_base_dir)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: review-scraper report [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doReport(*configFile, *outDir, os.Stdout, os.Stderr))
}

// doReport writes the missing and inactive company lists of the stored state.
func doReport(configPath, outDir string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := validateConfig(appCfg); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if outDir == "" {
		outDir = appCfg.OutputBaseDir
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)

	store, err := storage.NewBadgerStore(appCfg.StateDir, siteHost(appCfg.Target), true, log.WithField("component", "report"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	missing, inactive, err := store.WriteStatusLists(context.Background(), outDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%d missing -> %s\n", missing, filepath.Join(outDir, storage.MissingListFilename))
	fmt.Fprintf(stdout, "%d inactive -> %s\n", inactive, filepath.Join(outDir, storage.InactiveListFilename))
	return 0
}

// siteHost returns the host part of the validated base URL.
func siteHost(t config.TargetConfig) string {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return t.BaseURL
	}
	return u.Host
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Infof("Setting log level to: %s", level.String())
	}

	return log
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// executeCrawl wires every component for one batch run and returns the exit code.
func executeCrawl(opts crawlOptions) int {
	runtime.SetBlockProfileRate(1000)
	runtime.SetMutexProfileFraction(1000)

	log := setupLogger(opts.logLevel)

	log.Infof("Loading configuration from %s", opts.configFile)
	appCfg, err := loadConfig(opts.configFile)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	warnings, err := validateConfig(appCfg)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	// Input is read before the store is opened so a bad path does not wipe state.
	var identifiers []string
	if !opts.fromStore {
		exclude, err := utils.CompileRegexPatterns(appCfg.Target.ExcludePatterns)
		if err != nil {
			log.Errorf("Exclude patterns: %v", err)
			return 1
		}
		identifiers, err = batch.LoadIdentifierFile(opts.inputFile, exclude, log.WithField("component", "input"))
		if err != nil {
			log.Errorf("Failed to read input: %v", err)
			return 1
		}
		log.Infof("Loaded %d company identifiers from %s", len(identifiers), opts.inputFile)
	}

	startPprof(opts.pprofAddr, log)

	// ===========================================================
	// == Setup Context & Signal Handling ==
	// ===========================================================
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
		case <-finished:
			return
		}
		stop()
		log.Warn("Shutdown requested, finishing in-flight companies. Send the signal again to force exit.")
	}()

	runID := uuid.NewString()
	logEntry := log.WithFields(logrus.Fields{"component": "crawl"})

	if appCfg.MetricsAddr != "" {
		metrics.Serve(ctx, appCfg.MetricsAddr, metrics.InitRegistry(), logEntry)
	}

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	store, err := storage.NewBadgerStore(appCfg.StateDir, siteHost(appCfg.Target), opts.resume, logEntry)
	if err != nil {
		log.Errorf("Failed to initialize state store: %v", err)
		return 1
	}
	defer store.Close()

	items := batch.WorkItems(identifiers)
	if opts.fromStore {
		items, err = batch.IncompleteItems(ctx, store, logEntry)
		if err != nil {
			log.Errorf("Failed to read incomplete companies: %v", err)
			return 1
		}
	}
	if len(items) == 0 {
		log.Info("Nothing to crawl.")
		return 0
	}

	gate := fetch.NewGate(appCfg, logEntry)
	pageFetcher, err := fetch.NewPageFetcher(appCfg, gate, logEntry)
	if err != nil {
		log.Errorf("Failed to initialize fetcher: %v", err)
		return 1
	}
	extractor, err := extract.NewExtractor(appCfg.Target.Layout)
	if err != nil {
		log.Errorf("Failed to initialize extractor: %v", err)
		return 1
	}
	var checkpoints storage.PageCheckpointer
	if appCfg.CheckpointPages {
		checkpoints = store
	}
	companyCrawler := crawler.NewCompanyCrawler(pageFetcher, extractor, appCfg.Target, checkpoints, logEntry)

	out := output.NewOutputManager(logEntry, appCfg, runID)
	runner := batch.NewRunner(appCfg, runID, companyCrawler, store, out, logEntry,
		batch.Options{Resume: opts.resume, Hosts: gate.Hosts()})

	// ===========================================================
	// == Run ==
	// ===========================================================
	totals, err := runner.Run(ctx, items)
	return exitCode(ctx, totals, err, log)
}

// exitCode maps the outcome of a run to a process exit code: 0 when every
// company finished or the run was interrupted on request, 1 otherwise.
func exitCode(ctx context.Context, totals models.RunTotals, runErr error, log *logrus.Logger) int {
	if runErr != nil {
		log.Errorf("Run finished with error: %v", runErr)
		return 1
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Warn("Run cancelled gracefully. Use 'resume' to continue.")
		return 0
	}
	if totals.Failure > 0 {
		log.Warnf("Run completed with %d failed companies.", totals.Failure)
		return 1
	}
	log.Info("Run completed successfully.")
	return 0
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Workers:%d, MaxReqs:%d, MaxReqPerHost:%d, RPS:%.2f, Backend:%s",
		appCfg.NumWorkers, appCfg.MaxRequests, appCfg.MaxRequestsPerHost, appCfg.RequestsPerSecond, appCfg.FetcherBackend)
	log.Infof("Config: DefaultDelay:%v, StateDir:%s, OutputDir:%s",
		appCfg.DefaultDelayPerHost, appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Config Timeouts: SemaphoreAcquire:%v, GlobalCrawl:%v, PerPage:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout, appCfg.PerPageTimeout)
	t := appCfg.Target
	log.Infof("Target: %s, Pagination:%s, PerPage:%d, Layout:%s, Fanout:%d, MaxPages:%d, Robots:%t",
		t.BaseURL, t.PaginationPolicy, t.ReviewsPerPage, t.Layout, t.PageFanout, t.MaxPages, config.GetEffectiveRespectRobots(t))
	log.Infof("Output: WritePartial:%t, CheckpointPages:%t, FailureLog:%s, Metadata:%s",
		appCfg.WritePartial, appCfg.CheckpointPages,
		config.GetEffectiveFailureLogFilename(*appCfg), config.GetEffectiveMetadataYAMLFilename(*appCfg))
	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Run will stop after %v", appCfg.GlobalCrawlTimeout.Round(time.Second))
	}
}
