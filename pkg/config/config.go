package config

import "time"

// Fetcher backends
const (
	BackendHTTP  = "http"
	BackendColly = "colly"
)

// TargetConfig holds configuration specific to the review site being crawled
type TargetConfig struct {
	BaseURL          string        `yaml:"base_url"`                    // Scheme and host, e.g. https://www.trustpilot.com
	UserAgent        string        `yaml:"user_agent,omitempty"`        // Overrides default_user_agent
	ReviewsPerPage   int           `yaml:"reviews_per_page,omitempty"`  // Site page size used by the count policy
	PaginationPolicy string        `yaml:"pagination_policy,omitempty"` // "count" or "redirect"
	Layout           string        `yaml:"layout,omitempty"`            // "auto", "current" or "legacy"
	PageFanout       int           `yaml:"page_fanout,omitempty"`       // Concurrent page fetches per company (count policy only)
	MaxPages         int           `yaml:"max_pages,omitempty"`         // 0 = unlimited
	DelayPerHost     time.Duration `yaml:"delay_per_host,omitempty"`
	RespectRobots    *bool         `yaml:"respect_robots,omitempty"`
	ExcludePatterns  []string      `yaml:"exclude_patterns,omitempty"` // Regex patterns for identifiers to skip
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string           `yaml:"default_user_agent"`
	DefaultDelayPerHost     time.Duration    `yaml:"default_delay_per_host"`
	NumWorkers              int              `yaml:"num_workers"`
	MaxRequests             int              `yaml:"max_requests"`
	MaxRequestsPerHost      int              `yaml:"max_requests_per_host"`
	RequestsPerSecond       float64          `yaml:"requests_per_second,omitempty"` // 0 = no global token bucket
	OutputBaseDir           string           `yaml:"output_base_dir"`
	StateDir                string           `yaml:"state_dir"`
	MaxRetries              int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration    `yaml:"max_retry_delay,omitempty"`
	SemaphoreAcquireTimeout time.Duration    `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration    `yaml:"global_crawl_timeout,omitempty"`
	PerPageTimeout          time.Duration    `yaml:"per_page_timeout,omitempty"` // Timeout for a single fetch attempt (0 = client timeout only)
	FetcherBackend          string           `yaml:"fetcher_backend,omitempty"`  // "http" or "colly"
	WritePartial            bool             `yaml:"write_partial,omitempty"`
	CheckpointPages         bool             `yaml:"checkpoint_pages,omitempty"`
	MetricsAddr             string           `yaml:"metrics_addr,omitempty"`
	FailureLogFilename      string           `yaml:"failure_log_filename,omitempty"`
	MetadataYAMLFilename    string           `yaml:"metadata_yaml_filename,omitempty"`
	HTTPClientSettings      HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Target                  TargetConfig     `yaml:"target"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveUserAgent returns the target's user agent, falling back to the global default
func GetEffectiveUserAgent(t TargetConfig, appCfg AppConfig) string {
	if t.UserAgent != "" {
		return t.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost returns the target's per-host delay, falling back to the global default
func GetEffectiveDelayPerHost(t TargetConfig, appCfg AppConfig) time.Duration {
	if t.DelayPerHost > 0 {
		return t.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveRespectRobots determines whether robots.txt gates fetches. Defaults to true.
func GetEffectiveRespectRobots(t TargetConfig) bool {
	if t.RespectRobots != nil {
		return *t.RespectRobots
	}
	return true
}

// GetEffectiveFailureLogFilename determines the filename of the per-run failure log.
func GetEffectiveFailureLogFilename(appCfg AppConfig) string {
	if appCfg.FailureLogFilename != "" {
		return appCfg.FailureLogFilename
	}
	return "failures.tsv"
}

// GetEffectiveMetadataYAMLFilename determines the filename for the YAML run metadata.
func GetEffectiveMetadataYAMLFilename(appCfg AppConfig) string {
	if appCfg.MetadataYAMLFilename != "" {
		return appCfg.MetadataYAMLFilename
	}
	return "run_metadata.yaml"
}
