package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrFetchTimeout     = errors.New("fetch attempt timed out")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrParsing          = errors.New("parsing error") // Identifier, URL or stored JSON
	ErrFilesystem       = errors.New("filesystem error")
	ErrDatabase         = errors.New("database error") // Wraps badger errors
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")

	ErrInactiveCompany   = errors.New("inactive company") // Expected skip, not a fault
	ErrUnparseableHeader = errors.New("unparseable company header")
	ErrNoReviews         = errors.New("no reviews extracted")
)

// WrapErrorf wraps sentinel with a formatted message, keeping it matchable with errors.Is.
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// IsTimeout reports whether err is a timeout-class failure (per-attempt deadline or net timeout).
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFetchTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded")
}

// sentinelCategories is checked in order; the first sentinel err wraps wins.
var sentinelCategories = []struct {
	sentinel error
	category func(err error) string
}{
	{ErrRetryFailed, retryCategory},
	{ErrClientHTTPError, clientStatusCategory},
	{ErrServerHTTPError, fixed("HTTP_5xx")},
	{ErrOtherHTTPError, fixed("HTTP_OtherStatus")},
	{ErrFetchTimeout, fixed("Network_Timeout")},
	{ErrRobotsDisallowed, fixed("Policy_Robots")},
	{ErrParsing, fixed("Content_Parsing")},
	{ErrInactiveCompany, fixed("Content_Inactive")},
	{ErrUnparseableHeader, fixed("Content_UnparseableHeader")},
	{ErrNoReviews, fixed("Content_NoReviews")},
	{ErrFilesystem, filesystemCategory},
	{ErrDatabase, fixed("Database_Other")},
	{ErrSemaphoreTimeout, fixed("Resource_SemaphoreTimeout")},
	{ErrRequestCreation, fixed("Internal_RequestCreation")},
	{ErrResponseBodyRead, fixed("Network_BodyRead")},
	{ErrConfigValidation, fixed("Config_Validation")},
}

func fixed(category string) func(error) string {
	return func(error) string { return category }
}

// CategorizeError maps an error to a short category for the failure log, the
// resume store and logs. nil maps to "None".
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}
	for _, c := range sentinelCategories {
		if errors.Is(err, c.sentinel) {
			return c.category(err)
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "System_ContextCanceled"
	case errors.Is(err, context.DeadlineExceeded):
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	return networkCategory(err, "Network_", "Unknown")
}

// retryCategory names the failure that exhausted the retries. The last attempt's
// error is joined with ErrRetryFailed, so the whole chain is inspected.
func retryCategory(err error) string {
	switch {
	case err.Error() == ErrRetryFailed.Error():
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrServerHTTPError):
		return "RetryFailed_HTTPServer"
	case errors.Is(err, ErrClientHTTPError):
		return "RetryFailed_HTTPClient"
	case IsTimeout(err):
		return "RetryFailed_NetworkTimeout"
	}
	return networkCategory(err, "RetryFailed_", "RetryFailed_NetworkOther")
}

// clientStatusCategory singles out the 4xx codes a review site answers with
// for missing pages, bot blocking and throttling.
func clientStatusCategory(err error) string {
	msg := err.Error()
	for _, code := range []string{"404", "403", "429"} {
		if strings.Contains(msg, " "+code+" ") {
			return "HTTP_" + code
		}
	}
	return "HTTP_4xx"
}

func filesystemCategory(err error) string {
	switch {
	case errors.Is(err, os.ErrPermission):
		return "Filesystem_Permission"
	case errors.Is(err, os.ErrNotExist):
		return "Filesystem_NotExist"
	}
	return "Filesystem_Other"
}

// networkCategory matches well-known transport failure messages.
func networkCategory(err error, prefix, fallback string) string {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused"):
		return prefix + "ConnectionRefused"
	case strings.Contains(lower, "no such host"):
		return prefix + "DNSLookup"
	case strings.Contains(lower, "reset by peer"):
		return prefix + "ConnectionReset"
	case strings.Contains(lower, "tls") || strings.Contains(lower, "certificate"):
		return prefix + "TLS"
	case prefix == "Network_" && strings.Contains(lower, "timeout"):
		return "Network_TimeoutGeneric"
	}
	return fallback
}
