package fetch

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// backoffDelay returns the wait before retry attempt n (n >= 1): initial * 2^(n-1),
// capped by maxDelay, with +/- 10% jitter.
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}

	var jitter time.Duration
	if jitterRange := int64(delay) / 5; jitterRange > 0 { // +/-10% range is delay/5 wide centered at 0
		jitter = time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
	}
	if final := delay + jitter; final > 0 {
		return final
	}
	return 0
}

// retryAfter parses a Retry-After header given in seconds. HTTP-date values are ignored.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// isRetryableStatus reports whether a response status is worth retrying.
func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}
