package parse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// NormalizeIdentifier turns an absolute company URL or a raw site path into the
// canonical identifier: leading "/", no query, no fragment, no trailing slash.
// Host and scheme of absolute URLs are dropped; path case is preserved.
func NormalizeIdentifier(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty identifier", utils.ErrParsing)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: identifier %q: %w", utils.ErrParsing, raw, err)
	}
	if u.Scheme != "" && u.Host == "" {
		return "", fmt.Errorf("%w: identifier %q has a scheme but no host", utils.ErrParsing, raw)
	}

	path := u.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	if path == "/" {
		return "", fmt.Errorf("%w: identifier %q has no path", utils.ErrParsing, raw)
	}
	return path, nil
}
