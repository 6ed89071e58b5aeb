package paginate

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Sriram-PR/review-scraper/pkg/models"
)

// Policy selects how the controller decides whether another page exists.
type Policy string

const (
	// PolicyCount trusts the company's review count: pages 1..ExpectedPages are
	// visited up front, stopping early on a page with no review cards.
	PolicyCount Policy = "count"
	// PolicyRedirect fetches one page at a time and stops when the site redirects
	// away from it or serves it without review cards.
	PolicyRedirect Policy = "redirect"
)

// IsValid reports whether p is a known policy.
func (p Policy) IsValid() bool {
	return p == PolicyCount || p == PolicyRedirect
}

const pageParam = "page"

// Cursor identifies one fetchable page of a company's reviews.
type Cursor struct {
	Identifier string
	Page       int // Starts at 1
}

// Path is the site-relative path of the page. Page 1 is the bare identifier.
func (c Cursor) Path() string {
	if c.Page <= 1 {
		return c.Identifier
	}
	return c.Identifier + "?" + pageParam + "=" + strconv.Itoa(c.Page)
}

// ExpectedPages is the number of pages a company with reviewCount reviews spans
// when the site shows perPage reviews per page.
func ExpectedPages(reviewCount, perPage int) int {
	if perPage <= 0 {
		return 1
	}
	return reviewCount/perPage + 1
}

// FetchResult is what the controller needs to know about a fetched page.
type FetchResult struct {
	Cursor      Cursor
	ResolvedURL string // Final URL after redirects
	ReviewNodes int    // Review cards found on the page
}

// Controller walks the pages of one company. It is not safe for concurrent use;
// fan-out callers take the page set from Plan up front.
type Controller struct {
	policy   Policy
	company  models.Company
	expected int // Count policy only
	maxPages int // 0 = unlimited
	current  Cursor
	done     bool
}

// NewController starts at page 1 of company. Unknown policies fall back to PolicyCount.
func NewController(policy Policy, company models.Company, perPage, maxPages int) *Controller {
	if !policy.IsValid() {
		policy = PolicyCount
	}
	c := &Controller{
		policy:   policy,
		company:  company,
		maxPages: maxPages,
		current:  Cursor{Identifier: company.Identifier, Page: 1},
	}
	if policy == PolicyCount {
		c.expected = ExpectedPages(company.ReviewCount, perPage)
	}
	return c
}

// Policy returns the controller's effective policy.
func (c *Controller) Policy() Policy { return c.policy }

// Current returns the last accepted cursor.
func (c *Controller) Current() Cursor { return c.current }

// Done reports whether pagination has ended.
func (c *Controller) Done() bool { return c.done }

// ExpectedPages returns the page count under the count policy (capped by max pages),
// or 0 under the redirect policy.
func (c *Controller) ExpectedPages() int {
	if c.policy != PolicyCount {
		return 0
	}
	return c.capped(c.expected)
}

func (c *Controller) capped(n int) int {
	if c.maxPages > 0 && n > c.maxPages {
		return c.maxPages
	}
	return n
}

// Next returns the candidate cursor after the current one, or false once
// pagination has ended or a limit would be exceeded.
func (c *Controller) Next() (Cursor, bool) {
	if c.done {
		return Cursor{}, false
	}
	next := Cursor{Identifier: c.current.Identifier, Page: c.current.Page + 1}
	if c.maxPages > 0 && next.Page > c.maxPages {
		return Cursor{}, false
	}
	if c.policy == PolicyCount && next.Page > c.expected {
		return Cursor{}, false
	}
	return next, true
}

// Advance records a fetched page and reports whether it was accepted. A rejected
// page ends pagination and contributes no reviews.
func (c *Controller) Advance(res FetchResult) bool {
	if c.done {
		return false
	}
	if !c.accepts(res) {
		c.done = true
		return false
	}
	c.current = res.Cursor
	return true
}

func (c *Controller) accepts(res FetchResult) bool {
	if c.maxPages > 0 && res.Cursor.Page > c.maxPages {
		return false
	}
	switch c.policy {
	case PolicyRedirect:
		if res.Cursor.Page <= 1 {
			return true
		}
		return ResolvesTo(res.ResolvedURL, res.Cursor.Path()) && res.ReviewNodes > 0
	default:
		return res.Cursor.Page <= c.expected && res.ReviewNodes > 0
	}
}

// Plan lists the remaining pages after the current one under the count policy,
// in order. It is empty under the redirect policy, whose pages cannot be known
// before they are fetched.
func (c *Controller) Plan() []Cursor {
	if c.policy != PolicyCount || c.done {
		return nil
	}
	last := c.capped(c.expected)
	plan := make([]Cursor, 0, max(last-c.current.Page, 0))
	for p := c.current.Page + 1; p <= last; p++ {
		plan = append(plan, Cursor{Identifier: c.current.Identifier, Page: p})
	}
	return plan
}

// ResolvesTo reports whether resolvedURL points at requestedPath: the request URI
// of the resolved URL (path plus query) must equal the requested path.
func ResolvesTo(resolvedURL, requestedPath string) bool {
	u, err := url.Parse(resolvedURL)
	if err != nil {
		return strings.HasSuffix(resolvedURL, requestedPath)
	}
	got := u.EscapedPath()
	if u.RawQuery != "" {
		got += "?" + u.RawQuery
	}
	want, err := url.Parse(requestedPath)
	if err != nil {
		return got == requestedPath
	}
	wantURI := want.EscapedPath()
	if want.RawQuery != "" {
		wantURI += "?" + want.RawQuery
	}
	return got == wantURI
}
