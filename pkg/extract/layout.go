package extract

import "github.com/Sriram-PR/review-scraper/pkg/parse"

// Layout names accepted in configuration.
const (
	LayoutAuto    = "auto"
	LayoutCurrent = "current"
	LayoutLegacy  = "legacy"
)

// RatingEncoding says where a review card carries its star rating.
type RatingEncoding int

const (
	RatingFromSrc RatingEncoding = iota // digit at the end of the image filename, e.g. stars-4.svg
	RatingFromAlt                       // first character of the image alt text, e.g. "4 out of 5 stars"
)

func (e RatingEncoding) String() string {
	if e == RatingFromAlt {
		return "alt"
	}
	return "src"
}

// Layout is the fixed set of selectors for one page template.
type Layout struct {
	Key          string
	Header       parse.Selector // Region holding the company name and subheader
	CompanyName  parse.Selector // Searched within Header
	Subheader    parse.Selector // Searched within Header
	Categories   parse.Selector // Container of category links, searched document-wide
	ReviewCard   parse.Selector
	ReviewTitle  parse.Selector // Searched within a card
	ReviewBody   parse.Selector // Searched within a card
	RatingBox    parse.Selector // Searched within a card; holds the star image
	PreferRating RatingEncoding
}

// Current is the live page template. Class names carry generated suffixes.
var Current = Layout{
	Key:          LayoutCurrent,
	Header:       parse.Selector{Class: "styles_businessInformation"},
	CompanyName:  parse.Selector{Tag: "span", Class: "title_displayName"},
	Subheader:    parse.Selector{Tag: "p", Class: "styles_reviewsAndRating"},
	Categories:   parse.Selector{Class: "styles_categoriesList"},
	ReviewCard:   parse.Selector{Tag: "article", Class: "styles_reviewCard"},
	ReviewTitle:  parse.Selector{Tag: "h2", Class: "typography_heading-s"},
	ReviewBody:   parse.Selector{Tag: "p", Class: "typography_body-l"},
	RatingBox:    parse.Selector{Class: "star-rating_starRating"},
	PreferRating: RatingFromAlt,
}

// Legacy is the older template with plain class names.
var Legacy = Layout{
	Key:          LayoutLegacy,
	Header:       parse.Selector{Class: "header-section"},
	CompanyName:  parse.Selector{Class: "multi-size-header__big"},
	Subheader:    parse.Selector{Class: "header--inline"},
	Categories:   parse.Selector{Class: "categories"},
	ReviewCard:   parse.Selector{Class: "review"},
	ReviewTitle:  parse.Selector{Class: "review-content__title"},
	ReviewBody:   parse.Selector{Class: "review-content__text"},
	RatingBox:    parse.Selector{Class: "star-rating"},
	PreferRating: RatingFromSrc,
}

// IsKnownLayout reports whether name is a valid layout setting.
func IsKnownLayout(name string) bool {
	switch name {
	case LayoutAuto, LayoutCurrent, LayoutLegacy:
		return true
	}
	return false
}

// Detect picks the layout a document was rendered with: current when its header
// region or a current review card is present, legacy otherwise.
func Detect(doc *parse.Document) Layout {
	if _, ok := doc.FindFirst(Current.Header); ok {
		return Current
	}
	if _, ok := doc.FindFirst(Current.ReviewCard); ok {
		return Current
	}
	return Legacy
}
