package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sriram-PR/review-scraper/pkg/models"
	"github.com/Sriram-PR/review-scraper/pkg/parse"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

var (
	ErrInactivePage         = fmt.Errorf("%w page", utils.ErrInactiveCompany) // Expected: dead listing without a company header
	ErrUnparseableSubheader = fmt.Errorf("%w: subheader", utils.ErrUnparseableHeader)
	ErrMissingTitle         = errors.New("review title missing")
	ErrInvalidRating        = errors.New("invalid review rating")
	ErrRatingMismatch       = errors.New("review rating encodings disagree")
)

// ReviewError records a review card that could not be extracted.
type ReviewError struct {
	Index int // Card position on the page, 0-based
	Err   error
}

func (e ReviewError) Error() string {
	return fmt.Sprintf("review %d: %v", e.Index, e.Err)
}

func (e ReviewError) Unwrap() error { return e.Err }

// Extractor turns parsed pages into company and review records using a fixed layout,
// or detects the layout per document when configured with "auto".
type Extractor struct {
	layout *Layout // nil means detect per document
}

// NewExtractor returns an Extractor for the named layout.
func NewExtractor(layoutName string) (*Extractor, error) {
	switch layoutName {
	case LayoutAuto, "":
		return &Extractor{}, nil
	case LayoutCurrent:
		l := Current
		return &Extractor{layout: &l}, nil
	case LayoutLegacy:
		l := Legacy
		return &Extractor{layout: &l}, nil
	}
	return nil, fmt.Errorf("unknown layout %q", layoutName)
}

// LayoutFor returns the layout used to read doc.
func (e *Extractor) LayoutFor(doc *parse.Document) Layout {
	if e.layout != nil {
		return *e.layout
	}
	return Detect(doc)
}

// ExtractCompany reads company metadata from a landing page. It returns
// ErrInactivePage when the header region or name is missing and
// ErrUnparseableSubheader when the review count cannot be read.
func (e *Extractor) ExtractCompany(doc *parse.Document, identifier string) (models.Company, error) {
	layout := e.LayoutFor(doc)

	header, ok := doc.FindFirst(layout.Header)
	if !ok {
		return models.Company{}, fmt.Errorf("%w: %s has no header region", ErrInactivePage, identifier)
	}
	nameNode, ok := header.FindFirst(layout.CompanyName)
	if !ok {
		return models.Company{}, fmt.Errorf("%w: %s has no company name", ErrInactivePage, identifier)
	}

	subheader, ok := header.FindFirst(layout.Subheader)
	if !ok {
		return models.Company{}, fmt.Errorf("%w: %s has no subheader", ErrUnparseableSubheader, identifier)
	}
	count, rating, err := ParseSubheader(parse.TextOf(subheader))
	if err != nil {
		return models.Company{}, fmt.Errorf("%s: %w", identifier, err)
	}

	return models.Company{
		Identifier:  identifier,
		DisplayName: strings.TrimSpace(parse.TextOf(nameNode)),
		Categories:  extractCategories(doc, layout),
		ReviewCount: count,
		RatingScore: rating,
	}, nil
}

func extractCategories(doc *parse.Document, layout Layout) []string {
	categories := []string{}
	holder, ok := doc.FindFirst(layout.Categories)
	if !ok {
		return categories
	}
	for _, link := range holder.FindAll(parse.Selector{Tag: "a"}) {
		if text := strings.TrimSpace(parse.TextOf(link)); text != "" {
			categories = append(categories, text)
		}
	}
	return categories
}

// ExtractReviews reads every review card on a page. Cards that fail are reported
// in the second return value and do not stop the remaining cards.
func (e *Extractor) ExtractReviews(doc *parse.Document, identifier string) ([]models.Review, []ReviewError) {
	layout := e.LayoutFor(doc)
	cards := doc.FindAll(layout.ReviewCard)

	reviews := make([]models.Review, 0, len(cards))
	var failures []ReviewError
	for i, card := range cards {
		review, err := extractReview(card, layout, identifier)
		if err != nil {
			failures = append(failures, ReviewError{Index: i, Err: err})
			continue
		}
		reviews = append(reviews, review)
	}
	return reviews, failures
}

func extractReview(card *parse.Node, layout Layout, identifier string) (models.Review, error) {
	titleNode, ok := card.FindFirst(layout.ReviewTitle)
	if !ok {
		return models.Review{}, ErrMissingTitle
	}

	body := ""
	if bodyNode, ok := card.FindFirst(layout.ReviewBody); ok {
		body = parse.TextOf(bodyNode)
	}

	box, ok := card.FindFirst(layout.RatingBox)
	if !ok {
		return models.Review{}, fmt.Errorf("%w: no rating element", ErrInvalidRating)
	}
	img, ok := box.FindTag("img")
	if !ok {
		return models.Review{}, fmt.Errorf("%w: no rating image", ErrInvalidRating)
	}
	src, _ := img.Attr("src")
	alt, _ := img.Attr("alt")
	rating, err := ParseRating(src, alt, layout.PreferRating)
	if err != nil {
		return models.Review{}, err
	}

	return models.Review{
		CompanyIdentifier: identifier,
		Title:             parse.TextOf(titleNode),
		Body:              body,
		RatingScore:       rating,
	}, nil
}

// CountReviewNodes returns the number of review cards on a page, parseable or not.
func (e *Extractor) CountReviewNodes(doc *parse.Document) int {
	return len(doc.FindAll(e.LayoutFor(doc).ReviewCard))
}
