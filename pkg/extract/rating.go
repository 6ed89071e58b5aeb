package extract

import (
	"fmt"
	"path"
	"strings"
)

// ParseRating reads a 1..5 star rating from a rating image. src and alt are the
// image attributes ("" when absent). The preferred encoding is tried first and the
// other accepted as fallback; when both parse they must agree.
func ParseRating(src, alt string, prefer RatingEncoding) (int, error) {
	fromSrc, srcErr := ratingFromSrc(src)
	fromAlt, altErr := ratingFromAlt(alt)

	switch {
	case srcErr == nil && altErr == nil:
		if fromSrc != fromAlt {
			return 0, fmt.Errorf("%w: src %q says %d, alt %q says %d", ErrRatingMismatch, src, fromSrc, alt, fromAlt)
		}
		return fromSrc, nil
	case prefer == RatingFromAlt && altErr == nil:
		return fromAlt, nil
	case srcErr == nil:
		return fromSrc, nil
	case altErr == nil:
		return fromAlt, nil
	}

	if prefer == RatingFromAlt {
		return 0, altErr
	}
	return 0, srcErr
}

// ratingFromSrc takes the last character of the image filename without extension:
// ".../stars-4.svg" yields 4.
func ratingFromSrc(src string) (int, error) {
	if src == "" {
		return 0, fmt.Errorf("%w: no image src", ErrInvalidRating)
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	name := path.Base(src)
	stem := strings.TrimSuffix(name, path.Ext(name))
	if stem == "" {
		return 0, fmt.Errorf("%w: empty filename in src %q", ErrInvalidRating, src)
	}
	return starDigit(stem[len(stem)-1], src)
}

// ratingFromAlt takes the first character of the alt text: "4 out of 5 stars" yields 4.
func ratingFromAlt(alt string) (int, error) {
	alt = strings.TrimSpace(alt)
	if alt == "" {
		return 0, fmt.Errorf("%w: no image alt text", ErrInvalidRating)
	}
	return starDigit(alt[0], alt)
}

func starDigit(c byte, from string) (int, error) {
	if c < '1' || c > '5' {
		return 0, fmt.Errorf("%w: %q does not encode a 1-5 rating", ErrInvalidRating, from)
	}
	return int(c - '0'), nil
}
