package extract

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// subheaderSeparator divides the review count from the rating word.
const subheaderSeparator = "•"

var ratingWords = map[string]int{
	"Excellent": 5,
	"Great":     4,
	"Average":   3,
	"Poor":      2,
	"Bad":       1,
	"":          0,
}

// RatingFromWord maps a rating word to its score. Words outside the vocabulary
// yield nil, which is not an error.
func RatingFromWord(word string) *int {
	score, ok := ratingWords[word]
	if !ok {
		return nil
	}
	return &score
}

// ParseSubheader reads the review count and rating word from a subheader such as
// "1,234 reviews • Excellent". Thousands separators and all whitespace are removed
// before splitting on the separator, which must occur exactly once.
func ParseSubheader(text string) (count int, rating *int, err error) {
	compact := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	parts := strings.Split(compact, subheaderSeparator)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("%w: expected one %q separator in %q", ErrUnparseableSubheader, subheaderSeparator, text)
	}

	digits := firstDigitRun(parts[0])
	if digits == "" {
		return 0, nil, fmt.Errorf("%w: no review count in %q", ErrUnparseableSubheader, text)
	}
	count, err = strconv.Atoi(digits)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: review count %q: %w", ErrUnparseableSubheader, digits, err)
	}
	return count, RatingFromWord(parts[1]), nil
}

// firstDigitRun returns the first contiguous run of ASCII digits in s.
func firstDigitRun(s string) string {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return ""
	}
	end := strings.IndexFunc(s[start:], func(r rune) bool { return !isDigit(r) })
	if end < 0 {
		return s[start:]
	}
	return s[start : start+end]
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
