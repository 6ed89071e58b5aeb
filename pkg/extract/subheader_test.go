package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatingFromWord(t *testing.T) {
	tests := []struct {
		word string
		want *int
	}{
		{"Excellent", intPtr(5)},
		{"Great", intPtr(4)},
		{"Average", intPtr(3)},
		{"Poor", intPtr(2)},
		{"Bad", intPtr(1)},
		{"", intPtr(0)},
		{"Superb", nil},
		{"great", nil},
		{"TrustScore4.5", nil},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			assert.Equal(t, tt.want, RatingFromWord(tt.word))
		})
	}
}

func TestParseSubheader_PropertyGrid(t *testing.T) {
	counts := []struct {
		n         int
		formatted string
	}{
		{0, "0"},
		{2, "2"},
		{45, "45"},
		{1234, "1,234"},
		{1234567, "1,234,567"},
	}
	words := []struct {
		word string
		want *int
	}{
		{"Excellent", intPtr(5)},
		{"Great", intPtr(4)},
		{"Average", intPtr(3)},
		{"Poor", intPtr(2)},
		{"Bad", intPtr(1)},
		{"", intPtr(0)},
		{"Unheard", nil},
	}
	layouts := []string{
		"%s reviews • %s",
		"%s reviews•%s",
		"  %s\n  reviews\n  •\n  %s\n",
		"%s\treviews \r\n • \t%s",
		"%s • %s",
		"%s\u00a0reviews\u00a0•\u00a0%s",
	}

	for _, c := range counts {
		for _, w := range words {
			for _, layout := range layouts {
				text := fmt.Sprintf(layout, c.formatted, w.word)
				t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
					count, rating, err := ParseSubheader(text)
					require.NoError(t, err)
					assert.Equal(t, c.n, count)
					assert.Equal(t, w.want, rating)
				})
			}
		}
	}
}

func TestParseSubheader_Unparseable(t *testing.T) {
	inputs := []string{
		"",
		"45 reviews Excellent",
		"45 reviews • Great • Extra",
		"• Great",
		"reviews • Great",
		"99999999999999999999999 • Great",
	}
	for _, in := range inputs {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			_, _, err := ParseSubheader(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnparseableSubheader)
		})
	}
}

func TestFirstDigitRun(t *testing.T) {
	assert.Equal(t, "45", firstDigitRun("45reviews"))
	assert.Equal(t, "1234", firstDigitRun("Reviews1234"))
	assert.Equal(t, "", firstDigitRun("reviews"))
	assert.Equal(t, "7", firstDigitRun("7"))
}

func intPtr(v int) *int { return &v }
