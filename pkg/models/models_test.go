package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func intPtr(v int) *int { return &v }

func TestJoinReviews(t *testing.T) {
	company := Company{
		Identifier:  "/review/example.com",
		DisplayName: "Example Co",
		Categories:  []string{"Electronics", "Phones"},
		ReviewCount: 2,
		RatingScore: intPtr(4),
	}
	reviews := []Review{
		{CompanyIdentifier: company.Identifier, Title: "A", Body: "x", RatingScore: 5},
		{CompanyIdentifier: company.Identifier, Title: "B", Body: "", RatingScore: 1},
	}

	set := JoinReviews(company, reviews)
	require.Len(t, set.Rows, 2)
	assert.Equal(t, company, set.Company)

	first := set.Rows[0]
	assert.Equal(t, "/review/example.com", first.CompanyURL)
	assert.Equal(t, "Example Co", first.CompanyName)
	assert.Equal(t, 2, first.CompanyReviewCount)
	assert.Equal(t, "Electronics,Phones", first.CompanyCategories)
	assert.Equal(t, 5, first.ReviewRating)
	assert.Equal(t, "A", first.ReviewTitle)

	assert.Equal(t, "B", set.Rows[1].ReviewTitle)
	assert.Equal(t, "", set.Rows[1].ReviewBody)
}

func TestJoinReviews_Empty(t *testing.T) {
	set := JoinReviews(Company{Identifier: "/review/x"}, nil)
	assert.NotNil(t, set.Rows)
	assert.Empty(t, set.Rows)
}

func TestReviewRow_Record(t *testing.T) {
	row := ReviewRow{
		CompanyURL:         "/review/example.com",
		CompanyName:        "Example Co",
		CompanyReviewCount: 45,
		CompanyRating:      intPtr(3),
		CompanyCategories:  "Shops",
		ReviewRating:       2,
		ReviewTitle:        "Meh",
		ReviewBody:         "ok, I guess",
	}
	rec := row.Record()
	require.Len(t, rec, len(Columns))
	assert.Equal(t, []string{"/review/example.com", "Example Co", "45", "3", "Shops", "2", "Meh", "ok, I guess"}, rec)
}

func TestReviewRow_Record_AbsentRating(t *testing.T) {
	rec := ReviewRow{CompanyReviewCount: 1, ReviewRating: 5}.Record()
	assert.Equal(t, "", rec[3], "absent company rating must serialize as empty cell")
	assert.Equal(t, "5", rec[5])
}

func TestReviewRow_Record_ZeroRatingIsNotAbsent(t *testing.T) {
	rec := ReviewRow{CompanyRating: intPtr(0)}.Record()
	assert.Equal(t, "0", rec[3])
}

func TestCrawlResult_RowCount(t *testing.T) {
	var r CrawlResult
	assert.Equal(t, 0, r.RowCount())

	r.Set = JoinReviews(Company{}, []Review{{RatingScore: 1}, {RatingScore: 2}})
	assert.Equal(t, 2, r.RowCount())
}

func TestCompanyDBEntry_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	entry := CompanyDBEntry{
		Status:      CrawlStatusFailure,
		Reason:      string(ReasonFetchTimeout),
		RowCount:    12,
		ErrorType:   "RetryFailed_NetworkTimeout",
		LastAttempt: now,
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var got CompanyDBEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, entry, got)
}

func TestCompanyDBEntry_OmitEmpty(t *testing.T) {
	entry := CompanyDBEntry{
		Status:      CrawlStatusPending,
		LastAttempt: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "error_type")
	assert.NotContains(t, raw, "reason")
}

func TestRunMetadata_YAMLKeys(t *testing.T) {
	meta := RunMetadata{
		RunID:  "abc",
		Policy: "count",
		Layout: "auto",
		Totals: RunTotals{Success: 1, Failure: 1, FailuresByReason: map[string]int{"no-reviews": 1}},
		Companies: []CompanyMetadata{
			{Identifier: "/review/a", Status: "success", Rows: 3, OutputFile: "reviews/a.csv"},
		},
	}

	data, err := yaml.Marshal(meta)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "run_id: abc")
	assert.Contains(t, out, "pagination_policy: count")
	assert.Contains(t, out, "failures_by_reason:")
	assert.Contains(t, out, "output_file: reviews/a.csv")
	assert.NotContains(t, out, "content_hash")
}
