package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrawlStatus_String(t *testing.T) {
	tests := []struct {
		status CrawlStatus
		want   string
	}{
		{CrawlStatusUnset, "unset"},
		{CrawlStatusPending, "pending"},
		{CrawlStatusSuccess, "success"},
		{CrawlStatusSkippedInactive, "skipped_inactive"},
		{CrawlStatusFailure, "failure"},
		{CrawlStatusNotFound, "not_found"},
		{CrawlStatusDBError, "db_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCrawlStatus_IsValid(t *testing.T) {
	tests := []struct {
		status CrawlStatus
		want   bool
	}{
		{CrawlStatusPending, true},
		{CrawlStatusSuccess, true},
		{CrawlStatusSkippedInactive, true},
		{CrawlStatusFailure, true},
		{CrawlStatusUnset, false},
		{CrawlStatusNotFound, false},
		{CrawlStatusDBError, false},
		{CrawlStatus("arbitrary"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "CrawlStatus(%q).IsValid()", string(tt.status))
	}
}

func TestCrawlStatus_IsTerminal(t *testing.T) {
	assert.True(t, CrawlStatusSuccess.IsTerminal())
	assert.True(t, CrawlStatusSkippedInactive.IsTerminal())
	assert.False(t, CrawlStatusFailure.IsTerminal())
	assert.False(t, CrawlStatusPending.IsTerminal())
	assert.False(t, CrawlStatusUnset.IsTerminal())
}

func TestFailureReason_String(t *testing.T) {
	assert.Equal(t, "none", ReasonNone.String())
	assert.Equal(t, "unparseable-subheader", ReasonUnparseableSubheader.String())
	assert.Equal(t, "fetch-timeout", ReasonFetchTimeout.String())
}
