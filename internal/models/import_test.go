package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobValidating.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobCompletedWithErrors.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestJobSummaryProgress(t *testing.T) {
	start := time.Now().Add(-4 * time.Second)
	end := start.Add(2 * time.Second)
	job := ImportJob{
		TotalRows:     200,
		ProcessedRows: 50,
		SuccessRows:   48,
		ErrorRows:     2,
		StartedAt:     start,
		CompletedAt:   &end,
	}
	s := job.Summary()
	assert.Equal(t, 25.0, s.ProgressPercentage)
	assert.Equal(t, int64(2000), s.DurationMs)
	assert.Equal(t, s.ProcessedRows, s.SuccessRows+s.ErrorRows)
}

func TestJobSummaryZeroRows(t *testing.T) {
	s := ImportJob{}.Summary()
	assert.Zero(t, s.ProgressPercentage)
	assert.Zero(t, s.DurationMs)
}
