package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rangeNow = time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

func TestTimeRangeValidity(t *testing.T) {
	valid := TimeRange{From: rangeNow.Add(-time.Hour), To: rangeNow}
	assert.True(t, valid.IsValid())
	assert.Equal(t, time.Hour, valid.Duration())

	assert.False(t, TimeRange{}.IsValid())
	assert.False(t, TimeRange{From: rangeNow, To: rangeNow.Add(-time.Hour)}.IsValid())
	// A zero-width range is still a range.
	assert.True(t, TimeRange{From: rangeNow, To: rangeNow}.IsValid())
}

func TestTimeRangeContains(t *testing.T) {
	tr := TimeRange{From: rangeNow.Add(-time.Hour), To: rangeNow}

	assert.True(t, tr.Contains(rangeNow.Add(-30*time.Minute)))
	// Both edges are inclusive.
	assert.True(t, tr.Contains(tr.From))
	assert.True(t, tr.Contains(tr.To))

	assert.False(t, tr.Contains(rangeNow.Add(time.Minute)))
	assert.False(t, tr.Contains(rangeNow.Add(-2*time.Hour)))
}

func TestNewTimeRange(t *testing.T) {
	tr, err := NewTimeRange(rangeNow.Add(-time.Hour), rangeNow)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tr.Duration())

	_, err = NewTimeRange(rangeNow, rangeNow.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLastNDays(t *testing.T) {
	tr := LastNDays(rangeNow, 7)
	assert.Equal(t, rangeNow, tr.To)
	assert.Equal(t, rangeNow.AddDate(0, 0, -7), tr.From)
	assert.True(t, tr.Contains(rangeNow.AddDate(0, 0, -3)))
	assert.False(t, tr.Contains(rangeNow.AddDate(0, 0, -8)))
}

func TestPaginationLimits(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, 0, Pagination{}.Offset())

	p := NewPagination(3, 20)
	assert.Equal(t, 20, p.Limit())
	assert.Equal(t, 40, p.Offset())

	// Oversized and non-positive inputs clamp to the defaults.
	assert.Equal(t, MaxPageSize, NewPagination(1, 10_000).PageSize)
	assert.Equal(t, 1, NewPagination(-5, 0).Page)
	assert.Equal(t, DefaultPagination(), NewPagination(0, 0))
}
