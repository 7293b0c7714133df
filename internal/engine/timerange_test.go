// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nsight/internal/errors"
)

func TestResolveRangeGranularityLookup(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	cases := []struct {
		token       string
		granularity Granularity
		span        time.Duration
	}{
		{"1h", GranularityFiveMin, time.Hour},
		{"24h", GranularityHour, 24 * time.Hour},
		{"7d", GranularityDay, 7 * 24 * time.Hour},
		{"30d", GranularityDay, 30 * 24 * time.Hour},
	}
	for _, tc := range cases {
		tr, err := ResolveRange(tc.token, now)
		require.NoError(t, err, "token %q", tc.token)
		assert.Equal(t, tc.granularity, tr.Granularity, "token %q", tc.token)
		assert.Equal(t, tc.span, tr.End.Sub(tr.Start), "token %q", tc.token)
		assert.False(t, tr.All)
	}

	all, err := ResolveRange("all", now)
	require.NoError(t, err)
	assert.True(t, all.All)
	assert.Equal(t, GranularityDay, all.Granularity)
}

func TestResolveRangeRejectsUnknownToken(t *testing.T) {
	_, err := ResolveRange("90d", time.Now())
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRange, errors.GetCode(err))
}

func TestBucketCount(t *testing.T) {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	// One hour of five-minute buckets is exactly twelve.
	assert.Equal(t, 12, bucketCount(start, start.Add(time.Hour), 5*time.Minute))
	// Partial trailing bucket still gets emitted.
	assert.Equal(t, 13, bucketCount(start, start.Add(time.Hour+time.Minute), 5*time.Minute))
	assert.Equal(t, 24, bucketCount(start, start.Add(24*time.Hour), time.Hour))
	assert.Equal(t, 7, bucketCount(start, start.Add(7*24*time.Hour), 24*time.Hour))
	// Degenerate spans still produce a single bucket.
	assert.Equal(t, 1, bucketCount(start, start, time.Hour))
}

func TestGranularityTokens(t *testing.T) {
	assert.Equal(t, "5min", GranularityFiveMin.String())
	assert.Equal(t, "hour", GranularityHour.String())
	assert.Equal(t, "day", GranularityDay.String())

	b, err := GranularityFiveMin.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"5min"`, string(b))
}
