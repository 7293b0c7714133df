// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nsight/internal/engine"
)

var _ engine.Store = (*Store)(nil)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nsight-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedLogs(t *testing.T, s *Store) {
	t.Helper()
	logs := []Log{
		{Timestamp: baseTime.Add(-50 * time.Minute), Domain: "gateway.icloud.com", Action: "allowed", DeviceName: "iPhone", ClientIP: "192.168.1.2", QueryType: "A", ProfileID: "prof1"},
		{Timestamp: baseTime.Add(-40 * time.Minute), Domain: "www.apple.com", Action: "allowed", DeviceName: "iPhone", ClientIP: "192.168.1.2", QueryType: "AAAA", ProfileID: "prof1"},
		{Timestamp: baseTime.Add(-30 * time.Minute), Domain: "tracking.net", Action: "blocked", Blocked: true, DeviceName: "MacBook", ClientIP: "192.168.1.3", QueryType: "A", ProfileID: "prof1"},
		{Timestamp: baseTime.Add(-20 * time.Minute), Domain: "google.com", Action: "allowed", DeviceName: "MacBook", ClientIP: "192.168.1.3", QueryType: "A", ProfileID: "prof1"},
		{Timestamp: baseTime.Add(-10 * time.Minute), Domain: "ads.example.com", Action: "blocked", Blocked: true, ClientIP: "192.168.1.4", QueryType: "A", ProfileID: "prof2"},
	}
	inserted, err := s.InsertBatch(context.Background(), logs)
	require.NoError(t, err)
	require.Len(t, inserted, len(logs))
}

func hourFilter(t *testing.T, patterns ...string) *engine.Filter {
	t.Helper()
	tr, err := engine.ResolveRange("1h", baseTime)
	require.NoError(t, err)
	f, err := engine.BuildFilter(engine.Request{Range: tr, ExcludePatterns: patterns})
	require.NoError(t, err)
	return f
}

func collect(t *testing.T, s *Store, f *engine.Filter) []engine.Record {
	t.Helper()
	var out []engine.Record
	require.NoError(t, s.Iterate(context.Background(), f, func(r engine.Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func domains(records []engine.Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.Domain)
	}
	return out
}

func TestInsertBatchSkipsDuplicates(t *testing.T) {
	s := openTestStore(t)

	entry := Log{Timestamp: baseTime, Domain: "Example.COM", ClientIP: "10.0.0.1", Action: "allowed", QueryType: "A", ProfileID: "prof1"}
	inserted, err := s.InsertBatch(context.Background(), []Log{entry})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "example.com", inserted[0].Domain)

	// Same timestamp/domain/client is a duplicate regardless of case.
	entry.Domain = "example.com"
	inserted, err = s.InsertBatch(context.Background(), []Log{entry})
	require.NoError(t, err)
	assert.Empty(t, inserted)

	total, err := s.TotalCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestInsertNormalizesDomainCase(t *testing.T) {
	s := openTestStore(t)

	_, err := s.InsertBatch(context.Background(), []Log{
		{Timestamp: baseTime, Domain: "WWW.Apple.COM", ClientIP: "10.0.0.1", Action: "allowed", QueryType: "A", ProfileID: "p"},
	})
	require.NoError(t, err)

	records := collect(t, s, hourFilter(t))
	require.Len(t, records, 1)
	assert.Equal(t, "www.apple.com", records[0].Domain)
}

func TestIterateAppliesPatternExclusions(t *testing.T) {
	s := openTestStore(t)
	seedLogs(t, s)

	records := collect(t, s, hourFilter(t, "*.apple.com", "tracking.*"))
	got := domains(records)

	assert.NotContains(t, got, "www.apple.com")
	assert.NotContains(t, got, "tracking.net")
	assert.Contains(t, got, "gateway.icloud.com")
	assert.Contains(t, got, "google.com")
	assert.Contains(t, got, "ads.example.com")
}

func TestIterateEscapesLikeMetacharacters(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertBatch(context.Background(), []Log{
		{Timestamp: baseTime.Add(-5 * time.Minute), Domain: "ad_server.com", ClientIP: "10.0.0.1", Action: "allowed", QueryType: "A", ProfileID: "p"},
		{Timestamp: baseTime.Add(-4 * time.Minute), Domain: "adxserver.com", ClientIP: "10.0.0.1", Action: "allowed", QueryType: "A", ProfileID: "p"},
	})
	require.NoError(t, err)

	// The underscore in the pattern must match literally, not as a LIKE
	// single-character wildcard: adxserver.com stays in the result.
	records := collect(t, s, hourFilter(t, "*ad_server*"))
	got := domains(records)
	assert.Equal(t, []string{"adxserver.com"}, got)
}

func TestIterateFiltersProfileAndDevices(t *testing.T) {
	s := openTestStore(t)
	seedLogs(t, s)

	tr, err := engine.ResolveRange("1h", baseTime)
	require.NoError(t, err)

	f, err := engine.BuildFilter(engine.Request{Range: tr, ProfileID: "prof1", ExcludeDevices: []string{"iPhone"}})
	require.NoError(t, err)

	got := domains(collect(t, s, f))
	// prof2 record and both iPhone records are gone; deviceless records
	// would survive a device exclusion.
	assert.Equal(t, []string{"tracking.net", "google.com"}, got)
}

func TestIterateTimeRange(t *testing.T) {
	s := openTestStore(t)
	seedLogs(t, s)

	tr := engine.TimeRange{
		Start:       baseTime.Add(-35 * time.Minute),
		End:         baseTime.Add(-15 * time.Minute),
		Granularity: engine.GranularityFiveMin,
	}
	f, err := engine.BuildFilter(engine.Request{Range: tr})
	require.NoError(t, err)

	got := domains(collect(t, s, f))
	assert.Equal(t, []string{"tracking.net", "google.com"}, got)
}

func TestBounds(t *testing.T) {
	s := openTestStore(t)

	_, _, ok, err := s.Bounds(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok, "empty store has no bounds")

	seedLogs(t, s)

	oldest, newest, ok, err := s.Bounds(context.Background(), "prof1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, baseTime.Add(-50*time.Minute), oldest)
	assert.Equal(t, baseTime.Add(-20*time.Minute), newest)
}

func TestRecentLogsPaginationAndFilters(t *testing.T) {
	s := openTestStore(t)
	seedLogs(t, s)
	ctx := context.Background()

	logs, err := s.RecentLogs(ctx, LogQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Newest first.
	assert.Equal(t, "ads.example.com", logs[0].Domain)
	assert.Equal(t, "google.com", logs[1].Domain)

	logs, err = s.RecentLogs(ctx, LogQuery{Limit: 10, Status: "blocked"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.True(t, l.Blocked)
	}

	logs, err = s.RecentLogs(ctx, LogQuery{Limit: 10, Search: "APPLE"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "www.apple.com", logs[0].Domain)

	pattern, err := engine.CompilePattern("*.icloud.com")
	require.NoError(t, err)
	logs, err = s.RecentLogs(ctx, LogQuery{Limit: 10, ProfileID: "prof1", ExcludePatterns: []engine.Pattern{pattern}})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.NotEqual(t, "gateway.icloud.com", l.Domain)
	}
}

func TestRecentLogsReturnsRawPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	payload := `{"timestamp":"2026-03-14T11:55:00Z","domain":"ads.example.com","status":"blocked"}`
	_, err := s.InsertBatch(ctx, []Log{
		{Timestamp: baseTime.Add(-5 * time.Minute), Domain: "ads.example.com", Action: "blocked", Blocked: true, ClientIP: "10.0.0.1", QueryType: "A", ProfileID: "p", Raw: json.RawMessage(payload)},
		{Timestamp: baseTime.Add(-4 * time.Minute), Domain: "google.com", Action: "allowed", ClientIP: "10.0.0.1", QueryType: "A", ProfileID: "p"},
	})
	require.NoError(t, err)

	logs, err := s.RecentLogs(ctx, LogQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 2)

	// Rows without a payload stay empty so omitempty drops them from JSON.
	assert.Empty(t, logs[0].Raw)
	assert.JSONEq(t, payload, string(logs[1].Raw))
}

func TestProfilesAndDevices(t *testing.T) {
	s := openTestStore(t)
	seedLogs(t, s)
	ctx := context.Background()

	profiles, err := s.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "prof1", profiles[0].ProfileID)
	assert.Equal(t, int64(4), profiles[0].RecordCount)
	assert.Equal(t, baseTime.Add(-20*time.Minute), profiles[0].LastActivity)

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"MacBook", "iPhone"}, devices)
}

func TestFetchStatusRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, ok, err := s.FetchStatus(ctx, "prof1")
	require.NoError(t, err)
	assert.False(t, ok)

	first := baseTime.Add(-time.Hour)
	require.NoError(t, s.UpdateFetchStatus(ctx, "prof1", first, 100))
	require.NoError(t, s.UpdateFetchStatus(ctx, "prof1", baseTime, 50))

	last, total, ok, err := s.FetchStatus(ctx, "prof1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, baseTime, last)
	// Counts accumulate across fetches.
	assert.Equal(t, int64(150), total)
}

func TestCleanupRemovesOldRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []Log{
		{Timestamp: time.Now().UTC().Add(-48 * time.Hour), Domain: "old.com", ClientIP: "10.0.0.1", Action: "allowed", QueryType: "A", ProfileID: "p"},
		{Timestamp: time.Now().UTC(), Domain: "new.com", ClientIP: "10.0.0.1", Action: "allowed", QueryType: "A", ProfileID: "p"},
	})
	require.NoError(t, err)

	deleted, err := s.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	total, err := s.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
