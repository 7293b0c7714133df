// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine implements the log filtering and aggregation core of
// nsight: exclusion-pattern compilation, composite record filters,
// parent-domain rollup and the statistical summaries served by the
// dashboard API.
//
// The engine is stateless and side-effect-free beyond read access to the
// record store. Every operation is a pure function of its request plus the
// current store contents; concurrent requests share nothing and need no
// locking here. Read isolation is whatever the store provides: a record
// inserted while an aggregation is scanning may or may not be counted.
package engine

import "time"

// Action is the resolver's verdict for a query.
type Action uint8

const (
	ActionAllowed Action = iota
	ActionBlocked
)

func (a Action) String() string {
	if a == ActionBlocked {
		return "blocked"
	}
	return "allowed"
}

// Record is the engine's read-only view of a stored DNS log entry. Domain is
// lowercase-normalized and must be non-empty; the aggregator treats an empty
// domain as an invariant violation and fails loudly rather than skewing
// counts silently.
type Record struct {
	Timestamp  time.Time
	Domain     string
	Action     Action
	DeviceName string
	QueryType  string
	ProfileID  string
}

// Request carries the caller-supplied parameters of one aggregation call.
// Exclusion patterns arrive raw and are compiled fresh per call.
type Request struct {
	Range           TimeRange
	ProfileID       string
	ExcludePatterns []string
	ExcludeDevices  []string
	Limit           int
}

// OverviewStats summarizes all records matching a request. Percentages are
// rounded to one decimal and are both 0.0 for an empty match set.
type OverviewStats struct {
	Total             int64   `json:"total"`
	Blocked           int64   `json:"blocked"`
	Allowed           int64   `json:"allowed"`
	BlockedPercentage float64 `json:"blocked_percentage"`
	AllowedPercentage float64 `json:"allowed_percentage"`
	QueriesPerHour    float64 `json:"queries_per_hour"`
	MostActiveDevice  string  `json:"most_active_device"`
	TopBlockedDomain  string  `json:"top_blocked_domain"`
}

// RankedEntry is one row of a top-N list.
type RankedEntry struct {
	Key        string  `json:"key"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// RankedList is an ordered top-N list: descending by count, ties broken by
// key ascending so identical inputs always produce identical output.
type RankedList []RankedEntry

// TimePoint is one bucket of a time series.
type TimePoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Total       int64     `json:"total"`
	Blocked     int64     `json:"blocked"`
	Allowed     int64     `json:"allowed"`
}

// TimeSeries is a dense, chronological series: one point per bucket in
// range, zero-filled where no records fell, so chart consumers never have
// to interpolate missing points.
type TimeSeries struct {
	Granularity Granularity `json:"granularity"`
	Points      []TimePoint `json:"points"`
}
