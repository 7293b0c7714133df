// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"grimm.is/nsight/internal/errors"
)

// Store is the narrow view of the record collection the aggregator needs.
// Iterate streams every record matching the filter, stopping early when the
// callback returns an error or the context is cancelled. Bounds reports the
// oldest and newest record timestamps for a profile ("" = all profiles) so
// "all"-range requests can pin their window; ok is false for an empty store.
type Store interface {
	Iterate(ctx context.Context, f *Filter, fn func(Record) error) error
	Bounds(ctx context.Context, profileID string) (oldest, newest time.Time, ok bool, err error)
}

// Aggregator executes aggregation requests against a Store. It holds no
// state of its own and is safe for concurrent use.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// checkRecord guards the non-empty-domain invariant. A record with an empty
// domain reaching aggregation means corrupted ingestion; failing the whole
// call surfaces the data-quality problem instead of quietly skewing counts.
func checkRecord(r Record) error {
	if r.Domain == "" {
		return errors.Errorf(errors.KindInternal, "log record at %s has an empty domain", r.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func percentage(count, total int64) float64 {
	if total == 0 {
		return 0.0
	}
	return round1(float64(count) / float64(total) * 100)
}

// Overview counts total, blocked and allowed records matching the request
// and surfaces the most frequent device and most frequently blocked domain.
// Frequency ties are broken by key ascending so results are reproducible.
func (a *Aggregator) Overview(ctx context.Context, req Request) (*OverviewStats, error) {
	f, _, err := buildFilter(req)
	if err != nil {
		return nil, err
	}

	var (
		total, blocked int64
		byDevice       = make(map[string]int64)
		byBlockedDom   = make(map[string]int64)
	)
	err = a.store.Iterate(ctx, f, func(r Record) error {
		if err := checkRecord(r); err != nil {
			return err
		}
		total++
		if r.Action == ActionBlocked {
			blocked++
			byBlockedDom[r.Domain]++
		}
		if r.DeviceName != "" {
			byDevice[r.DeviceName]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	perHour, err := a.queriesPerHour(ctx, f, total, req)
	if err != nil {
		return nil, err
	}

	allowed := total - blocked
	stats := &OverviewStats{
		Total:             total,
		Blocked:           blocked,
		Allowed:           allowed,
		BlockedPercentage: percentage(blocked, total),
		AllowedPercentage: percentage(allowed, total),
		QueriesPerHour:    perHour,
		MostActiveDevice:  topKey(byDevice),
		TopBlockedDomain:  topKey(byBlockedDom),
	}
	return stats, nil
}

// queriesPerHour derives the average rate over the effective window. For
// "all" ranges the window starts at the oldest stored record; a Bounds
// failure propagates so a store outage is never reported as a zero rate.
func (a *Aggregator) queriesPerHour(ctx context.Context, f *Filter, total int64, req Request) (float64, error) {
	if total == 0 {
		return 0.0, nil
	}
	start := f.Range.Start
	if f.Range.All {
		oldest, _, ok, err := a.store.Bounds(ctx, req.ProfileID)
		if err != nil {
			return 0.0, err
		}
		if !ok {
			return 0.0, nil
		}
		start = oldest
	}
	hours := f.Range.End.Sub(start).Hours()
	if hours <= 0 {
		return float64(total), nil
	}
	return round1(float64(total) / hours), nil
}

// topKey returns the key with the highest count; ties go to the
// lexicographically smaller key. Empty map yields "".
func topKey(counts map[string]int64) string {
	var best string
	var bestCount int64
	for k, c := range counts {
		if c > bestCount || (c == bestCount && bestCount > 0 && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}

// TopDomains ranks matching records by domain, or by parent domain when
// byParent is set, split into blocked and allowed lists. Each list is sorted
// descending by count with ties broken by key ascending, truncated to the
// request limit, with percentages relative to its own total.
func (a *Aggregator) TopDomains(ctx context.Context, req Request, byParent bool) (blocked, allowed RankedList, err error) {
	f, limit, err := buildFilter(req)
	if err != nil {
		return nil, nil, err
	}

	blockedCounts := make(map[string]int64)
	allowedCounts := make(map[string]int64)
	err = a.store.Iterate(ctx, f, func(r Record) error {
		if err := checkRecord(r); err != nil {
			return err
		}
		key := r.Domain
		if byParent {
			key = ParentDomain(r.Domain)
		}
		if r.Action == ActionBlocked {
			blockedCounts[key]++
		} else {
			allowedCounts[key]++
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return rank(blockedCounts, limit), rank(allowedCounts, limit), nil
}

// TopDevices ranks matching records by device name. Devices on the request's
// exclusion list are filtered out by the composite filter before grouping,
// so an excluded device never occupies a rank slot. Records without a device
// name are not ranked.
func (a *Aggregator) TopDevices(ctx context.Context, req Request) (RankedList, error) {
	f, limit, err := buildFilter(req)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	err = a.store.Iterate(ctx, f, func(r Record) error {
		if err := checkRecord(r); err != nil {
			return err
		}
		if r.DeviceName != "" {
			counts[r.DeviceName]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rank(counts, limit), nil
}

// rank turns a count map into an ordered, truncated RankedList.
func rank(counts map[string]int64, limit int) RankedList {
	var total int64
	list := make(RankedList, 0, len(counts))
	for k, c := range counts {
		list = append(list, RankedEntry{Key: k, Count: c})
		total += c
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Key < list[j].Key
	})
	if len(list) > limit {
		list = list[:limit]
	}
	for i := range list {
		list[i].Percentage = percentage(list[i].Count, total)
	}
	return list
}

// TimeSeries assigns each matching record to exactly one bucket on a fixed
// grid anchored at the range start and emits one point per bucket in
// chronological order, zero-filled where nothing matched.
func (a *Aggregator) TimeSeries(ctx context.Context, req Request) (*TimeSeries, error) {
	f, _, err := buildFilter(req)
	if err != nil {
		return nil, err
	}

	start := f.Range.Start
	if f.Range.All {
		oldest, _, ok, err := a.store.Bounds(ctx, req.ProfileID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Nothing stored: a series with no points, not an error.
			return &TimeSeries{Granularity: f.Range.Granularity, Points: []TimePoint{}}, nil
		}
		start = oldest.UTC().Truncate(f.Range.Granularity.Width())
	}

	width := f.Range.Granularity.Width()
	n := bucketCount(start, f.Range.End, width)
	points := make([]TimePoint, n)
	for i := range points {
		points[i].BucketStart = start.Add(time.Duration(i) * width)
	}

	err = a.store.Iterate(ctx, f, func(r Record) error {
		if err := checkRecord(r); err != nil {
			return err
		}
		idx := int(r.Timestamp.Sub(start) / width)
		if idx < 0 {
			return nil
		}
		if idx >= n {
			// A record exactly on the range end lands on the grid edge;
			// it belongs to the final bucket.
			idx = n - 1
		}
		points[idx].Total++
		if r.Action == ActionBlocked {
			points[idx].Blocked++
		} else {
			points[idx].Allowed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &TimeSeries{Granularity: f.Range.Granularity, Points: points}, nil
}

// BuildFilter exposes request validation and pattern compilation to store
// implementations and callers that need the composite predicate itself.
func BuildFilter(req Request) (*Filter, error) {
	f, _, err := buildFilter(req)
	return f, err
}
