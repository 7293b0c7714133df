// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"time"

	"grimm.is/nsight/internal/errors"
)

// Granularity is the bucket width of a time series. It is always derived
// from the requested range token, never chosen by the caller, which keeps
// bucket counts bounded to at most a few hundred per series.
type Granularity uint8

const (
	GranularityFiveMin Granularity = iota
	GranularityHour
	GranularityDay
)

func (g Granularity) String() string {
	switch g {
	case GranularityFiveMin:
		return "5min"
	case GranularityHour:
		return "hour"
	default:
		return "day"
	}
}

// MarshalJSON encodes the granularity as its token ("5min", "hour", "day").
func (g Granularity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + g.String() + `"`), nil
}

// Width returns the bucket duration.
func (g Granularity) Width() time.Duration {
	switch g {
	case GranularityFiveMin:
		return 5 * time.Minute
	case GranularityHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// TimeRange is a resolved query window. When All is set, Start is undefined
// and the aggregator pins it to the oldest matching record in the store.
type TimeRange struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
	All         bool
}

// ResolveRange maps a coarse range token to a TimeRange ending at now.
// Tokens and granularities are a fixed lookup: 1h -> 5min buckets,
// 24h -> hourly, 7d/30d/all -> daily.
func ResolveRange(token string, now time.Time) (TimeRange, error) {
	now = now.UTC()
	switch token {
	case "1h":
		return TimeRange{Start: now.Add(-time.Hour), End: now, Granularity: GranularityFiveMin}, nil
	case "24h":
		return TimeRange{Start: now.Add(-24 * time.Hour), End: now, Granularity: GranularityHour}, nil
	case "7d":
		return TimeRange{Start: now.Add(-7 * 24 * time.Hour), End: now, Granularity: GranularityDay}, nil
	case "30d":
		return TimeRange{Start: now.Add(-30 * 24 * time.Hour), End: now, Granularity: GranularityDay}, nil
	case "all", "":
		return TimeRange{End: now, Granularity: GranularityDay, All: true}, nil
	default:
		return TimeRange{}, errors.Codedf(errors.KindValidation, CodeInvalidRange,
			"unknown time range %q", token)
	}
}

// Contains reports whether ts falls inside the range (inclusive bounds).
func (tr TimeRange) Contains(ts time.Time) bool {
	if !tr.All && ts.Before(tr.Start) {
		return false
	}
	return !ts.After(tr.End)
}

// validate rejects inverted ranges before any store access.
func (tr TimeRange) validate() error {
	if !tr.All && tr.End.Before(tr.Start) {
		return errors.Codedf(errors.KindValidation, CodeInvalidRange,
			"range start %s is after end %s", tr.Start.Format(time.RFC3339), tr.End.Format(time.RFC3339))
	}
	return nil
}

// bucketCount returns the number of buckets covering [start, end] at the
// given width: ceil((end-start)/width), never less than one for a valid
// non-empty range.
func bucketCount(start, end time.Time, width time.Duration) int {
	span := end.Sub(start)
	if span <= 0 {
		return 1
	}
	n := int(span / width)
	if span%width != 0 {
		n++
	}
	return n
}
