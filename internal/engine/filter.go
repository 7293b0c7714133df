// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"slices"

	"grimm.is/nsight/internal/errors"
)

// Filter is the composite predicate built from one request: time range,
// optional profile, device exclusions and compiled domain patterns. A record
// matches iff it passes the structural filters and matches NONE of the
// exclusion patterns.
type Filter struct {
	Range          TimeRange
	ProfileID      string
	ExcludeDevices []string
	Patterns       []Pattern
}

const (
	defaultLimit = 10
	maxLimit     = 50
)

// buildFilter validates the request and compiles its patterns into a
// composite filter. It never touches the store: invalid requests fail fast
// here. The returned limit is the request limit defaulted and bounds-checked
// for ranked queries.
func buildFilter(req Request) (*Filter, int, error) {
	if err := req.Range.validate(); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 1 || limit > maxLimit {
		return nil, 0, errors.Codedf(errors.KindValidation, CodeInvalidLimit,
			"limit %d outside [1, %d]", req.Limit, maxLimit)
	}

	patterns, err := CompilePatterns(req.ExcludePatterns)
	if err != nil {
		return nil, 0, err
	}

	return &Filter{
		Range:          req.Range,
		ProfileID:      req.ProfileID,
		ExcludeDevices: req.ExcludeDevices,
		Patterns:       patterns,
	}, limit, nil
}

// Matches evaluates the composite predicate against one record. The SQL
// store renders the same predicate natively; this form serves in-memory
// stores and tests.
func (f *Filter) Matches(r Record) bool {
	if f.ProfileID != "" && r.ProfileID != f.ProfileID {
		return false
	}
	if !f.Range.Contains(r.Timestamp) {
		return false
	}
	if r.DeviceName != "" && slices.Contains(f.ExcludeDevices, r.DeviceName) {
		return false
	}
	for _, p := range f.Patterns {
		if p.Matches(r.Domain) {
			return false
		}
	}
	return true
}
