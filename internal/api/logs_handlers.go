// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"

	"grimm.is/nsight/internal/engine"
	"grimm.is/nsight/internal/errors"
	"grimm.is/nsight/internal/store"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 10000
)

// handleLogs serves the raw log viewer: paginated entries, newest first,
// with search, status, profile and pattern exclusion filters.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lq := store.LogQuery{
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		ProfileID: q.Get("profile"),
		Limit:     defaultLogLimit,
	}

	switch lq.Status {
	case "", "all", "blocked", "allowed":
	default:
		s.writeError(w, r, errors.Errorf(errors.KindValidation,
			"status must be all, blocked or allowed, got %q", lq.Status))
		return
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLogLimit {
			s.writeError(w, r, errors.Errorf(errors.KindValidation,
				"limit must be an integer in [1, %d]", maxLogLimit))
			return
		}
		lq.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			s.writeError(w, r, errors.New(errors.KindValidation, "offset must be a non-negative integer"))
			return
		}
		lq.Offset = offset
	}

	patterns, err := engine.CompilePatterns(splitParams(q["exclude"]))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lq.ExcludePatterns = patterns

	logs, err := s.store.RecentLogs(r.Context(), lq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []store.Log{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":   logs,
		"count":  len(logs),
		"limit":  lq.Limit,
		"offset": lq.Offset,
	})
}
