// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/nsight/internal/engine"
	"grimm.is/nsight/internal/errors"
)

// parseStatsRequest builds an engine request from the shared query
// parameters: range, profile, exclude, exclude_device and limit. Deeper
// validation happens in the engine.
func parseStatsRequest(r *http.Request) (engine.Request, error) {
	q := r.URL.Query()

	tr, err := engine.ResolveRange(q.Get("range"), time.Now().UTC())
	if err != nil {
		return engine.Request{}, err
	}

	req := engine.Request{
		Range:           tr,
		ProfileID:       q.Get("profile"),
		ExcludePatterns: splitParams(q["exclude"]),
		ExcludeDevices:  splitParams(q["exclude_device"]),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return engine.Request{}, errors.Coded(errors.KindValidation, engine.CodeInvalidLimit,
				"limit must be an integer")
		}
		req.Limit = limit
	}
	return req, nil
}

// splitParams accepts both repeated parameters and comma-separated lists.
func splitParams(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// handleStats returns store-level totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.TotalCount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.StoredRecords.Set(float64(total))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_records": total,
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	req, err := parseStatsRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.agg.Overview(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	req, err := parseStatsRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	series, err := s.agg.TimeSeries(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	s.serveTopDomains(w, r, false)
}

// handleTopParents serves rankings rolled up to registrable parent domains.
func (s *Server) handleTopParents(w http.ResponseWriter, r *http.Request) {
	s.serveTopDomains(w, r, true)
}

func (s *Server) serveTopDomains(w http.ResponseWriter, r *http.Request, byParent bool) {
	req, err := parseStatsRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	blocked, allowed, err := s.agg.TopDomains(r.Context(), req, byParent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": blocked,
		"allowed": allowed,
	})
}

func (s *Server) handleTopDevices(w http.ResponseWriter, r *http.Request) {
	req, err := parseStatsRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	devices, err := s.agg.TopDevices(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
	})
}
