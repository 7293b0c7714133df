// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"time"

	"grimm.is/nsight/internal/logging"
)

// handleDevices lists the distinct device names seen in the store, for
// filter dropdowns.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.Devices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if devices == nil {
		devices = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
	})
}

type profileResponse struct {
	ProfileID    string    `json:"profile_id"`
	Name         string    `json:"name,omitempty"`
	RecordCount  int64     `json:"record_count"`
	LastActivity time.Time `json:"last_activity"`
	LastFetch    time.Time `json:"last_fetch,omitempty"`
}

// handleProfiles lists profiles present in the store, enriched with names
// from the NextDNS API when a client is configured. Lookup failures only
// cost the name.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.Profiles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	profiles := make([]profileResponse, 0, len(summaries))
	for _, sum := range summaries {
		p := profileResponse{
			ProfileID:    sum.ProfileID,
			RecordCount:  sum.RecordCount,
			LastActivity: sum.LastActivity,
		}
		if last, _, ok, err := s.store.FetchStatus(r.Context(), sum.ProfileID); err == nil && ok {
			p.LastFetch = last
		}
		if s.profiles != nil {
			if info, err := s.profiles.Profile(r.Context(), sum.ProfileID); err == nil {
				p.Name = info.Name
			} else {
				logging.Debug("profile name lookup failed", "profile", sum.ProfileID, "error", err)
			}
		}
		profiles = append(profiles, p)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
	})
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": s.version,
	})
}

// handleDetailedHealth also exercises the database and reports uptime and
// store counters.
func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "ok"

	total, err := s.store.TotalCount(r.Context())
	if err != nil {
		status = "degraded"
		dbStatus = err.Error()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"database": map[string]interface{}{
			"status":        dbStatus,
			"total_records": total,
		},
		"websocket_clients": s.hub.ClientCount(),
	})
}
