// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"

	"grimm.is/nsight/internal/errors"
	"grimm.is/nsight/internal/logging"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps a kinded error onto an HTTP status: validation failures
// are the caller's fault, store outages are 503, anything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	case errors.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	if status >= 500 {
		logging.Error("request failed", "path", r.URL.Path, "error", err)
	}

	response := map[string]interface{}{
		"error":  err.Error(),
		"status": status,
	}
	if code := errors.GetCode(err); code != "" {
		response["code"] = code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
