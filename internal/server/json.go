package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"storewatch/internal/diag"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// writeError maps core errors onto transport statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *diag.APIError

	switch {
	case errors.Is(err, diag.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, diag.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, diag.ErrReadOnly):
		status = http.StatusServiceUnavailable
	case errors.Is(err, diag.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
