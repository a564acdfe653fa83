package server

import (
	"net/http"
	"strconv"
	"time"

	"storewatch/internal/diag"
)

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// handleTriggerScan runs an on-demand scan synchronously. Subscribers on /ws
// receive progress while it runs; the completed run is the response body.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.StartOnDemandScan(r.Context(), r.PathValue("id"))
	if err != nil {
		if run != nil {
			// The run exists and records the failure.
			s.writeJSON(w, http.StatusBadGateway, run)
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.ScanHistory(r.PathValue("id"), limitParam(r, 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.ScanByID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleScanReport(w http.ResponseWriter, r *http.Request) {
	md, err := s.gen.ScanReport(r.PathValue("id"), r.URL.Query().Get("scan"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(md))
}

func (s *Server) handleFilesWithHistory(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.FilesWithHistory(r.PathValue("id"), r.PathValue("theme"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleFileHistory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.badRequest(w, "missing required query parameter: path")
		return
	}
	versions, err := s.svc.FileHistory(r.PathValue("id"), r.PathValue("theme"), path, limitParam(r, 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		s.badRequest(w, "missing required query parameters: a, b")
		return
	}
	cmp, err := s.svc.CompareVersions(a, b)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleScriptHistory(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.svc.ScriptHistory(r.PathValue("id"), limitParam(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

type rollbackPayload struct {
	StorefrontID string `json:"storefront_id"`
	VersionID    string `json:"version_id"`
	Mode         string `json:"mode,omitempty"`
	Confirmed    bool   `json:"confirmed,omitempty"`
	PerformedBy  string `json:"performed_by,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// handleRollback restores a single file. An unconfirmed app-owned target
// gets 409 with the confirmation payload; re-submit with confirmed=true.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var payload rollbackPayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if payload.StorefrontID == "" || payload.VersionID == "" {
		s.badRequest(w, "storefront_id and version_id are required")
		return
	}

	outcome, err := s.svc.RollbackFile(r.Context(), diag.RollbackRequest{
		StorefrontID: payload.StorefrontID,
		VersionID:    payload.VersionID,
		Mode:         payload.Mode,
		Confirmed:    payload.Confirmed,
		PerformedBy:  payload.PerformedBy,
		Notes:        payload.Notes,
	})
	if err != nil {
		if outcome != nil && outcome.Action != nil {
			// The write failed; the audit row records it.
			s.writeJSON(w, http.StatusBadGateway, outcome)
			return
		}
		s.writeError(w, err)
		return
	}
	if outcome.Confirmation != nil {
		s.writeJSON(w, http.StatusConflict, outcome)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRollbackHistory(w http.ResponseWriter, r *http.Request) {
	actions, err := s.svc.RollbackHistory(r.PathValue("id"), limitParam(r, 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, actions)
}

type restoreDatePayload struct {
	ThemeID string `json:"theme_id"`
	Date    string `json:"date"` // YYYY-MM-DD
}

func (s *Server) handleRestoreDate(w http.ResponseWriter, r *http.Request) {
	var payload restoreDatePayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if payload.ThemeID == "" {
		s.badRequest(w, "theme_id is required")
		return
	}
	day, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		s.badRequest(w, "date must be formatted YYYY-MM-DD")
		return
	}

	result, err := s.svc.RestoreThemeToDate(r.Context(), r.PathValue("id"), payload.ThemeID, day)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiagnosis(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Diagnose(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleExportScans(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="scans.csv"`)
	if err := s.gen.ExportScanHistory(w, r.PathValue("id"), limitParam(r, 200)); err != nil {
		s.writeError(w, err)
	}
}

func (s *Server) handleExportRollbacks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="rollbacks.csv"`)
	if err := s.gen.ExportRollbackHistory(w, r.PathValue("id"), limitParam(r, 200)); err != nil {
		s.writeError(w, err)
	}
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.Settings()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

type settingPayload struct {
	Value     string `json:"value"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	var payload settingPayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	updatedBy := payload.UpdatedBy
	if updatedBy == "" {
		updatedBy = "api"
	}
	if err := s.svc.UpdateSetting(r.PathValue("key"), payload.Value, updatedBy); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
