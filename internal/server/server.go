// Package server exposes the diagnostics core over HTTP: scan triggers,
// history, reports, rollback and restore operations, settings, and a
// websocket stream of scan progress events.
package server

import (
	"context"
	"net/http"
	"time"

	"storewatch/internal/config"
	"storewatch/internal/diag"
	"storewatch/internal/report"
)

// Server is the HTTP front end.
type Server struct {
	svc    *diag.Service
	gen    *report.Generator
	hub    *Hub
	logger diag.Logger
	mux    *http.ServeMux
	http   *http.Server
}

// New wires a Server. hub must be the same Hub passed to the service as its
// event sink, or websocket subscribers see nothing.
func New(cfg config.ServerConfig, svc *diag.Service, gen *report.Generator, hub *Hub, logger diag.Logger) *Server {
	s := &Server{
		svc:    svc,
		gen:    gen,
		hub:    hub,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()

	readTimeout := time.Duration(cfg.ReadTimeoutSec) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	// Write timeout must cover a full synchronous scan.
	writeTimeout := time.Duration(cfg.WriteTimeoutSec) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 120 * time.Second
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Handler returns the full middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server starting", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	// Scans
	s.mux.HandleFunc("POST /api/storefronts/{id}/scan", s.handleTriggerScan)
	s.mux.HandleFunc("GET /api/storefronts/{id}/scans", s.handleScanHistory)
	s.mux.HandleFunc("GET /api/scans/{id}", s.handleScan)
	s.mux.HandleFunc("GET /api/storefronts/{id}/report", s.handleScanReport)

	// Versions
	s.mux.HandleFunc("GET /api/storefronts/{id}/themes/{theme}/files", s.handleFilesWithHistory)
	s.mux.HandleFunc("GET /api/storefronts/{id}/themes/{theme}/history", s.handleFileHistory)
	s.mux.HandleFunc("GET /api/versions/compare", s.handleCompareVersions)

	// Scripts
	s.mux.HandleFunc("GET /api/storefronts/{id}/scripts", s.handleScriptHistory)

	// Restore
	s.mux.HandleFunc("POST /api/rollbacks", s.handleRollback)
	s.mux.HandleFunc("GET /api/storefronts/{id}/rollbacks", s.handleRollbackHistory)
	s.mux.HandleFunc("POST /api/storefronts/{id}/restore-date", s.handleRestoreDate)

	// Diagnosis and exports
	s.mux.HandleFunc("GET /api/storefronts/{id}/diagnosis", s.handleDiagnosis)
	s.mux.HandleFunc("GET /api/storefronts/{id}/export/scans.csv", s.handleExportScans)
	s.mux.HandleFunc("GET /api/storefronts/{id}/export/rollbacks.csv", s.handleExportRollbacks)

	// Settings
	s.mux.HandleFunc("GET /api/settings", s.handleListSettings)
	s.mux.HandleFunc("PUT /api/settings/{key}", s.handleUpdateSetting)

	// WebSocket
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}
