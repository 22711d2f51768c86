// Package api is the HTTP surface: upload, health, mock, the media file
// server, and the websocket job feed.
package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tiroq/echoscribe/internal/config"
	"github.com/tiroq/echoscribe/internal/pipeline"
)

// EngineStatus reports the transcription engine's load state for the
// health endpoint.
type EngineStatus interface {
	Health() string
}

// Server bundles the request handlers and their collaborators.
type Server struct {
	cfg    *config.Config
	proc   *pipeline.Processor
	engine EngineStatus
	hub    *Hub
	log    *logrus.Entry
}

// NewServer creates the HTTP server component. hub may be nil when the
// job feed is not wanted (it is created by default in Routes callers).
func NewServer(cfg *config.Config, proc *pipeline.Processor, engine EngineStatus, hub *Hub, log *logrus.Entry) *Server {
	return &Server{cfg: cfg, proc: proc, engine: engine, hub: hub, log: log}
}

// Routes builds the service mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transcribe/", s.handleTranscribe)
	mux.HandleFunc("/api/health/", s.handleHealth)
	mux.HandleFunc("/api/test-transcribe/", s.handleMockTranscribe)
	if s.hub != nil {
		mux.HandleFunc("/api/jobs/ws", s.hub.Handle)
	}

	// Retained audio deliverables, served under the public media prefix.
	fs := http.FileServer(http.Dir(s.cfg.AudioDir()))
	mux.Handle(s.cfg.MediaURLPrefix+"audio/", http.StripPrefix(s.cfg.MediaURLPrefix+"audio/", fs))

	return mux
}
