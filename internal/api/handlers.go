package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tiroq/echoscribe/internal/pipeline"
	"github.com/tiroq/echoscribe/internal/transcript"
)

// transcribeResponse is the success envelope for the upload endpoint.
type transcribeResponse struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Filename string            `json:"filename"`
	AudioURL string            `json:"audio_url,omitempty"`
	Text     string            `json:"text"`
	Words    []transcript.Word `json:"words"`
	Language string            `json:"language"`
}

// errorResponse is the uniform failure envelope.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// handleTranscribe accepts a multipart upload in the "audio" field,
// validates it before any disk write, and runs the pipeline.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "use POST with a multipart audio field")
		return
	}

	// Reject oversized bodies while reading, not after buffering 50 MiB
	// of junk. A little slack covers multipart framing overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	file, header, err := r.FormFile("audio")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusBadRequest, "validation failed", s.sizeLimitMessage(0))
			return
		}
		s.writeError(w, http.StatusBadRequest, "validation failed", "missing audio file field")
		return
	}
	defer file.Close()

	// Validation happens before any pipeline stage touches the disk.
	if !s.cfg.ExtensionAllowed(header.Filename) {
		s.writeError(w, http.StatusBadRequest, "validation failed",
			fmt.Sprintf("unsupported file format %q; supported formats: %s",
				header.Filename, strings.Join(s.cfg.AllowedExtensions, ", ")))
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		s.writeError(w, http.StatusBadRequest, "validation failed", s.sizeLimitMessage(header.Size))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusBadRequest, "validation failed", s.sizeLimitMessage(int64(len(data))))
			return
		}
		s.writeError(w, http.StatusBadRequest, "validation failed", "could not read uploaded file")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		s.writeError(w, http.StatusBadRequest, "validation failed", s.sizeLimitMessage(int64(len(data))))
		return
	}

	rec, err := s.proc.Process(r.Context(), pipeline.Upload{
		Filename: header.Filename,
		Data:     data,
		Language: r.FormValue("language"),
	}, true)
	if err != nil {
		// Full diagnostics (subprocess stderr and the like) stay in the
		// server log; the client gets the stage and a readable message.
		s.log.WithError(err).WithField("filename", header.Filename).Error("pipeline failed")

		status := http.StatusInternalServerError
		msg := "error processing audio"
		switch pipeline.StageOf(err) {
		case pipeline.StageTimeout:
			status = http.StatusGatewayTimeout
			msg = "processing timed out"
		case pipeline.StageTranscode:
			msg = "audio conversion failed"
		case pipeline.StageTranscribe:
			msg = "transcription failed"
		case pipeline.StagePersist:
			msg = "could not store uploaded audio"
		}
		s.writeError(w, status, msg, string(pipeline.StageOf(err)))
		return
	}

	s.writeJSON(w, http.StatusOK, transcribeResponse{
		Success:  true,
		Message:  "Audio transcribed successfully",
		Filename: header.Filename,
		AudioURL: rec.AudioURL,
		Text:     rec.Text,
		Words:    rec.Words,
		Language: rec.Language,
	})
}

// handleHealth returns a static readiness payload plus the engine state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	engineState := "unknown"
	if s.engine != nil {
		engineState = s.engine.Health()
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"message":       "API is running",
		"whisper_model": s.cfg.WhisperModel,
		"engine":        engineState,
	})
}

// handleMockTranscribe returns a fixed transcript so downstream consumers
// can integrate without invoking the real pipeline.
func (s *Server) handleMockTranscribe(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, transcribeResponse{
		Success:  true,
		Message:  "Mock transcription data",
		Filename: "test_audio.mp3",
		Text:     "Hello and welcome to this English listening practice. Today we will learn about pronunciation.",
		Words: []transcript.Word{
			{Word: "Hello", Start: 0.0, End: 0.5},
			{Word: "and", Start: 0.5, End: 0.7},
			{Word: "welcome", Start: 0.7, End: 1.2},
			{Word: "to", Start: 1.2, End: 1.4},
			{Word: "this", Start: 1.4, End: 1.7},
			{Word: "English", Start: 1.7, End: 2.2},
			{Word: "listening", Start: 2.2, End: 2.8},
			{Word: "practice.", Start: 2.8, End: 3.5},
			{Word: "Today", Start: 3.8, End: 4.2},
			{Word: "we", Start: 4.2, End: 4.4},
			{Word: "will", Start: 4.4, End: 4.7},
			{Word: "learn", Start: 4.7, End: 5.1},
			{Word: "about", Start: 5.1, End: 5.4},
			{Word: "pronunciation.", Start: 5.4, End: 6.2},
		},
		Language: "en",
	})
}

func (s *Server) sizeLimitMessage(size int64) string {
	limitMB := float64(s.cfg.MaxUploadBytes) / (1024 * 1024)
	if size > 0 {
		return fmt.Sprintf("file size exceeds maximum limit of %.0fMB (got %.2fMB)", limitMB, float64(size)/(1024*1024))
	}
	return fmt.Sprintf("file size exceeds maximum limit of %.0fMB", limitMB)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, detail string) {
	s.writeJSON(w, status, errorResponse{Success: false, Message: message, Error: detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("could not write response body")
	}
}
