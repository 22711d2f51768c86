package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/echoscribe/internal/config"
	"github.com/tiroq/echoscribe/internal/pipeline"
	"github.com/tiroq/echoscribe/internal/storage"
	"github.com/tiroq/echoscribe/testutil"
)

type stubEngine string

func (s stubEngine) Health() string { return string(s) }

type fixture struct {
	server    *Server
	cfg       *config.Config
	converter *testutil.FakeConverter
	engine    *testutil.FakeEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		ListenAddr:        ":0",
		MediaRoot:         filepath.Join(root, "media"),
		MediaURLPrefix:    "/media/",
		TranscriptDir:     filepath.Join(root, "transcripts"),
		DefaultLanguage:   "en",
		WhisperModel:      "base",
		MaxUploadBytes:    50 * 1024 * 1024,
		AllowedExtensions: []string{".mp3", ".wav", ".m4a", ".wma", ".aac", ".ogg", ".flac", ".webm"},
	}
	require.NoError(t, cfg.Validate())

	store, err := storage.NewStore(cfg.AudioDir())
	require.NoError(t, err)

	converter := &testutil.FakeConverter{}
	engine := testutil.NewFakeEngine()
	_, log := testutil.NewLogCapture()

	proc := pipeline.New(pipeline.Config{
		MediaURLPrefix:  cfg.MediaURLPrefix,
		TranscriptDir:   cfg.TranscriptDir,
		DefaultLanguage: cfg.DefaultLanguage,
	}, store, converter, engine, nil, log)

	server := NewServer(cfg, proc, stubEngine("loaded"), NewHub(log), log)
	return &fixture{server: server, cfg: cfg, converter: converter, engine: engine}
}

// multipartUpload builds a multipart body with an "audio" field.
func multipartUpload(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doUpload(t *testing.T, f *fixture, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, filename, data)
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestTranscribe_WavSuccess(t *testing.T) {
	f := newFixture(t)
	rr := doUpload(t, f, "speech.wav", []byte("RIFF fake wav"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[transcribeResponse](t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, "speech.wav", resp.Filename)
	assert.True(t, strings.HasSuffix(resp.AudioURL, "speech.wav"), "audio_url = %q", resp.AudioURL)
	assert.Equal(t, "Hello world.", resp.Text)
	assert.Len(t, resp.Words, 2)
	assert.Equal(t, "en", resp.Language)
}

func TestTranscribe_WmaConverted(t *testing.T) {
	f := newFixture(t)
	rr := doUpload(t, f, "speech.wma", []byte("wma bytes"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[transcribeResponse](t, rr)
	assert.True(t, strings.HasSuffix(resp.AudioURL, "speech.mp3"), "audio_url = %q", resp.AudioURL)
	assert.Len(t, f.converter.Calls(), 1)
}

func TestTranscribe_UnsupportedExtension(t *testing.T) {
	f := newFixture(t)
	rr := doUpload(t, f, "notes.xyz", []byte("data"))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[errorResponse](t, rr)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unsupported file format")

	// Rejected before any disk write.
	entries, err := os.ReadDir(f.cfg.AudioDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscribe_SizeLimit(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxUploadBytes = 16

	rr := doUpload(t, f, "speech.wav", bytes.Repeat([]byte("a"), 64))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[errorResponse](t, rr)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "exceeds maximum limit")

	entries, err := os.ReadDir(f.cfg.AudioDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "no disk write before validation")
}

func TestTranscribe_MissingField(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[errorResponse](t, rr)
	assert.Contains(t, resp.Error, "missing audio file field")
}

func TestTranscribe_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/transcribe/", nil)
	rr := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestTranscribe_TranscodeFailure(t *testing.T) {
	f := newFixture(t)
	f.converter.Err = errors.New("exit status 1")

	rr := doUpload(t, f, "speech.ogg", []byte("ogg"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode[errorResponse](t, rr)
	assert.False(t, resp.Success)
	assert.Equal(t, "audio conversion failed", resp.Message)
	assert.Equal(t, "transcode", resp.Error)
}

func TestTranscribe_TimeoutMapsTo504(t *testing.T) {
	f := newFixture(t)
	f.engine.Err = context.DeadlineExceeded

	rr := doUpload(t, f, "speech.wav", []byte("RIFF"))
	require.Equal(t, http.StatusGatewayTimeout, rr.Code)
	resp := decode[errorResponse](t, rr)
	assert.Equal(t, "processing timed out", resp.Message)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health/", nil)
	rr := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[map[string]string](t, rr)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "base", resp["whisper_model"])
	assert.Equal(t, "loaded", resp["engine"])
}

func TestMockTranscribe(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/test-transcribe/", nil)
	rr := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[transcribeResponse](t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, "test_audio.mp3", resp.Filename)
	assert.Len(t, resp.Words, 14)
	assert.Equal(t, "Hello", resp.Words[0].Word)
	// The mock payload has no media file behind it, so no audio_url key.
	assert.NotContains(t, rr.Body.String(), "audio_url")
}

func TestMediaServing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.AudioDir(), "abc_speech.wav"), []byte("RIFF"), 0644))

	req := httptest.NewRequest(http.MethodGet, "/media/audio/abc_speech.wav", nil)
	rr := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "RIFF", rr.Body.String())
}

func TestUploadThenFetchDeliverable(t *testing.T) {
	f := newFixture(t)
	rr := doUpload(t, f, "speech.wma", []byte("wma bytes"))
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[transcribeResponse](t, rr)

	req := httptest.NewRequest(http.MethodGet, resp.AudioURL, nil)
	fetch := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(fetch, req)
	assert.Equal(t, http.StatusOK, fetch.Code, "deliverable at audio_url should be servable")
}
