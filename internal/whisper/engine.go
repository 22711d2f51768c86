// Package whisper owns the process-wide transcription engine: a Whisper
// model hosted in a persistent helper process. Loading the model is the
// expensive part, so the helper is started lazily, exactly once, and every
// later call reuses it.
package whisper

import (
	"bufio"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tiroq/echoscribe/internal/transcript"
)

//go:embed assets/transcribe_worker.py
var workerScript embed.FS

// Engine turns an audio file into text with word-level timestamps. The
// language hint may be empty for auto-detection.
type Engine interface {
	Transcribe(ctx context.Context, audioPath, language string) (*Result, error)
}

// Result is the engine's output before the orchestrator assembles the full
// record: trimmed text, flattened word sequence, raw segments, detected
// language.
type Result struct {
	Text     string
	Words    []transcript.Word
	Segments []transcript.Segment
	Language string
}

// Error wraps an engine-level failure (corrupt audio, unsupported codec,
// internal fault). No partial result accompanies it.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("whisper: %s: %v", e.Msg, e.Err)
	}
	return "whisper: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures the helper process.
type Config struct {
	PythonBin string // default "python3"
	Model     string // whisper model name, e.g. "base"
}

// Handle is the single long-lived engine instance. Construction of the
// underlying helper is guarded so two simultaneous first callers never
// load the model twice; a failed start may be retried by a later call.
type Handle struct {
	cfg Config
	log *logrus.Entry

	mu      sync.Mutex // guards start and the stdio exchange
	started bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	script  string
}

// NewHandle creates an engine handle. The model is not loaded until the
// first Transcribe call.
func NewHandle(cfg Config, log *logrus.Entry) *Handle {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	return &Handle{cfg: cfg, log: log}
}

type workerReady struct {
	Ready bool   `json:"ready"`
	Model string `json:"model"`
	Error string `json:"error"`
}

type workerResponse struct {
	OK       bool   `json:"ok"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
	Error string `json:"error"`
}

// ensureStarted launches the helper and waits for its ready line. Caller
// holds h.mu.
func (h *Handle) ensureStarted() error {
	if h.started {
		return nil
	}

	if h.script == "" {
		data, err := workerScript.ReadFile("assets/transcribe_worker.py")
		if err != nil {
			return &Error{Msg: "read embedded worker", Err: err}
		}
		path := filepath.Join(os.TempDir(), "echoscribe_transcribe_worker.py")
		if err := os.WriteFile(path, data, 0o755); err != nil {
			return &Error{Msg: "write worker script", Err: err}
		}
		h.script = path
	}

	cmd := exec.Command(h.cfg.PythonBin, h.script, h.cfg.Model)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Error{Msg: "open worker stdin", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Msg: "open worker stdout", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &Error{Msg: "start worker", Err: err}
	}

	reader := bufio.NewReader(stdout)
	if h.log != nil {
		h.log.WithField("model", h.cfg.Model).Info("loading whisper model")
	}

	// Blocks for the duration of the model load.
	line, err := reader.ReadString('\n')
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return &Error{Msg: "worker exited before ready", Err: err}
	}
	var ready workerReady
	if err := json.Unmarshal([]byte(line), &ready); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return &Error{Msg: "parse worker ready line", Err: err}
	}
	if !ready.Ready {
		cmd.Process.Kill()
		cmd.Wait()
		return &Error{Msg: ready.Error}
	}

	h.cmd = cmd
	h.stdin = stdin
	h.stdout = reader
	h.started = true
	if h.log != nil {
		h.log.WithField("model", h.cfg.Model).Info("whisper model loaded")
	}
	return nil
}

// Transcribe sends one request to the helper and parses the response. The
// first call loads the model; subsequent calls reuse it. Concurrent calls
// are safe and serialized by the handle. When ctx expires mid-request the
// helper is killed and restarted lazily on the next call, and the context
// error is returned.
func (h *Handle) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureStarted(); err != nil {
		return nil, err
	}

	req, err := json.Marshal(map[string]string{
		"audio":    audioPath,
		"language": language,
	})
	if err != nil {
		return nil, &Error{Msg: "encode request", Err: err}
	}
	req = append(req, '\n')

	type outcome struct {
		line string
		err  error
	}
	// Capture the pipes: a timeout tears down the handle's fields while
	// the exchange goroutine may still be running.
	stdin, stdout := h.stdin, h.stdout
	done := make(chan outcome, 1)
	go func() {
		if _, err := stdin.Write(req); err != nil {
			done <- outcome{err: err}
			return
		}
		line, err := stdout.ReadString('\n')
		done <- outcome{line: line, err: err}
	}()

	var line string
	select {
	case <-ctx.Done():
		// The worker is mid-job; kill it so the next call gets a clean
		// restart instead of a desynchronized stream.
		h.shutdownLocked()
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			h.shutdownLocked()
			return nil, &Error{Msg: "worker exchange failed", Err: o.err}
		}
		line = o.line
	}

	var resp workerResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, &Error{Msg: "parse worker response", Err: err}
	}
	if !resp.OK {
		return nil, &Error{Msg: resp.Error}
	}

	res := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
	}
	for _, seg := range resp.Segments {
		res.Segments = append(res.Segments, transcript.Segment{
			ID:    seg.ID,
			Start: round2(seg.Start),
			End:   round2(seg.End),
			Text:  seg.Text,
		})
		// Segments without word-level data contribute no words.
		for _, w := range seg.Words {
			res.Words = append(res.Words, transcript.Word{
				Word:  strings.TrimSpace(w.Word),
				Start: round2(w.Start),
				End:   round2(w.End),
			})
		}
	}
	return res, nil
}

// Health reports whether the engine helper has been loaded yet.
func (h *Handle) Health() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return "loaded"
	}
	return "not_loaded"
}

// Close terminates the helper process if it was started.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownLocked()
	return nil
}

// shutdownLocked kills the helper and resets state so a later call can
// start fresh. Caller holds h.mu.
func (h *Handle) shutdownLocked() {
	if !h.started {
		return
	}
	h.stdin.Close()
	h.cmd.Process.Kill()
	h.cmd.Wait()
	h.started = false
	h.cmd = nil
	h.stdin = nil
	h.stdout = nil
}

// round2 rounds seconds to two decimal places and clamps tiny negative
// engine jitter to zero.
func round2(seconds float64) float64 {
	if seconds < 0 {
		return 0
	}
	return math.Round(seconds*100) / 100
}
