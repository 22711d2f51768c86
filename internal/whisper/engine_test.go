package whisper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

const fakeResponse = `{"ok": true, "text": "  Hello world.  ", "language": "en", "segments": [` +
	`{"id": 0, "start": 0.004, "end": 1.517, "text": " Hello world.", "words": [` +
	`{"word": " Hello", "start": 0.004, "end": 0.509}, {"word": " world.", "start": 0.509, "end": 1.517}]}, ` +
	`{"id": 1, "start": 2.0, "end": 3.0, "text": " [music]", "words": []}]}`

// fakeWorker writes a shell script that speaks the worker protocol and
// records each start in countFile. The handle runs it in place of python.
func fakeWorker(t *testing.T, countFile string) *Handle {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		"echo started >> " + countFile + "\n" +
		`echo '{"ready": true, "model": "base"}'` + "\n" +
		"while read line; do\n" +
		"  echo '" + fakeResponse + "'\n" +
		"done\n"
	bin := filepath.Join(dir, "fake_worker")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	h := NewHandle(Config{PythonBin: bin, Model: "base"}, nil)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestTranscribe_FlattensTrimsAndRounds(t *testing.T) {
	h := fakeWorker(t, filepath.Join(t.TempDir(), "count"))

	res, err := h.Transcribe(context.Background(), "speech.wav", "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if res.Text != "Hello world." {
		t.Errorf("text not trimmed: %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("language = %q", res.Language)
	}
	if len(res.Words) != 2 {
		t.Fatalf("expected 2 words (segment without words contributes none), got %d", len(res.Words))
	}
	w := res.Words[0]
	if w.Word != "Hello" {
		t.Errorf("word not trimmed: %q", w.Word)
	}
	if w.Start != 0.0 || w.End != 0.51 {
		t.Errorf("timestamps not rounded to 2dp: start=%v end=%v", w.Start, w.End)
	}
	if res.Words[1].Start != 0.51 || res.Words[1].End != 1.52 {
		t.Errorf("second word timestamps: %+v", res.Words[1])
	}
	if len(res.Segments) != 2 {
		t.Errorf("raw segments should be preserved, got %d", len(res.Segments))
	}
}

func TestTranscribe_WordInvariants(t *testing.T) {
	h := fakeWorker(t, filepath.Join(t.TempDir(), "count"))
	res, err := h.Transcribe(context.Background(), "speech.wav", "en")
	if err != nil {
		t.Fatal(err)
	}
	prev := 0.0
	for _, w := range res.Words {
		if w.Start < 0 || w.End < 0 {
			t.Errorf("negative timestamp in %+v", w)
		}
		if w.Start > w.End {
			t.Errorf("start > end in %+v", w)
		}
		if w.Start < prev {
			t.Errorf("words not ordered by start: %+v after %v", w, prev)
		}
		prev = w.Start
	}
}

func TestTranscribe_LoadsModelOnce(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	h := fakeWorker(t, countFile)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Transcribe(context.Background(), "speech.wav", "en"); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(countFile)
	if err != nil {
		t.Fatalf("count file: %v", err)
	}
	if starts := strings.Count(string(data), "started"); starts != 1 {
		t.Errorf("worker started %d times, want 1", starts)
	}
}

func TestTranscribe_EngineFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		`echo '{"ready": true, "model": "base"}'` + "\n" +
		"while read line; do\n" +
		`  echo '{"ok": false, "error": "Failed to load audio: corrupt stream"}'` + "\n" +
		"done\n"
	bin := filepath.Join(dir, "fake_worker")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	h := NewHandle(Config{PythonBin: bin}, nil)
	defer h.Close()

	_, err := h.Transcribe(context.Background(), "bad.wav", "en")
	if err == nil {
		t.Fatal("expected engine failure")
	}
	var we *Error
	if !errors.As(err, &we) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(we.Msg, "corrupt stream") {
		t.Errorf("underlying message not carried: %v", we)
	}
}

func TestTranscribe_ModelLoadFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		`echo '{"ready": false, "error": "model load failed: no such model"}'` + "\n"
	bin := filepath.Join(dir, "fake_worker")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	h := NewHandle(Config{PythonBin: bin}, nil)
	defer h.Close()

	_, err := h.Transcribe(context.Background(), "speech.wav", "en")
	if err == nil {
		t.Fatal("expected load failure")
	}
	if !strings.Contains(err.Error(), "no such model") {
		t.Errorf("load error not surfaced: %v", err)
	}
	if h.Health() != "not_loaded" {
		t.Errorf("failed load should leave handle not_loaded, got %s", h.Health())
	}
}

func TestTranscribe_ContextExpiryKillsWorker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	// Worker that never answers requests. exec so the sleep is the
	// process the handle kills, not an orphan holding the pipes open.
	script := "#!/bin/sh\n" +
		`echo '{"ready": true, "model": "base"}'` + "\n" +
		"exec sleep 60\n"
	bin := filepath.Join(dir, "fake_worker")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	h := NewHandle(Config{PythonBin: bin}, nil)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := h.Transcribe(ctx, "speech.wav", "en")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if h.Health() != "not_loaded" {
		t.Errorf("worker should be torn down after timeout, got %s", h.Health())
	}
}

func TestHealth_BeforeFirstUse(t *testing.T) {
	h := NewHandle(Config{}, nil)
	if h.Health() != "not_loaded" {
		t.Errorf("Health before first use = %q", h.Health())
	}
}
