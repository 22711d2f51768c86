// Package testutil provides fakes for the pipeline's external
// collaborators so tests never need ffmpeg or a whisper model.
package testutil

import (
	"context"
	"os"
	"sync"

	"github.com/tiroq/echoscribe/internal/transcript"
	"github.com/tiroq/echoscribe/internal/whisper"
)

// FakeConverter implements transcode.Converter. Unless Err is set it
// writes a small file at outputPath, mimicking ffmpeg producing output.
type FakeConverter struct {
	Err error

	mu    sync.Mutex
	calls []ConvertCall
}

// ConvertCall records one Convert invocation.
type ConvertCall struct {
	Input  string
	Output string
}

func (f *FakeConverter) Convert(ctx context.Context, inputPath, outputPath string) error {
	f.mu.Lock()
	f.calls = append(f.calls, ConvertCall{Input: inputPath, Output: outputPath})
	f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("ID3 fake mp3"), 0644)
}

// Calls returns the recorded invocations.
func (f *FakeConverter) Calls() []ConvertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ConvertCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// FakeEngine implements whisper.Engine, returning a canned result.
type FakeEngine struct {
	Result *whisper.Result
	Err    error

	mu    sync.Mutex
	paths []string
}

// NewFakeEngine returns an engine producing a two-word transcript.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Result: &whisper.Result{
			Text:     "Hello world.",
			Language: "en",
			Words: []transcript.Word{
				{Word: "Hello", Start: 0, End: 0.5},
				{Word: "world.", Start: 0.5, End: 1.1},
			},
			Segments: []transcript.Segment{
				{ID: 0, Start: 0, End: 1.1, Text: " Hello world."},
			},
		},
	}
}

func (f *FakeEngine) Transcribe(ctx context.Context, audioPath, language string) (*whisper.Result, error) {
	f.mu.Lock()
	f.paths = append(f.paths, audioPath)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}

// Paths returns every audio path the engine was asked to transcribe.
func (f *FakeEngine) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.paths))
	copy(out, f.paths)
	return out
}
