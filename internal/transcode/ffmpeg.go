// Package transcode wraps the external ffmpeg executable used to re-encode
// uploaded audio into the canonical deliverable format.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Converter re-encodes inputPath into outputPath. Implementations must
// overwrite an existing output and must never delete the input; the caller
// owns input lifecycle.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// Error is a failed conversion. Output captures ffmpeg's stderr so the
// failure can be diagnosed server-side without re-running the command.
type Error struct {
	Cmd    string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("transcode: %s failed: %v: %s", e.Cmd, e.Err, e.Output)
	}
	return fmt.Sprintf("transcode: %s failed: %v", e.Cmd, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FFmpeg invokes the ffmpeg binary as a child process.
type FFmpeg struct {
	// Binary is the executable to run. Empty means "ffmpeg" on PATH.
	Binary string
	// SampleRate of the output stream in Hz.
	SampleRate int
	// Bitrate is the constant output bitrate, e.g. "128k". CBR keeps
	// byte-to-time seeking predictable in browsers.
	Bitrate string

	Log *logrus.Entry
}

// NewFFmpeg returns an adapter producing 44.1kHz CBR 128k output, matching
// the service's canonical MP3 deliverable.
func NewFFmpeg(log *logrus.Entry) *FFmpeg {
	return &FFmpeg{
		Binary:     "ffmpeg",
		SampleRate: 44100,
		Bitrate:    "128k",
		Log:        log,
	}
}

// Convert re-encodes inputPath into outputPath. The command regenerates
// presentation timestamps, shifts negative timestamps to zero, and strips
// all container metadata so repeated conversions of the same input are
// byte-for-byte deterministic in their encoding parameters. Success is
// judged on exit status alone.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string) error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-fflags", "+genpts",
		"-avoid_negative_ts", "make_zero",
		"-map_metadata", "-1",
		"-i", inputPath,
		"-c:a", "libmp3lame",
		"-b:a", f.Bitrate,
		"-ar", fmt.Sprintf("%d", f.SampleRate),
		"-y", outputPath,
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Prefer the context error so a deadline kill is reported as a
		// timeout rather than "signal: killed".
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &Error{
			Cmd:    bin,
			Output: truncate(strings.TrimSpace(stderr.String()), 2048),
			Err:    err,
		}
	}

	if f.Log != nil {
		f.Log.WithFields(logrus.Fields{
			"input":  inputPath,
			"output": outputPath,
		}).Debug("ffmpeg conversion complete")
	}
	return nil
}

// IsTimeout reports whether err is a conversion that hit its deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
