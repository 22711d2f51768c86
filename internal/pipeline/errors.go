package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies which part of a pipeline run failed, so callers can
// branch on failure kind without inspecting message text.
type Stage string

const (
	StagePersist    Stage = "persist"
	StageTranscode  Stage = "transcode"
	StageTranscribe Stage = "transcribe"
	StageTimeout    Stage = "timeout"
)

// Error is a failed pipeline run tagged with the stage that caused it.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StageOf returns the failing stage of err, or "" when err is not a
// pipeline error.
func StageOf(err error) Stage {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
