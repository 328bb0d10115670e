package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSourceNotFound       = errors.New("source file not found")
	ErrMissingCredentials   = errors.New("CLIENT_ID and CLIENT_SECRET must be set")
	ErrJobFailed            = errors.New("cloud job failed")
	ErrFinalizePrecondition = errors.New("cannot finalize output: work item did not succeed")
	ErrMissingUploadStats   = errors.New("work item reported no uploaded byte count")
	ErrPollTimeout          = errors.New("poll budget exhausted")
	ErrRunNotFound          = errors.New("run not found")
	ErrRunNotReady          = errors.New("run has no downloadable artifact")
	ErrArtifactNotFound     = errors.New("artifact not found")
)

// TrackFailure describes one job that reached a failed terminal state.
type TrackFailure struct {
	Track  string
	Status string
}

// JobFailedError is returned once every track is terminal and at least one
// of them failed.
type JobFailedError struct {
	Failures []TrackFailure
}

func (e *JobFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Track, f.Status))
	}
	return fmt.Sprintf("%s: %s", ErrJobFailed, strings.Join(parts, ", "))
}

func (e *JobFailedError) Unwrap() error { return ErrJobFailed }
