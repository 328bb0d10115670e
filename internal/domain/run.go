package domain

import (
	"io"
	"time"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunPolling   RunStatus = "polling"
	RunFinishing RunStatus = "finishing"
	RunDone      RunStatus = "done"
	RunFailed    RunStatus = "failed"
)

type RunKind string

const (
	RunConvert RunKind = "convert"
	RunViewer  RunKind = "viewer"
)

// Run is the journal entry of one workflow execution. It is an audit record:
// nothing reads it back to resume work.
type Run struct {
	ID     string    `json:"id"`
	Kind   RunKind   `json:"kind"`
	Status RunStatus `json:"status"`

	SourceName string `json:"source_name"`
	OutputName string `json:"output_name,omitempty"`
	Bucket     string `json:"bucket"`
	URN        string `json:"urn,omitempty"`
	WorkItemID string `json:"work_item_id,omitempty"`

	TranslationStatus string `json:"translation_status,omitempty"`
	WorkItemStatus    string `json:"work_item_status,omitempty"`

	OutputPath string `json:"output_path,omitempty"`
	OutputSize int64  `json:"output_size,omitempty"`
	PageCount  int    `json:"page_count,omitempty"`

	// meta
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Error     string    `json:"error,omitempty"`
}

// Artifact is an opened output file. The caller closes Content.
type Artifact struct {
	Name    string
	Size    int64
	Content io.ReadCloser
}

type CreateRunParams struct {
	Kind       RunKind
	SourceName string
	OutputName string
	Bucket     string

	TTL time.Duration
}

type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventTrackTerminal EventType = "track.terminal"
	EventRunFinished   EventType = "run.finished"
)

type Event struct {
	Type   EventType `json:"type"`
	RunID  string    `json:"run_id"`
	Track  string    `json:"track,omitempty"`
	Status string    `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// RunUpdate lists the fields to change on a run. Zero values are left as
// they are.
type RunUpdate struct {
	Status            RunStatus
	URN               string
	WorkItemID        string
	TranslationStatus string
	WorkItemStatus    string
	OutputPath        string
	OutputSize        int64
	PageCount         int
	Error             string
}
