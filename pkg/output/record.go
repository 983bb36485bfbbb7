// Package output provides JSONL output for artifact, run and step records.
//
// Each line is a typed envelope that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants follow the pattern: cleanstep.<type>.v<version>
const (
	// TypeArtifact identifies artifact version records.
	TypeArtifact = "cleanstep.artifact.v1"

	// TypeRun identifies run records.
	TypeRun = "cleanstep.run.v1"

	// TypeResult identifies the summary of a completed step.
	TypeResult = "cleanstep.result.v1"

	// TypeError identifies error records.
	TypeError = "cleanstep.error.v1"
)

// Record is the decoding view of one JSONL line.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// RunID correlates records produced by one run, when there is one.
	RunID string `json:"run_id,omitempty"`

	// Backend identifies the blob store backend (e.g., "s3", "file").
	Backend string `json:"backend"`

	Data json.RawMessage `json:"data"`
}

// ArtifactRecord describes one registered artifact version.
type ArtifactRecord struct {
	Ref         string    `json:"ref"`
	ArtifactID  string    `json:"artifact_id"`
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Aliases     []string  `json:"aliases,omitempty"`
	ObjectKey   string    `json:"object_key"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedRun  string    `json:"created_run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunRecord describes a tracked run and its lineage.
type RunRecord struct {
	RunID     string           `json:"run_id"`
	JobType   string           `json:"job_type"`
	Status    string           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Error     string           `json:"error,omitempty"`
	Config    json.RawMessage  `json:"config,omitempty"`
	Inputs    []ArtifactRecord `json:"inputs,omitempty"`
	Outputs   []ArtifactRecord `json:"outputs,omitempty"`
	Events    []EventRecord    `json:"events,omitempty"`
}

// EventRecord is a stage event within a run.
type EventRecord struct {
	Stage      string    `json:"stage"`
	EventType  string    `json:"event_type"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ResultRecord summarizes a completed cleaning step.
type ResultRecord struct {
	Input        string `json:"input"`
	Output       string `json:"output"`
	InputRows    int    `json:"input_rows"`
	AfterPrice   int    `json:"after_price"`
	MissingDates int    `json:"missing_dates"`
	OutputRows   int    `json:"output_rows"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Ref is the artifact reference related to this error, if any.
	Ref string `json:"ref,omitempty"`

	// Stage is the step stage that failed, if any.
	Stage string `json:"stage,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeParse        = "PARSE"
	ErrCodeUpload       = "UPLOAD"
	ErrCodeDateCoercion = "DATE_COERCION"
	ErrCodeInternal     = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
