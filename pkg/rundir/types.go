package rundir

import "time"

// State is the lifecycle state recorded in run.json.
//
// NOTE: These values are persisted and are part of the on-disk contract.
type State string

const (
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
	StateUnknown State = "unknown"
)

// ArtifactRef is a shallow summary of an artifact version touched by a run.
type ArtifactRef struct {
	Ref        string `json:"ref"`
	ArtifactID string `json:"artifact_id"`
	Type       string `json:"type,omitempty"`
	SHA256     string `json:"sha256,omitempty"`
}

// Record is the persistent record written to run.json.
//
// Fields are additive; readers ignore what they do not know.
type Record struct {
	RunID     string    `json:"run_id"`
	JobType   string    `json:"job_type"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	EndedAt *time.Time    `json:"ended_at,omitempty"`
	Error   string        `json:"error,omitempty"`
	Inputs  []ArtifactRef `json:"inputs,omitempty"`
	Outputs []ArtifactRef `json:"outputs,omitempty"`
}
