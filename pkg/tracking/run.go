package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/3leaps/cleanstep/pkg/registry"
	"github.com/3leaps/cleanstep/pkg/rundir"
)

// Stage event types recorded against a run.
const (
	StageStarted   = registry.EventTypeStageStarted
	StageCompleted = registry.EventTypeStageCompleted
	StageFailed    = registry.EventTypeStageFailed
)

// Service is the tracking surface a pipeline step depends on.
type Service interface {
	CreateRun(ctx context.Context, jobType string) (*Run, error)
	AttachConfig(ctx context.Context, run *Run, cfg any) error
	LogStage(ctx context.Context, run *Run, stage, eventType, detail string) error
	UseArtifact(ctx context.Context, run *Run, ref string) (string, error)
	LogArtifact(ctx context.Context, run *Run, a *Artifact) (*Version, error)
	Finish(ctx context.Context, run *Run, cause error) error
}

// Run is one tracked execution. It is passed explicitly to every stage.
type Run struct {
	ID        string
	JobType   string
	StartedAt time.Time

	mu       sync.Mutex
	config   any
	finished bool
	inputs   []rundir.ArtifactRef
	outputs  []rundir.ArtifactRef
}

// NewRun builds a run handle. Services call this when a run is created.
func NewRun(id, jobType string, startedAt time.Time) *Run {
	return &Run{ID: id, JobType: jobType, StartedAt: startedAt}
}

// Config returns the attached configuration record.
func (r *Run) Config() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// Finished reports whether the run has been closed.
func (r *Run) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Inputs returns the artifact versions the run used.
func (r *Run) Inputs() []rundir.ArtifactRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rundir.ArtifactRef(nil), r.inputs...)
}

// Outputs returns the artifact versions the run logged.
func (r *Run) Outputs() []rundir.ArtifactRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rundir.ArtifactRef(nil), r.outputs...)
}

// SetConfig records the configuration on the handle.
func (r *Run) SetConfig(cfg any) {
	r.mu.Lock()
	r.config = cfg
	r.mu.Unlock()
}

// AddInput appends a used artifact version.
func (r *Run) AddInput(ref rundir.ArtifactRef) {
	r.mu.Lock()
	r.inputs = append(r.inputs, ref)
	r.mu.Unlock()
}

// AddOutput appends a logged artifact version.
func (r *Run) AddOutput(ref rundir.ArtifactRef) {
	r.mu.Lock()
	r.outputs = append(r.outputs, ref)
	r.mu.Unlock()
}

// CheckOpen returns ErrRunFinished once the run has been closed.
func (r *Run) CheckOpen() error {
	if r.Finished() {
		return ErrRunFinished
	}
	return nil
}

// MarkFinished closes the run. It returns false if it was already closed.
func (r *Run) MarkFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return false
	}
	r.finished = true
	return true
}

func (r *Run) record(state rundir.State) *rundir.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &rundir.Record{
		RunID:     r.ID,
		JobType:   r.JobType,
		State:     state,
		CreatedAt: r.StartedAt,
		Inputs:    append([]rundir.ArtifactRef(nil), r.inputs...),
		Outputs:   append([]rundir.ArtifactRef(nil), r.outputs...),
	}
}

func artifactRef(v Version) rundir.ArtifactRef {
	return rundir.ArtifactRef{Ref: v.Ref(), ArtifactID: v.ArtifactID, Type: v.Type, SHA256: v.SHA256}
}
