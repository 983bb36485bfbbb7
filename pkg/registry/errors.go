package registry

import "errors"

var (
	// ErrNotFound indicates the run, artifact version or alias does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRunFinished indicates a run was already finalized.
	ErrRunFinished = errors.New("run already finished")

	// ErrVersionConflict indicates a concurrent writer claimed the same version.
	ErrVersionConflict = errors.New("artifact version conflict")
)
