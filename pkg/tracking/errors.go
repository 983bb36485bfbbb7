package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrArtifactNotFound indicates a reference resolved to no version, or
	// the version's payload is missing from the blob store.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrUpload indicates an artifact could not be uploaded or registered.
	ErrUpload = errors.New("artifact upload failed")

	// ErrDigestMismatch indicates a downloaded payload does not match the
	// digest recorded at registration.
	ErrDigestMismatch = errors.New("artifact digest mismatch")

	// ErrRunFinished indicates an operation on a run that was already closed.
	ErrRunFinished = errors.New("run already finished")

	// ErrInvalidRef indicates a malformed artifact reference.
	ErrInvalidRef = errors.New("invalid artifact reference")
)

// Error records the tracking operation and reference that failed.
type Error struct {
	Op  string
	Ref string
	Err error
}

func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
