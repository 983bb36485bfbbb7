package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/pkg/cleaning"
	"github.com/3leaps/cleanstep/pkg/output"
	"github.com/3leaps/cleanstep/pkg/provider"
	"github.com/3leaps/cleanstep/pkg/registry"
	"github.com/3leaps/cleanstep/pkg/table"
	"github.com/3leaps/cleanstep/pkg/tracking"
)

// exitFailure is the generic failure code for errors with no better class.
const exitFailure = 1

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitWithCode logs err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger != nil {
		logger.Error(message, zap.Int("exit_code", code), zap.Error(err))
		_ = logger.Sync()
	}
	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(code)
}

// classifyExitCode maps domain errors onto foundry exit codes.
func classifyExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errors.Is(err, tracking.ErrArtifactNotFound), errors.Is(err, registry.ErrNotFound):
		return foundry.ExitFileNotFound
	case errors.Is(err, tracking.ErrInvalidRef),
		errors.Is(err, table.ErrParse),
		errors.Is(err, table.ErrMissingColumn),
		errors.Is(err, table.ErrNotNumeric),
		errors.Is(err, cleaning.ErrDateCoercion):
		return foundry.ExitInvalidArgument
	case errors.Is(err, tracking.ErrUpload),
		errors.Is(err, tracking.ErrDigestMismatch),
		provider.IsRetryable(err),
		provider.IsAuth(err),
		errors.Is(err, provider.ErrBucketNotFound):
		return foundry.ExitExternalServiceUnavailable
	default:
		return exitFailure
	}
}

// classifyErrorCode maps domain errors onto JSONL error codes.
func classifyErrorCode(err error) string {
	switch {
	case errors.Is(err, tracking.ErrArtifactNotFound), errors.Is(err, registry.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, table.ErrParse),
		errors.Is(err, table.ErrMissingColumn),
		errors.Is(err, table.ErrNotNumeric):
		return output.ErrCodeParse
	case errors.Is(err, cleaning.ErrDateCoercion):
		return output.ErrCodeDateCoercion
	case errors.Is(err, tracking.ErrUpload):
		return output.ErrCodeUpload
	default:
		return output.ErrCodeInternal
	}
}
