package cmd

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cleanstep/pkg/cleaning"
	"github.com/3leaps/cleanstep/pkg/output"
	"github.com/3leaps/cleanstep/pkg/provider"
	"github.com/3leaps/cleanstep/pkg/table"
	"github.com/3leaps/cleanstep/pkg/tracking"
)

func TestExitError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
		err     error
		want    string
	}{
		{name: "basic error", code: 1, message: "Something failed", err: assert.AnError, want: "Something failed"},
		{name: "includes exit code", code: 32, message: "Auth failed", err: assert.AnError, want: "exit code 32"},
		{name: "nil cause", code: 1, message: "Diagnostics failed", want: "Diagnostics failed (exit code 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitError(tt.code, tt.message, tt.err)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want))
		})
	}

	err := exitError(foundry.ExitFileNotFound, "wrapped", tracking.ErrArtifactNotFound)
	assert.ErrorIs(t, err, tracking.ErrArtifactNotFound)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantExit int
		wantCode string
	}{
		{
			name:     "artifact not found",
			err:      fmt.Errorf("fetch: %w", &tracking.Error{Op: "resolve", Ref: "x:latest", Err: tracking.ErrArtifactNotFound}),
			wantExit: foundry.ExitFileNotFound,
			wantCode: output.ErrCodeNotFound,
		},
		{
			name:     "parse failure",
			err:      fmt.Errorf("load: %w", &table.ParseError{Line: 3, Err: table.ErrParse}),
			wantExit: foundry.ExitInvalidArgument,
			wantCode: output.ErrCodeParse,
		},
		{
			name:     "date coercion",
			err:      fmt.Errorf("clean: %w", &cleaning.DateCoercionError{Column: "last_review", Line: 2, Value: "soon"}),
			wantExit: foundry.ExitInvalidArgument,
			wantCode: output.ErrCodeDateCoercion,
		},
		{
			name:     "upload failure",
			err:      fmt.Errorf("publish: %w", fmt.Errorf("%w: %w", tracking.ErrUpload, assert.AnError)),
			wantExit: foundry.ExitExternalServiceUnavailable,
			wantCode: output.ErrCodeUpload,
		},
		{
			name:     "throttled store",
			err:      &provider.StoreError{Op: "Open", Backend: provider.KindS3, Err: provider.ErrThrottled},
			wantExit: foundry.ExitExternalServiceUnavailable,
			wantCode: output.ErrCodeInternal,
		},
		{
			name:     "cancelled",
			err:      fmt.Errorf("fetch: %w", context.Canceled),
			wantExit: foundry.ExitSignalInt,
			wantCode: output.ErrCodeInternal,
		},
		{
			name:     "unclassified",
			err:      assert.AnError,
			wantExit: exitFailure,
			wantCode: output.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantExit, classifyExitCode(tt.err))
			assert.Equal(t, tt.wantCode, classifyErrorCode(tt.err))
		})
	}

	assert.Equal(t, 0, classifyExitCode(nil))
}
