package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, raw string) []Record {
	t.Helper()
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line %q", line)
		out = append(out, rec)
	}
	return out
}

func TestStream_EmitArtifact(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, "file")
	fixed := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	err := s.Emit(context.Background(), &ArtifactRecord{
		Ref:        "clean_sample.csv:v2",
		ArtifactID: "a-1",
		Name:       "clean_sample.csv",
		Version:    2,
		Type:       "clean_sample",
		Aliases:    []string{"latest"},
		ObjectKey:  "artifacts/clean_sample.csv/a-1/clean_sample.csv",
		Size:       1024,
		SHA256:     "abc",
		CreatedAt:  fixed,
	})
	require.NoError(t, err)

	recs := decodeLines(t, buf.String())
	require.Len(t, recs, 1)
	assert.Equal(t, TypeArtifact, recs[0].Type)
	assert.Equal(t, "file", recs[0].Backend)
	assert.Equal(t, fixed, recs[0].TS)
	assert.Empty(t, recs[0].RunID)
	assert.NotContains(t, buf.String(), `"run_id"`)

	var data ArtifactRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &data))
	assert.Equal(t, "clean_sample.csv:v2", data.Ref)
	assert.Equal(t, []string{"latest"}, data.Aliases)
}

func TestStream_ForRunSharesDestination(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, "s3")
	ctx := context.Background()

	run := s.ForRun("run-1")
	require.NoError(t, run.Emit(ctx, &RunRecord{
		RunID:   "run-1",
		JobType: "basic_cleaning",
		Status:  "success",
		Config:  json.RawMessage(`{"min_price":10}`),
		Events:  []EventRecord{{Stage: "fetch", EventType: "stage_started"}},
	}))
	require.NoError(t, s.Emit(ctx, &ResultRecord{Input: "sample.csv:latest", Output: "clean_sample.csv:v1", InputRows: 10, OutputRows: 7}))

	recs := decodeLines(t, buf.String())
	require.Len(t, recs, 2)
	assert.Equal(t, TypeRun, recs[0].Type)
	assert.Equal(t, "run-1", recs[0].RunID)
	assert.Equal(t, TypeResult, recs[1].Type)
	assert.Empty(t, recs[1].RunID)

	var r RunRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &r))
	assert.JSONEq(t, `{"min_price":10}`, string(r.Config))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, run.Emit(ctx, &RunRecord{RunID: "run-1"}), ErrWriterClosed)
}

func TestStream_EmitError(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, "s3").ForRun("run-1")

	require.NoError(t, s.Emit(context.Background(), &ErrorRecord{
		Code:    ErrCodeNotFound,
		Message: "artifact not found: <sample.csv:v9>",
		Ref:     "sample.csv:v9",
		Stage:   "fetch",
	}))
	assert.Contains(t, buf.String(), "<sample.csv:v9>")

	recs := decodeLines(t, buf.String())
	assert.Equal(t, TypeError, recs[0].Type)
	var data ErrorRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &data))
	assert.Equal(t, "fetch", data.Stage)
}

func TestStream_ConcurrentEmits(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, "s3")

	const writers, perWriter = 10, 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			view := s.ForRun("run")
			for j := 0; j < perWriter; j++ {
				_ = view.Emit(context.Background(), &ArtifactRecord{Name: "a.csv", Version: id*perWriter + j})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, buf.String()), writers*perWriter)
}

func TestStream_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, "s3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Emit(ctx, &ResultRecord{}), context.Canceled)
	assert.Empty(t, buf.String())
}

type failingWriter struct{ err error }

func (f *failingWriter) Write([]byte) (int, error) { return 0, f.err }

// trickleWriter accepts at most n bytes per call.
type trickleWriter struct {
	buf bytes.Buffer
	n   int
}

func (tw *trickleWriter) Write(p []byte) (int, error) {
	if len(p) > tw.n {
		p = p[:tw.n]
	}
	return tw.buf.Write(p)
}

type stalledWriter struct{}

func (stalledWriter) Write([]byte) (int, error) { return 0, nil }

func TestStream_WriteFailures(t *testing.T) {
	ctx := context.Background()
	rec := &ArtifactRecord{Ref: "sample.csv:v1", Size: 1 << 20}

	err := NewStream(&failingWriter{err: errors.New("disk full")}, "s3").Emit(ctx, rec)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "write", werr.Op)

	assert.ErrorIs(t, NewStream(stalledWriter{}, "s3").Emit(ctx, rec), io.ErrShortWrite)

	tw := &trickleWriter{n: 7}
	require.NoError(t, NewStream(tw, "s3").Emit(ctx, rec))
	assert.Len(t, decodeLines(t, tw.buf.String()), 1)
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "encode", Err: underlying}

	assert.Equal(t, "output: encode: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	b, err := json.Marshal(&ErrorRecord{Code: ErrCodeInternal, Message: "boom"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "ref")
	assert.NotContains(t, string(b), "stage")
}
