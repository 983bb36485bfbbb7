package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Payload is a record body. Each payload type carries a fixed envelope type.
type Payload interface {
	RecordType() string
}

func (*ArtifactRecord) RecordType() string { return TypeArtifact }
func (*RunRecord) RecordType() string      { return TypeRun }
func (*ResultRecord) RecordType() string   { return TypeResult }
func (*ErrorRecord) RecordType() string    { return TypeError }

// envelope is the encoding-side twin of Record; Data is marshalled in the
// same pass as the envelope.
type envelope struct {
	Type    string    `json:"type"`
	TS      time.Time `json:"ts"`
	RunID   string    `json:"run_id,omitempty"`
	Backend string    `json:"backend"`
	Data    Payload   `json:"data"`
}

// sink is the destination shared by a Stream and its run-scoped views.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// Stream writes one JSON envelope per line. It is safe for concurrent use
// and lines never interleave.
type Stream struct {
	sink    *sink
	backend string
	runID   string
	now     func() time.Time
}

// NewStream writes envelopes tagged with backend to w.
func NewStream(w io.Writer, backend string) *Stream {
	return &Stream{
		sink:    &sink{w: w},
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ForRun returns a view of s that stamps runID on every envelope. The view
// shares the destination and the closed state with s.
func (s *Stream) ForRun(runID string) *Stream {
	view := *s
	view.runID = runID
	return &view
}

// Emit writes p as a single line.
func (s *Stream) Emit(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(envelope{
		Type:    p.RecordType(),
		TS:      s.now(),
		RunID:   s.runID,
		Backend: s.backend,
		Data:    p,
	})
	if err != nil {
		return &WriteError{Op: "encode", Err: err}
	}

	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	if s.sink.closed {
		return ErrWriterClosed
	}
	if err := writeFull(s.sink.w, buf.Bytes()); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// Close stops further writes through s and all of its views. The
// underlying io.Writer is left open.
func (s *Stream) Close() error {
	s.sink.mu.Lock()
	s.sink.closed = true
	s.sink.mu.Unlock()
	return nil
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
