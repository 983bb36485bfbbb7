// Package trackingtest provides an in-memory tracking.Service for tests.
package trackingtest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/cleanstep/pkg/registry"
	"github.com/3leaps/cleanstep/pkg/rundir"
	"github.com/3leaps/cleanstep/pkg/tracking"
)

// StageEvent is a recorded LogStage call.
type StageEvent struct {
	Stage     string
	EventType string
	Detail    string
}

// RunRecord is everything the fake observed for one run.
type RunRecord struct {
	Run         *tracking.Run
	Config      any
	Stages      []StageEvent
	Status      string
	Cause       error
	FinishCalls int
}

type storedVersion struct {
	version tracking.Version
	data    []byte
}

// Service is an in-memory tracking.Service.
type Service struct {
	// Dir receives materialized artifacts. Defaults to a fresh temp dir.
	Dir string

	// UploadErr, when set, makes LogArtifact fail with ErrUpload.
	UploadErr error

	mu       sync.Mutex
	versions map[string][]storedVersion
	aliases  map[string]map[string]int
	runs     []*RunRecord
}

var _ tracking.Service = (*Service)(nil)

// New returns an empty fake rooted at dir.
func New(dir string) *Service {
	return &Service{
		Dir:      dir,
		versions: make(map[string][]storedVersion),
		aliases:  make(map[string]map[string]int),
	}
}

// Seed publishes data as a new version of name.
func (s *Service) Seed(name, typ string, data []byte) tracking.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addVersion(name, typ, "", name, data)
}

// Versions returns the versions registered under name.
func (s *Service) Versions(name string) []tracking.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tracking.Version
	for _, sv := range s.versions[name] {
		out = append(out, sv.version)
	}
	return out
}

// Payload returns the stored bytes of name:vN.
func (s *Service) Payload(name string, version int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.versions[name]
	if version < 1 || version > len(list) {
		return nil, false
	}
	return list[version-1].data, true
}

// Runs returns a snapshot of the observed runs.
func (s *Service) Runs() []*RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*RunRecord(nil), s.runs...)
}

func (s *Service) CreateRun(_ context.Context, jobType string) (*tracking.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := tracking.NewRun(uuid.NewString(), jobType, time.Now().UTC())
	s.runs = append(s.runs, &RunRecord{Run: run, Status: string(registry.RunStatusRunning)})
	return run, nil
}

func (s *Service) AttachConfig(_ context.Context, run *tracking.Run, cfg any) error {
	if err := run.CheckOpen(); err != nil {
		return &tracking.Error{Op: "attach_config", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(run)
	if err != nil {
		return err
	}
	rec.Config = cfg
	run.SetConfig(cfg)
	return nil
}

func (s *Service) LogStage(_ context.Context, run *tracking.Run, stage, eventType, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(run)
	if err != nil {
		return err
	}
	rec.Stages = append(rec.Stages, StageEvent{Stage: stage, EventType: eventType, Detail: detail})
	return nil
}

func (s *Service) UseArtifact(_ context.Context, run *tracking.Run, ref string) (string, error) {
	if err := run.CheckOpen(); err != nil {
		return "", &tracking.Error{Op: "use_artifact", Ref: ref, Err: err}
	}
	r, err := tracking.ParseRef(ref)
	if err != nil {
		return "", &tracking.Error{Op: "resolve", Ref: ref, Err: err}
	}

	s.mu.Lock()
	sv, ok := s.resolve(r)
	s.mu.Unlock()
	if !ok {
		return "", &tracking.Error{Op: "resolve", Ref: r.String(), Err: tracking.ErrArtifactNotFound}
	}

	dir, err := s.dir()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, run.ID, sv.version.ArtifactID, sv.version.FileName)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, sv.data, 0644); err != nil {
		return "", err
	}

	run.AddInput(rundir.ArtifactRef{Ref: sv.version.Ref(), ArtifactID: sv.version.ArtifactID, Type: sv.version.Type})
	return dest, nil
}

func (s *Service) LogArtifact(_ context.Context, run *tracking.Run, a *tracking.Artifact) (*tracking.Version, error) {
	if err := run.CheckOpen(); err != nil {
		return nil, &tracking.Error{Op: "log_artifact", Ref: a.Name, Err: err}
	}
	if s.UploadErr != nil {
		return nil, &tracking.Error{Op: "log_artifact", Ref: a.Name, Err: fmt.Errorf("%w: %w", tracking.ErrUpload, s.UploadErr)}
	}
	if a.File() == "" {
		return nil, &tracking.Error{Op: "log_artifact", Ref: a.Name, Err: fmt.Errorf("no file attached")}
	}
	data, err := os.ReadFile(a.File())
	if err != nil {
		return nil, &tracking.Error{Op: "log_artifact", Ref: a.Name, Err: err}
	}

	s.mu.Lock()
	v := s.addVersion(a.Name, a.Type, a.Description, filepath.Base(a.File()), data)
	s.mu.Unlock()

	run.AddOutput(rundir.ArtifactRef{Ref: v.Ref(), ArtifactID: v.ArtifactID, Type: v.Type, SHA256: v.SHA256})
	return &v, nil
}

func (s *Service) Finish(_ context.Context, run *tracking.Run, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(run)
	if err != nil {
		return err
	}
	rec.FinishCalls++
	if !run.MarkFinished() {
		return &tracking.Error{Op: "finish", Err: tracking.ErrRunFinished}
	}
	rec.Cause = cause
	rec.Status = string(registry.RunStatusSuccess)
	if cause != nil {
		rec.Status = string(registry.RunStatusFailed)
	}
	if s.Dir != "" {
		_ = os.RemoveAll(filepath.Join(s.Dir, run.ID))
	}
	return nil
}

func (s *Service) record(run *tracking.Run) (*RunRecord, error) {
	for _, rec := range s.runs {
		if rec.Run == run {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("unknown run %s", run.ID)
}

func (s *Service) resolve(r tracking.Ref) (storedVersion, bool) {
	list := s.versions[r.Name]
	n, isNumber := registry.ParseVersionSelector(r.Selector)
	if !isNumber {
		var ok bool
		n, ok = s.aliases[r.Name][r.Selector]
		if !ok {
			return storedVersion{}, false
		}
	}
	if n < 1 || n > len(list) {
		return storedVersion{}, false
	}
	return list[n-1], true
}

func (s *Service) addVersion(name, typ, description, fileName string, data []byte) tracking.Version {
	sum := sha256.Sum256(data)
	v := tracking.Version{
		ArtifactID:  uuid.NewString(),
		Name:        name,
		Version:     len(s.versions[name]) + 1,
		Type:        typ,
		Description: description,
		FileName:    fileName,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		Aliases:     []string{registry.AliasLatest},
		CreatedAt:   time.Now().UTC(),
	}
	s.versions[name] = append(s.versions[name], storedVersion{version: v, data: append([]byte(nil), data...)})
	if s.aliases[name] == nil {
		s.aliases[name] = make(map[string]int)
	}
	s.aliases[name][registry.AliasLatest] = v.Version
	return v
}

func (s *Service) dir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Dir == "" {
		d, err := os.MkdirTemp("", "trackingtest-*")
		if err != nil {
			return "", err
		}
		s.Dir = d
	}
	return s.Dir, nil
}
