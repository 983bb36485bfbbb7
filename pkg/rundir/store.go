// Package rundir manages the per-run working directory: run.json, the
// attached configuration snapshot and a scratch cache for downloaded inputs.
package rundir

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

const (
	recordFile = "run.json"
	configFile = "config.yaml"
	cacheDir   = "cache"
)

// ErrNotFound reports a run with no run.json on this host. It matches
// fs.ErrNotExist.
var ErrNotFound = fmt.Errorf("run record %w", fs.ErrNotExist)

// Store keeps one directory per run under root:
//
//	<root>/<run_id>/run.json
//	<root>/<run_id>/config.yaml
//	<root>/<run_id>/cache/
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string { return s.root }

func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// dir validates runID and returns its directory, creating it when mk is set.
func (s *Store) dir(runID string, mk bool) (string, error) {
	if s.root == "" {
		return "", errors.New("runs dir is not configured")
	}
	id := strings.TrimSpace(runID)
	switch {
	case id == "":
		return "", errors.New("run_id is required")
	case id == "." || id == ".." || strings.ContainsAny(id, `/\`):
		return "", fmt.Errorf("invalid run_id %q", runID)
	}
	d := filepath.Join(s.root, id)
	if mk {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create run dir: %w", err)
		}
	}
	return d, nil
}

// Write replaces run.json for rec.RunID atomically.
func (s *Store) Write(rec *Record) error {
	if rec == nil {
		return errors.New("run record is nil")
	}
	d, err := s.dir(rec.RunID, true)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", recordFile, err)
	}
	return replaceFile(d, recordFile, append(b, '\n'))
}

// Get loads run.json. A record left "running" by a process that no longer
// exists is downgraded to StateUnknown and written back.
func (s *Store) Get(runID string) (*Record, error) {
	d, err := s.dir(runID, false)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(d, recordFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, fmt.Errorf("%s for %s is empty", recordFile, runID)
	}

	rec := new(Record)
	if err := json.Unmarshal(b, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", recordFile, err)
	}
	if rec.State == StateRunning && rec.PID > 0 && rec.PID != os.Getpid() && !processAlive(rec.PID) {
		rec.State = StateUnknown
		_ = s.Write(rec)
	}
	return rec, nil
}

// WriteConfig snapshots the run's configuration record as YAML.
func (s *Store) WriteConfig(runID string, cfg any) error {
	d, err := s.dir(runID, true)
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", configFile, err)
	}
	return replaceFile(d, configFile, b)
}

// ReadConfig decodes config.yaml into out.
func (s *Store) ReadConfig(runID string, out any) error {
	d, err := s.dir(runID, false)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(filepath.Join(d, configFile))
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", configFile, err)
	}
	return nil
}

// EnsureCache creates the run's cache dir and returns its path.
func (s *Store) EnsureCache(runID string) (string, error) {
	d, err := s.dir(runID, true)
	if err != nil {
		return "", err
	}
	c := filepath.Join(d, cacheDir)
	if err := os.MkdirAll(c, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	return c, nil
}

// RemoveCache deletes the run's cache dir; a missing one is fine.
func (s *Store) RemoveCache(runID string) error {
	d, err := s.dir(runID, false)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(d, cacheDir)); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	return nil
}

// replaceFile writes name inside dir through a temp file and rename, so
// readers see the old content or the new, never a torn write.
func replaceFile(dir, name string, b []byte) error {
	f, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	_, werr := f.Write(b)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write %s: %w", name, werr)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
