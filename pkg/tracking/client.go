// Package tracking is the run and artifact tracking layer: it opens runs,
// resolves artifact references to local files, publishes new artifact
// versions and records provenance.
//
// Metadata lives in a registry database; payloads live in a blob store.
package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/pkg/provider"
	"github.com/3leaps/cleanstep/pkg/registry"
	"github.com/3leaps/cleanstep/pkg/rundir"
)

// Options configures a Client.
type Options struct {
	DB    *registry.DB
	Store provider.BlobStore
	Runs  *rundir.Store

	// Prefix is prepended to every object key.
	Prefix string

	Retry RetryPolicy

	// RateLimit caps blob store requests per second (0 = unlimited).
	RateLimit float64

	Logger *zap.Logger
}

// Client implements Service against a registry database and blob store.
type Client struct {
	db     *registry.DB
	store  *guardedStore
	runs   *rundir.Store
	prefix string
	log    *zap.Logger
}

var _ Service = (*Client)(nil)

// NewClient validates opts and returns a ready client.
func NewClient(opts Options) (*Client, error) {
	if opts.DB == nil {
		return nil, errors.New("tracking: registry db is required")
	}
	if opts.Store == nil {
		return nil, errors.New("tracking: blob store is required")
	}
	if opts.Runs == nil {
		return nil, errors.New("tracking: runs store is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		db:     opts.DB,
		store:  newGuardedStore(opts.Store, opts.Retry, opts.RateLimit, log),
		runs:   opts.Runs,
		prefix: normalizePrefix(opts.Prefix),
		log:    log,
	}, nil
}

// CreateRun opens a run in the registry and writes its run directory.
func (c *Client) CreateRun(ctx context.Context, jobType string) (*Run, error) {
	r, err := registry.CreateRun(ctx, c.db, jobType)
	if err != nil {
		return nil, &Error{Op: "create_run", Err: err}
	}

	run := NewRun(r.RunID, r.JobType, r.StartedAt)
	rec := run.record(rundir.StateRunning)
	rec.PID = os.Getpid()
	if err := c.runs.Write(rec); err != nil {
		return nil, &Error{Op: "create_run", Err: err}
	}

	c.log.Debug("run created",
		zap.String("run_id", run.ID),
		zap.String("job_type", jobType),
		zap.String("run_dir", c.runs.RunDir(run.ID)))
	return run, nil
}

// AttachConfig stores cfg as JSON in the registry and as config.yaml in the
// run directory.
func (c *Client) AttachConfig(ctx context.Context, run *Run, cfg any) error {
	if err := run.CheckOpen(); err != nil {
		return &Error{Op: "attach_config", Err: err}
	}

	b, err := json.Marshal(cfg)
	if err != nil {
		return &Error{Op: "attach_config", Err: fmt.Errorf("marshal config: %w", err)}
	}
	if err := registry.SetRunConfig(ctx, c.db, run.ID, string(b)); err != nil {
		return &Error{Op: "attach_config", Err: err}
	}
	if err := c.runs.WriteConfig(run.ID, cfg); err != nil {
		return &Error{Op: "attach_config", Err: err}
	}

	run.SetConfig(cfg)
	return nil
}

// LogStage records a stage event for the run.
func (c *Client) LogStage(ctx context.Context, run *Run, stage, eventType, detail string) error {
	err := registry.RecordRunEvent(ctx, c.db, registry.RunEvent{
		RunID:     run.ID,
		Stage:     stage,
		EventType: eventType,
		Detail:    detail,
	})
	if err != nil {
		return &Error{Op: "log_stage", Err: err}
	}
	return nil
}

// UseArtifact resolves ref, downloads the payload into the run's cache and
// records the version as an input of the run.
func (c *Client) UseArtifact(ctx context.Context, run *Run, ref string) (string, error) {
	if err := run.CheckOpen(); err != nil {
		return "", &Error{Op: "use_artifact", Ref: ref, Err: err}
	}

	v, err := c.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	cacheDir, err := c.runs.EnsureCache(run.ID)
	if err != nil {
		return "", &Error{Op: "use_artifact", Ref: ref, Err: err}
	}
	dest := filepath.Join(cacheDir, v.ArtifactID, v.FileName)
	if err := c.download(ctx, v, dest); err != nil {
		return "", &Error{Op: "use_artifact", Ref: ref, Err: err}
	}

	if err := registry.LinkRunArtifact(ctx, c.db, run.ID, v.ArtifactID, registry.DirectionInput); err != nil {
		return "", &Error{Op: "use_artifact", Ref: ref, Err: err}
	}
	run.AddInput(artifactRef(*v))
	c.writeRecord(run, rundir.StateRunning)

	c.log.Debug("artifact materialized",
		zap.String("ref", v.Ref()),
		zap.String("artifact_id", v.ArtifactID),
		zap.String("path", dest))
	return dest, nil
}

// LogArtifact uploads the artifact's file and registers it as a new version
// produced by run.
func (c *Client) LogArtifact(ctx context.Context, run *Run, a *Artifact) (*Version, error) {
	if err := run.CheckOpen(); err != nil {
		return nil, &Error{Op: "log_artifact", Ref: a.Name, Err: err}
	}

	v, err := c.publish(ctx, run.ID, a)
	if err != nil {
		return nil, err
	}

	if err := registry.LinkRunArtifact(ctx, c.db, run.ID, v.ArtifactID, registry.DirectionOutput); err != nil {
		return nil, &Error{Op: "log_artifact", Ref: v.Ref(), Err: err}
	}
	run.AddOutput(artifactRef(*v))
	c.writeRecord(run, rundir.StateRunning)
	return v, nil
}

// Finish closes the run exactly once. A nil cause marks it successful.
// The run's download cache is removed.
func (c *Client) Finish(ctx context.Context, run *Run, cause error) error {
	if !run.MarkFinished() {
		return &Error{Op: "finish", Err: ErrRunFinished}
	}

	status, state, msg := registry.RunStatusSuccess, rundir.StateSuccess, ""
	if cause != nil {
		status, state, msg = registry.RunStatusFailed, rundir.StateFailed, cause.Error()
	}

	var errs []error
	if err := c.runs.RemoveCache(run.ID); err != nil {
		errs = append(errs, err)
	}
	if err := registry.FinishRun(ctx, c.db, run.ID, status, msg); err != nil {
		errs = append(errs, err)
	}
	rec := run.record(state)
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.Error = msg
	if err := c.runs.Write(rec); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return &Error{Op: "finish", Err: err}
	}
	c.log.Debug("run finished", zap.String("run_id", run.ID), zap.String("status", string(status)))
	return nil
}

// Resolve looks up the version a reference points at.
func (c *Client) Resolve(ctx context.Context, ref string) (*Version, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, &Error{Op: "resolve", Ref: ref, Err: err}
	}
	av, err := registry.ResolveVersion(ctx, c.db, r.Name, r.Selector)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, &Error{Op: "resolve", Ref: r.String(), Err: ErrArtifactNotFound}
	}
	if err != nil {
		return nil, &Error{Op: "resolve", Ref: r.String(), Err: err}
	}
	v := versionFrom(av)
	return &v, nil
}

// Publish uploads and registers a without a run.
func (c *Client) Publish(ctx context.Context, a *Artifact) (*Version, error) {
	return c.publish(ctx, "", a)
}

// Download resolves ref and writes its payload to dest.
func (c *Client) Download(ctx context.Context, ref, dest string) (*Version, error) {
	v, err := c.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := c.download(ctx, v, dest); err != nil {
		return nil, &Error{Op: "download", Ref: ref, Err: err}
	}
	return v, nil
}

// SetAlias points alias at the version ref resolves to.
func (c *Client) SetAlias(ctx context.Context, ref, alias string) (*Version, error) {
	v, err := c.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := registry.SetAlias(ctx, c.db, v.Name, alias, v.Version); err != nil {
		return nil, &Error{Op: "set_alias", Ref: ref, Err: err}
	}
	return c.Resolve(ctx, v.Ref())
}

// ListVersions returns the registered versions of name, or of every
// artifact when name is empty.
func (c *Client) ListVersions(ctx context.Context, name string) ([]Version, error) {
	avs, err := registry.ListVersions(ctx, c.db, name)
	if err != nil {
		return nil, &Error{Op: "list", Ref: name, Err: err}
	}
	out := make([]Version, 0, len(avs))
	for i := range avs {
		out = append(out, versionFrom(&avs[i]))
	}
	return out, nil
}

// ObjectKey returns the blob store key for a version's file.
func (c *Client) ObjectKey(name, artifactID, fileName string) string {
	return c.prefix + "artifacts/" + name + "/" + artifactID + "/" + fileName
}

func (c *Client) publish(ctx context.Context, runID string, a *Artifact) (*Version, error) {
	if a == nil {
		return nil, &Error{Op: "log_artifact", Err: errors.New("artifact is nil")}
	}
	if err := a.validate(); err != nil {
		return nil, &Error{Op: "log_artifact", Ref: a.Name, Err: err}
	}

	digest, size, err := fileDigest(a.File())
	if err != nil {
		return nil, &Error{Op: "log_artifact", Ref: a.Name, Err: err}
	}

	artifactID := uuid.NewString()
	fileName := filepath.Base(a.File())
	key := c.ObjectKey(a.Name, artifactID, fileName)

	err = c.store.put(ctx, key, func() (io.ReadCloser, error) { return os.Open(a.File()) },
		provider.PutInfo{Size: size, Digest: digest})
	if err != nil {
		return nil, &Error{Op: "log_artifact", Ref: a.Name, Err: fmt.Errorf("%w: %w", ErrUpload, err)}
	}

	av, err := registry.CreateVersion(ctx, c.db, registry.NewVersion{
		ArtifactID:   artifactID,
		Name:         a.Name,
		Type:         a.Type,
		Description:  a.Description,
		ObjectKey:    key,
		FileName:     fileName,
		SizeBytes:    size,
		SHA256:       digest,
		CreatedRunID: runID,
		Aliases:      a.Aliases,
	})
	if err != nil {
		if delErr := c.store.remove(ctx, key); delErr != nil {
			c.log.Warn("orphaned artifact payload", zap.String("key", key), zap.Error(delErr))
		}
		return nil, &Error{Op: "log_artifact", Ref: a.Name, Err: fmt.Errorf("%w: register: %w", ErrUpload, err)}
	}

	v := versionFrom(av)
	c.log.Debug("artifact registered",
		zap.String("ref", v.Ref()),
		zap.String("key", key),
		zap.Int64("size", size),
		zap.String("sha256", digest))
	return &v, nil
}

// download fetches v into dest atomically, verifying size and digest.
func (c *Client) download(ctx context.Context, v *Version, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	err := c.store.get(ctx, v.ObjectKey, func(blob *provider.Blob) error {
		if blob.Info.Digest != "" && blob.Info.Digest != v.SHA256 {
			return fmt.Errorf("%w: stored sha256 %s, want %s", ErrDigestMismatch, blob.Info.Digest, v.SHA256)
		}
		tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		defer func() { _ = os.Remove(tmpName) }()

		h := sha256.New()
		n, err := io.Copy(io.MultiWriter(tmp, h), blob)
		if err != nil {
			_ = tmp.Close()
			return fmt.Errorf("read payload: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp file: %w", err)
		}
		if n != v.Size {
			return fmt.Errorf("%w: size %d, want %d", ErrDigestMismatch, n, v.Size)
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != v.SHA256 {
			return fmt.Errorf("%w: sha256 %s, want %s", ErrDigestMismatch, got, v.SHA256)
		}
		return os.Rename(tmpName, dest)
	})
	if provider.IsNotFound(err) {
		return fmt.Errorf("%w: payload %s: %w", ErrArtifactNotFound, v.ObjectKey, err)
	}
	return err
}

func (c *Client) writeRecord(run *Run, state rundir.State) {
	rec := run.record(state)
	rec.PID = os.Getpid()
	if err := c.runs.Write(rec); err != nil {
		c.log.Warn("failed to update run.json", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
