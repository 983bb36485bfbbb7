// Package file keeps artifact payloads under a local directory.
//
// It is the default backend: a single-machine pipeline stores payloads
// beside its SQLite registry. Digests are recorded in a hidden sidecar
// (".<name>.sha256") next to each payload.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/cleanstep/pkg/provider"
)

const (
	tempPattern   = ".cleanstep-put-*"
	digestSuffix  = ".sha256"
	payloadPerm   = 0o644
	directoryPerm = 0o755
)

// Config configures a file store.
type Config struct {
	// Root holds every payload. Created on first Put.
	Root string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("file store root is required")
	}
	return nil
}

// Store implements provider.BlobStore on a local directory. Keys are
// slash-separated paths below Root.
type Store struct {
	root string
}

var _ provider.BlobStore = (*Store)(nil)

// New returns a store rooted at cfg.Root.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{root: filepath.Clean(cfg.Root)}, nil
}

// Root returns the cleaned root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) Kind() provider.Kind { return provider.KindFile }

func (s *Store) Close() error { return nil }

// Put writes body to a temp file in the destination directory and renames
// it into place, so readers never observe a partial payload.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, info provider.PutInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.path(key)
	if err != nil {
		return s.wrap("Put", key, err)
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, directoryPerm); err != nil {
		return s.wrap("Put", key, err)
	}

	if err := writeAtomic(dir, full, body); err != nil {
		return s.wrap("Put", key, err)
	}

	sidecar := digestPath(full)
	if info.Digest == "" {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			return s.wrap("Put", key, err)
		}
		return nil
	}
	if err := writeAtomic(dir, sidecar, strings.NewReader(info.Digest+"\n")); err != nil {
		return s.wrap("Put", key, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, key string) (*provider.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.path(key)
	if err != nil {
		return nil, s.wrap("Open", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, s.wrap("Open", key, err)
	}
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		_ = f.Close()
		if err == nil {
			err = provider.ErrNotFound
		}
		return nil, s.wrap("Open", key, err)
	}
	return &provider.Blob{Body: f, Info: s.info(key, full, st)}, nil
}

func (s *Store) Stat(ctx context.Context, key string) (*provider.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.path(key)
	if err != nil {
		return nil, s.wrap("Stat", key, err)
	}
	st, err := os.Stat(full)
	if err == nil && st.IsDir() {
		err = provider.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("Stat", key, err)
	}
	info := s.info(key, full, st)
	return &info, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.path(key)
	if err != nil {
		return s.wrap("Remove", key, err)
	}
	for _, p := range []string{full, digestPath(full)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return s.wrap("Remove", key, err)
		}
	}
	return nil
}

// Ping accepts a root that does not exist yet; Put creates it.
func (s *Store) Ping(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.path(prefix)
	if err != nil {
		return s.wrap("Ping", prefix, err)
	}
	for _, p := range []string{s.root, dir} {
		st, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return s.wrap("Ping", prefix, err)
		}
		if !st.IsDir() {
			return provider.Wrap(provider.KindFile, "Ping", "", prefix,
				fmt.Errorf("%s is not a directory", p), provider.ErrBucketNotFound)
		}
	}
	return nil
}

func (s *Store) info(key, full string, st os.FileInfo) provider.BlobInfo {
	info := provider.BlobInfo{
		Key:     strings.TrimPrefix(key, "/"),
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}
	if raw, err := os.ReadFile(digestPath(full)); err == nil {
		info.Digest = strings.TrimSpace(string(raw))
	}
	return info
}

// path maps key below root. Keys are anchored before cleaning, so ".."
// segments cannot climb out of root.
func (s *Store) path(key string) (string, error) {
	clean := strings.TrimPrefix(filepath.Clean("/"+strings.TrimSpace(key)), "/")
	if strings.HasPrefix(filepath.Base(clean), ".") && strings.HasSuffix(clean, digestSuffix) {
		return "", fmt.Errorf("key %q collides with a digest sidecar", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *Store) wrap(op, key string, err error) error {
	var sentinel error
	switch {
	case os.IsNotExist(err):
		sentinel = provider.ErrNotFound
	case os.IsPermission(err):
		sentinel = provider.ErrAccessDenied
	}
	return provider.Wrap(provider.KindFile, op, "", key, err, sentinel)
}

func digestPath(full string) string {
	return filepath.Join(filepath.Dir(full), "."+filepath.Base(full)+digestSuffix)
}

func writeAtomic(dir, dest string, body io.Reader) error {
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	// #nosec G302 -- artifact payloads are shared data files
	if err := tmp.Chmod(payloadPerm); err != nil {
		return err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
