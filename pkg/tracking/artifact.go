package tracking

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/3leaps/cleanstep/pkg/registry"
)

// Artifact is a pending artifact: metadata plus one local file.
type Artifact struct {
	Name        string
	Type        string
	Description string

	// Aliases are attached in addition to "latest".
	Aliases []string

	file string
}

// NewArtifact creates an artifact record with no content yet.
func NewArtifact(name, typ, description string) *Artifact {
	return &Artifact{Name: name, Type: typ, Description: description}
}

// AddFile attaches path as the artifact's sole content.
func (a *Artifact) AddFile(path string) error {
	if a.file != "" {
		return fmt.Errorf("artifact %s already has file %s", a.Name, a.file)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("add file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("add file: %s is a directory", path)
	}
	a.file = path
	return nil
}

// File returns the attached local path, or "".
func (a *Artifact) File() string {
	return a.file
}

func (a *Artifact) validate() error {
	if err := validateName(a.Name); err != nil {
		return err
	}
	if a.Type == "" {
		return fmt.Errorf("artifact %s: type is required", a.Name)
	}
	if a.file == "" {
		return fmt.Errorf("artifact %s: no file attached", a.Name)
	}
	return nil
}

// Version is a registered artifact version.
type Version struct {
	ArtifactID  string
	Name        string
	Version     int
	Type        string
	Description string
	ObjectKey   string
	FileName    string
	Size        int64
	SHA256      string
	Aliases     []string

	// CreatedRunID is the run that logged the version, empty for direct publishes.
	CreatedRunID string
	CreatedAt    time.Time
}

// Ref returns the canonical name:vN reference.
func (v Version) Ref() string {
	return v.Name + ":v" + strconv.Itoa(v.Version)
}

func versionFrom(v *registry.ArtifactVersion) Version {
	return Version{
		ArtifactID:   v.ArtifactID,
		Name:         v.Name,
		Version:      v.Version,
		Type:         v.Type,
		Description:  v.Description,
		ObjectKey:    v.ObjectKey,
		FileName:     v.FileName,
		Size:         v.SizeBytes,
		SHA256:       v.SHA256,
		Aliases:      v.Aliases,
		CreatedRunID: v.CreatedRunID,
		CreatedAt:    v.CreatedAt,
	}
}
