package domain

import (
	"errors"
	"path"
	"strings"
)

var (
	ErrArtifactLocalRequired  = errors.New("artifact local path is required")
	ErrArtifactRemoteRequired = errors.New("artifact remote path is required")
	ErrArtifactRemoteEscapes  = errors.New("artifact remote path must stay inside the base path")
)

// Artifact is one local file or directory to be uploaded. RemotePath is
// relative to the target's base path.
type Artifact struct {
	LocalPath  string `mapstructure:"local" yaml:"local"`
	RemotePath string `mapstructure:"remote" yaml:"remote"`
	Required   bool   `mapstructure:"required" yaml:"required"`
}

// Label returns a short identifier used in reports and logs.
func (a Artifact) Label() string {
	return a.LocalPath
}

// ArtifactSet is an ordered list of artifacts. Order is preserved on upload.
type ArtifactSet []Artifact

// DefaultArtifactSet returns the files that make up the application checkout.
// Dockerfile.prod and the alembic files only exist in some checkouts.
func DefaultArtifactSet() ArtifactSet {
	return ArtifactSet{
		{LocalPath: "app", RemotePath: "app", Required: true},
		{LocalPath: "scripts", RemotePath: "scripts", Required: false},
		{LocalPath: "requirements.txt", RemotePath: "requirements.txt", Required: true},
		{LocalPath: "Dockerfile", RemotePath: "Dockerfile", Required: true},
		{LocalPath: "Dockerfile.prod", RemotePath: "Dockerfile.prod", Required: false},
		{LocalPath: "alembic.ini", RemotePath: "alembic.ini", Required: false},
		{LocalPath: "alembic", RemotePath: "alembic", Required: false},
	}
}

// Validate checks every entry in the set.
func (s ArtifactSet) Validate() error {
	for _, a := range s {
		if strings.TrimSpace(a.LocalPath) == "" {
			return ErrArtifactLocalRequired
		}
		if strings.TrimSpace(a.RemotePath) == "" {
			return ErrArtifactRemoteRequired
		}
		clean := path.Clean(a.RemotePath)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return ErrArtifactRemoteEscapes
		}
	}
	return nil
}

// Labels returns the labels of the given artifacts in order.
func Labels(artifacts []Artifact) []string {
	out := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a.Label())
	}
	return out
}
