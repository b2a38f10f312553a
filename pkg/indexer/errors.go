package indexer

import (
	"errors"
	"fmt"

	"github.com/xelpkg/registry/pkg/manifest"
)

// PhaseError is implemented by every error that ends a submission. Phase is
// the state the submission failed in.
type PhaseError interface {
	error
	Phase() State
}

// CloneError means the workspace could not be prepared or the repository
// could not be cloned.
type CloneError struct {
	URL string
	Err error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }
func (e *CloneError) Phase() State  { return StateCloning }

// EmptyHistoryError means the repository has no semantic version tags.
type EmptyHistoryError struct {
	URL string
}

func (e *EmptyHistoryError) Error() string {
	return fmt.Sprintf("%s has no semantic version tags to index", e.URL)
}

func (e *EmptyHistoryError) Phase() State { return StateCloning }

// ManifestValidationError wraps the manifest failure that aborted version
// discovery.
type ManifestValidationError struct {
	Err error
}

func (e *ManifestValidationError) Error() string {
	return "manifest validation failed: " + e.Err.Error()
}

func (e *ManifestValidationError) Unwrap() error { return e.Err }
func (e *ManifestValidationError) Phase() State  { return StateDiscovering }

// Reason returns the validation reason, or "" when discovery failed for
// another cause such as a checkout error.
func (e *ManifestValidationError) Reason() manifest.Reason {
	var ve *manifest.ValidationError
	if errors.As(e.Err, &ve) {
		return ve.Reason
	}
	return ""
}

// MirrorError means the mirror repository could not be created or pushed.
type MirrorError struct {
	Err error
}

func (e *MirrorError) Error() string {
	return "mirror: " + e.Err.Error()
}

func (e *MirrorError) Unwrap() error { return e.Err }
func (e *MirrorError) Phase() State  { return StateMirroring }

// ArtifactError means the tarball for Tag could not be produced or
// published.
type ArtifactError struct {
	Tag string
	Err error
}

func (e *ArtifactError) Error() string {
	if e.Tag == "" {
		return "artifact: " + e.Err.Error()
	}
	return fmt.Sprintf("artifact for %s: %v", e.Tag, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }
func (e *ArtifactError) Phase() State  { return StateGenerating }

// PersistenceConflictError means the package name is owned by another
// source repository.
type PersistenceConflictError struct {
	Name string
	Err  error
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("package %q already exists: %v", e.Name, e.Err)
}

func (e *PersistenceConflictError) Unwrap() error { return e.Err }
func (e *PersistenceConflictError) Phase() State  { return StateCommitting }

// CommitError means the registry transaction failed and was rolled back.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return "commit: " + e.Err.Error()
}

func (e *CommitError) Unwrap() error { return e.Err }
func (e *CommitError) Phase() State  { return StateCommitting }

var (
	_ PhaseError = (*CloneError)(nil)
	_ PhaseError = (*EmptyHistoryError)(nil)
	_ PhaseError = (*ManifestValidationError)(nil)
	_ PhaseError = (*MirrorError)(nil)
	_ PhaseError = (*ArtifactError)(nil)
	_ PhaseError = (*PersistenceConflictError)(nil)
	_ PhaseError = (*CommitError)(nil)
)
