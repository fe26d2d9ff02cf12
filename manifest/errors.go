package manifest

import "errors"

var (
	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when no manifest has been committed.
	ErrNotFound = errors.New("manifest not found")

	// ErrInvalid is returned by Validate for structurally broken manifests.
	ErrInvalid = errors.New("invalid manifest")

	// ErrConcurrentModification is returned when another writer committed the
	// same version first.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)
