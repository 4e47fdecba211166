package batch

import "errors"

var (
	// ErrManifestNotFound aborts a run whose manifest file does not exist.
	ErrManifestNotFound = errors.New("manifest not found")
	// ErrOutputDirLocked means another run holds the output directory.
	ErrOutputDirLocked = errors.New("output directory is locked by another run")
)
