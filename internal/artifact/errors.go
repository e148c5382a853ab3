package artifact

import (
	"errors"
	"fmt"
	"io/fs"
)

// Artifact read errors. Both are recoverable: callers fall back to "not
// computed yet" or trigger a re-run.
var (
	// ErrFileNotExists reports a missing on-disk artifact.
	ErrFileNotExists = errors.New("artifact does not exist on disk")
	// ErrCorruptedFile reports an artifact that exists but cannot be
	// decoded or fails validation.
	ErrCorruptedFile = errors.New("artifact is corrupted")
	// ErrUnsyncedVectors reports a vector matrix whose row count does not
	// match the workspace's non-empty documents.
	ErrUnsyncedVectors = errors.New("vector rows are out of sync with the workspace")
)

// readErr translates filesystem and codec errors into the typed artifact
// errors.
func readErr(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileNotExists, path)
	}

	return fmt.Errorf("%w: %s: %v", ErrCorruptedFile, path, err)
}
