package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to path via a temporary sibling file and rename.
// The parent directory is created when missing. On any error the temporary
// file is removed, leaving the target untouched.
func WriteAtomic(path string, write func(f *os.File) error) error {
	err := os.MkdirAll(filepath.Dir(path), dirPerm)
	if err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()

	writeErr := write(tmp)
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return writeErr
	}

	syncErr := tmp.Sync()
	if syncErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("sync temp file: %w", syncErr)
	}

	closeErr := tmp.Close()
	if closeErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close temp file: %w", closeErr)
	}

	chmodErr := os.Chmod(tmpName, filePerm)
	if chmodErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("chmod temp file: %w", chmodErr)
	}

	renameErr := os.Rename(tmpName, path)
	if renameErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("rename into place: %w", renameErr)
	}

	return nil
}

// WriteAtomicBytes is WriteAtomic for a pre-serialized payload.
func WriteAtomicBytes(path string, data []byte) error {
	return WriteAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		if err != nil {
			return fmt.Errorf("write payload: %w", err)
		}

		return nil
	})
}
