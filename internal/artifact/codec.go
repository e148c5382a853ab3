package artifact

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/stopeworks/stope/internal/paths"
	"github.com/stopeworks/stope/internal/topics"
)

// jsonIndent matches the indentation of hand-inspectable artifacts.
const jsonIndent = "  "

// readJSON decodes a JSON artifact into T, mapping missing files to
// ErrFileNotExists and decode failures to ErrCorruptedFile.
func readJSON[T any](path string) (*T, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, readErr(path, err)
	}

	var value T

	err = json.Unmarshal(raw, &value)
	if err != nil {
		return nil, readErr(path, err)
	}

	return &value, nil
}

// writeJSON atomically persists value as indented JSON.
func writeJSON(path string, value any) error {
	raw, err := json.MarshalIndent(value, "", jsonIndent)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	return paths.WriteAtomicBytes(path, append(raw, '\n'))
}

// writeModel atomically persists a fitted model as lz4-compressed gob.
func writeModel(path string, fitted *topics.Fitted) error {
	return paths.WriteAtomic(path, func(f *os.File) error {
		zw := lz4.NewWriter(f)

		err := gob.NewEncoder(zw).Encode(fitted)
		if err != nil {
			return fmt.Errorf("encode model: %w", err)
		}

		err = zw.Close()
		if err != nil {
			return fmt.Errorf("flush model: %w", err)
		}

		return nil
	})
}

// readModel loads a fitted model persisted by writeModel.
func readModel(path string) (*topics.Fitted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, readErr(path, err)
	}
	defer f.Close()

	var fitted topics.Fitted

	err = gob.NewDecoder(lz4.NewReader(f)).Decode(&fitted)
	if err != nil {
		return nil, readErr(path, err)
	}

	return &fitted, nil
}
