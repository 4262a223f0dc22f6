package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// FileStore persists the cache entry as pretty-printed JSON in a single
// file, overwritten wholesale on every write. This is the backend that
// survives process crashes and restarts.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore for the given path. The file is created
// on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the cache file path.
func (f *FileStore) Path() string {
	return f.path
}

// Exists stats the cache path. A missing file is not an error.
func (f *FileStore) Exists(ctx context.Context) (bool, error) {
	if _, err := os.Stat(f.path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat token cache file %s: %w", f.path, err)
	}
	return true, nil
}

// Read parses the cache file and clears the transient relative expiry.
func (f *FileStore) Read(ctx context.Context) (*Data, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("failed to read token cache file %s: %w", f.path, err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to deserialize token cache file %s: %w", f.path, err)
	}
	data.clearRelativeExpiry()
	return &data, nil
}

// Write serializes the entry as pretty JSON and overwrites the file.
func (f *FileStore) Write(ctx context.Context, data *Data) error {
	if data == nil {
		return ErrNilData
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize token cache: %w", err)
	}

	overwritten, err := f.Exists(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write token cache file %s: %w", f.path, err)
	}

	if overwritten {
		slog.Debug("Overwrote token cache file", "path", f.path)
	} else {
		slog.Debug("Wrote new token cache file", "path", f.path)
	}
	return nil
}
