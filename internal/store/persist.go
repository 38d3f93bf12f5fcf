package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// stateFileName is the persisted store image inside the data directory.
const stateFileName = "pcpd.json"

// load reads the persisted state file into the in-memory tree. A missing
// file means a first run and leaves the store empty.
func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, stateFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("store: read state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return fmt.Errorf("store: parse state file: %w", err)
	}
	return nil
}

// persistLocked writes the full tree to disk. Callers hold s.mu.
// A nil return with dataDir unset makes in-memory stores free of disk I/O.
func (s *Store) persistLocked() error {
	if s.dataDir == "" {
		return nil
	}
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("store: create data dir: %w", err)
	}
	return writeFileAtomic(s.dataDir, stateFileName, data, 0o600)
}

// writeFileAtomic writes data to dir/name via a temp file and rename so
// readers never observe a partially-written state file.
func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	targetPath := filepath.Join(dir, name)
	tmpPath := filepath.Join(dir, ".tmp-"+name)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath) // clean up on error

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, targetPath)
}
