// Package runtimeconfig implements the hot-reloadable, JSON-file-backed
// configuration store used for values an admin changes while the process
// is running (as opposed to internal/config, which is loaded once at
// startup from the environment).
package runtimeconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// jsonFileStore guards a single JSON file: reads re-stat the file and
// reload only when its mtime has moved since the last read; writes go
// through a temp-file-and-rename so a reader never observes a partial
// file.
type jsonFileStore struct {
	path    string
	logger  *zap.Logger
	mu      sync.Mutex
	data    map[string]interface{}
	mtime   time.Time
	loaded  bool
}

func newJSONFileStore(path string, logger *zap.Logger) *jsonFileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &jsonFileStore{path: path, logger: logger, data: map[string]interface{}{}}
}

// refreshIfChanged re-reads the file from disk when its mtime differs from
// the last value we loaded, or when nothing has been loaded yet. Parse or
// stat failures fall back to an empty map rather than propagating an
// error — a missing or corrupt runtime config file must never abort the
// caller.
func (s *jsonFileStore) refreshIfChanged() {
	info, err := os.Stat(s.path)
	if err != nil {
		s.data = map[string]interface{}{}
		s.loaded = true
		return
	}
	if s.loaded && info.ModTime().Equal(s.mtime) {
		return
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("failed to read runtime config file, using empty config", zap.String("path", s.path), zap.Error(err))
		s.data = map[string]interface{}{}
		s.loaded = true
		return
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		s.logger.Warn("failed to parse runtime config file, using empty config", zap.String("path", s.path), zap.Error(err))
		s.data = map[string]interface{}{}
		s.loaded = true
		return
	}

	s.data = parsed
	s.mtime = info.ModTime()
	s.loaded = true
}

// withData runs fn against a freshly-refreshed snapshot under the lock.
func (s *jsonFileStore) withData(fn func(data map[string]interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshIfChanged()
	fn(s.data)
}

// mutate loads the current snapshot, lets fn mutate it, persists it
// atomically, and updates the in-memory snapshot and remembered mtime so
// the next read doesn't need to hit disk again.
func (s *jsonFileStore) mutate(fn func(data map[string]interface{})) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshIfChanged()

	if s.data == nil {
		s.data = map[string]interface{}{}
	}
	fn(s.data)

	if err := s.writeToDisk(s.data); err != nil {
		return err
	}
	return nil
}

func (s *jsonFileStore) writeToDisk(data map[string]interface{}) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".runtimeconfig-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	return nil
}
