package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
	"go.uber.org/zap"
)

// FileStore keeps the local state in a single JSON document on disk,
// the terminal counterpart of browser local storage.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	data map[string]string
}

// NewFileStore loads path if it exists. A corrupt file is logged and treated as empty.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &FileStore{
		path:   path,
		logger: logger,
		data:   make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		logger.Warn("state file unreadable, starting empty", zap.String("path", path), zap.Error(err))
		return s, nil
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		logger.Warn("state file corrupt, starting empty", zap.String("path", path), zap.Error(err))
		s.data = make(map[string]string)
	}
	return s, nil
}

var _ ports.Store = (*FileStore)(nil)

// Get retrieves a value by key
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return "", core.ErrNotFound
	}
	return value, nil
}

// Set stores a value and flushes the file
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.flush()
}

// Delete removes the given keys and flushes the file
func (s *FileStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.data, key)
	}
	return s.flush()
}

// flush writes through a temp file so a crash never leaves half a document
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}
