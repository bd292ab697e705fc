package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store is the persistence boundary for the policy model. The engine is
// agnostic to the backing technology.
type Store interface {
	Load() (*Policy, error)
	Save(p *Policy) error
}

// FileStore persists the policy as a JSON document. Writes go through a
// temp file and rename so a crash never leaves a truncated store.
type FileStore struct {
	path string
}

// NewFileStore creates a store rooted at path, creating the parent
// directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reads the stored policy. A missing file yields a fresh empty
// policy rather than an error, so first run needs no seeding step.
func (s *FileStore) Load() (*Policy, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewPolicy(), nil
		}
		return nil, fmt.Errorf("failed to read policy store: %w", err)
	}

	p := NewPolicy()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("policy store is corrupt: %w", err)
	}
	if p.Categories == nil {
		p.Categories = make(map[string]*Category)
	}
	if p.Exceptions == nil {
		p.Exceptions = make(map[string]time.Time)
	}
	return p, nil
}

// Save writes the policy atomically with owner-only permissions.
func (s *FileStore) Save(p *Policy) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".policy-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write policy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync policy: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close policy: %w", err)
	}

	return os.Rename(tmp.Name(), s.path)
}
