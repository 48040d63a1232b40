package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists workflow definitions as YAML files in a directory.
// It is the default backend for the CLI, keeping the local workflow
// library inspectable with ordinary tools.
type FileStore struct {
	dir string
}

// FileConfig contains configuration for file-backed storage.
type FileConfig struct {
	// Directory holds one .yaml file per workflow
	Directory string
}

// NewFileStore creates a file-backed workflow store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Initialize creates the storage directory if needed.
func (s *FileStore) Initialize() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// Close cleans up resources. Nothing to close for file storage.
func (s *FileStore) Close() error {
	return nil
}

// Save persists a serialized definition under the given id.
func (s *FileStore) Save(id string, definition []byte) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, definition, 0644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}

	return nil
}

// Get retrieves a serialized definition.
func (s *FileStore) Get(id string) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	return data, nil
}

// GetMetadata retrieves the stored metadata for one workflow. Timestamps
// come from the file's modification time, the only one the filesystem
// keeps portably.
func (s *FileStore) GetMetadata(id string) (Metadata, error) {
	path, err := s.path(id)
	if err != nil {
		return Metadata{}, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Metadata{}, ErrWorkflowNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to stat workflow file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read workflow file: %w", err)
	}

	meta := extractMetadata(id, data)
	meta.CreatedAt = info.ModTime().Unix()
	meta.UpdatedAt = info.ModTime().Unix()

	return meta, nil
}

// List returns metadata for every stored workflow.
func (s *FileStore) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	metadata := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".yaml")
		meta, err := s.GetMetadata(id)
		if err != nil {
			continue
		}
		metadata = append(metadata, meta)
	}

	return metadata, nil
}

// Delete removes a workflow.
func (s *FileStore) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if os.IsNotExist(err) {
		return ErrWorkflowNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete workflow file: %w", err)
	}

	return nil
}

// path maps an id to its file, rejecting ids that would escape the
// storage directory.
func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid workflow id: %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}
