package storage

import (
	"sync"
	"time"
)

// MemoryStore implements WorkflowStore with in-memory maps. It is the
// default backend and the reference for provider behavior.
type MemoryStore struct {
	definitions map[string][]byte
	metadata    map[string]Metadata
	mu          sync.RWMutex
}

// NewMemoryStore creates an empty in-memory workflow store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string][]byte),
		metadata:    make(map[string]Metadata),
	}
}

// Initialize sets up the storage backend
func (s *MemoryStore) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (s *MemoryStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// Save persists a serialized definition under the given id
func (s *MemoryStore) Save(id string, definition []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(definition))
	copy(stored, definition)
	s.definitions[id] = stored

	meta := extractMetadata(id, definition)
	now := time.Now().Unix()
	if existing, ok := s.metadata[id]; ok {
		meta.CreatedAt = existing.CreatedAt
	} else {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	s.metadata[id] = meta

	return nil
}

// Get retrieves a serialized definition
func (s *MemoryStore) Get(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	definition, ok := s.definitions[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	out := make([]byte, len(definition))
	copy(out, definition)
	return out, nil
}

// GetMetadata retrieves the stored metadata for one workflow
func (s *MemoryStore) GetMetadata(id string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[id]
	if !ok {
		return Metadata{}, ErrWorkflowNotFound
	}

	return meta, nil
}

// List returns metadata for every stored workflow
func (s *MemoryStore) List() ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Metadata, 0, len(s.metadata))
	for _, meta := range s.metadata {
		list = append(list, meta)
	}

	return list, nil
}

// Delete removes a workflow
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[id]; !ok {
		return ErrWorkflowNotFound
	}

	delete(s.definitions, id)
	delete(s.metadata, id)

	return nil
}
