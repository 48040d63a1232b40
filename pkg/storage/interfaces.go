// Package storage provides persistence backends for workflow documents.
package storage

import (
	"errors"

	"gopkg.in/yaml.v2"
)

// ErrWorkflowNotFound indicates the requested workflow is not stored
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowStore persists serialized workflow definitions
type WorkflowStore interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// Save persists a serialized definition under the given id
	Save(id string, definition []byte) error

	// Get retrieves a serialized definition
	Get(id string) ([]byte, error)

	// GetMetadata retrieves the stored metadata for one workflow
	GetMetadata(id string) (Metadata, error)

	// List returns metadata for every stored workflow
	List() ([]Metadata, error)

	// Delete removes a workflow
	Delete(id string) error
}

// Metadata describes a stored workflow
type Metadata struct {
	// ID of the workflow
	ID string `json:"id"`

	// Name of the workflow
	Name string `json:"name"`

	// Description of the workflow
	Description string `json:"description"`

	// Category for grouping workflows
	Category string `json:"category,omitempty"`

	// Version of the definition
	Version string `json:"version,omitempty"`

	// CreatedAt is when the workflow was first saved (Unix seconds)
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is when the workflow was last saved (Unix seconds)
	UpdatedAt int64 `json:"updated_at"`
}

// extractMetadata pulls identifying fields out of a serialized definition.
// An unparseable document falls back to the id so saving never fails on
// malformed metadata.
func extractMetadata(id string, definition []byte) Metadata {
	var doc struct {
		Metadata struct {
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
			Category    string `yaml:"category"`
			Version     string `yaml:"version"`
		} `yaml:"metadata"`
	}

	meta := Metadata{ID: id, Name: id}
	if err := yaml.Unmarshal(definition, &doc); err != nil {
		return meta
	}

	if doc.Metadata.Name != "" {
		meta.Name = doc.Metadata.Name
	}
	meta.Description = doc.Metadata.Description
	meta.Category = doc.Metadata.Category
	meta.Version = doc.Metadata.Version
	return meta
}
