package storage

import (
	"fmt"
)

// ProviderType represents the type of storage provider
type ProviderType string

const (
	// MemoryProviderType is an in-memory workflow store
	MemoryProviderType ProviderType = "memory"

	// FileProviderType is a directory-of-YAML-files workflow store
	FileProviderType ProviderType = "file"

	// DynamoDBProviderType is a DynamoDB workflow store
	DynamoDBProviderType ProviderType = "dynamodb"

	// PostgreSQLProviderType is a PostgreSQL workflow store
	PostgreSQLProviderType ProviderType = "postgresql"
)

// ProviderConfig contains configuration for workflow stores
type ProviderConfig struct {
	// Type is the type of store to create
	Type ProviderType

	// File contains configuration for the file store
	File *FileConfig

	// DynamoDB contains configuration for the DynamoDB store
	DynamoDB *DynamoDBConfig

	// PostgreSQL contains configuration for the PostgreSQL store
	PostgreSQL *PostgresConfig
}

// NewProvider creates a workflow store based on the configuration
func NewProvider(config ProviderConfig) (WorkflowStore, error) {
	switch config.Type {
	case MemoryProviderType:
		return NewMemoryStore(), nil

	case FileProviderType:
		if config.File == nil || config.File.Directory == "" {
			return nil, fmt.Errorf("file storage directory is required for file provider")
		}
		return NewFileStore(config.File.Directory), nil

	case DynamoDBProviderType:
		if config.DynamoDB == nil {
			return nil, fmt.Errorf("DynamoDB configuration is required for DynamoDB provider")
		}
		return NewDynamoDBStore(*config.DynamoDB)

	case PostgreSQLProviderType:
		if config.PostgreSQL == nil {
			return nil, fmt.Errorf("PostgreSQL configuration is required for PostgreSQL provider")
		}
		return NewPostgresStore(*config.PostgreSQL)

	default:
		return nil, fmt.Errorf("unknown provider type: %s", config.Type)
	}
}
