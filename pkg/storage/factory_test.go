package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderMemory(t *testing.T) {
	store, err := NewProvider(ProviderConfig{Type: MemoryProviderType})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}

func TestNewProviderFile(t *testing.T) {
	store, err := NewProvider(ProviderConfig{
		Type: FileProviderType,
		File: &FileConfig{Directory: t.TempDir()},
	})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
}

func TestNewProviderFileRequiresDirectory(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: FileProviderType})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file storage directory is required")
}

func TestNewProviderDynamoDBRequiresConfig(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: DynamoDBProviderType})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DynamoDB configuration is required")
}

func TestNewProviderPostgreSQLRequiresConfig(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: PostgreSQLProviderType})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgreSQL configuration is required")
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: "etcd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider type")
}
