package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinition = `
metadata:
  name: research-pipeline
  description: Fetches and summarizes
  category: research
  version: "1"
nodes:
  - id: agent-1
    kind: agent
`

func TestMemoryStoreSaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Initialize())
	defer store.Close()

	require.NoError(t, store.Save("wf-1", []byte(sampleDefinition)))

	definition, err := store.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, sampleDefinition, string(definition))
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get("ghost")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = store.GetMetadata("ghost")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestMemoryStoreMetadataExtraction(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("wf-1", []byte(sampleDefinition)))

	meta, err := store.GetMetadata("wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", meta.ID)
	assert.Equal(t, "research-pipeline", meta.Name)
	assert.Equal(t, "Fetches and summarizes", meta.Description)
	assert.Equal(t, "research", meta.Category)
	assert.Equal(t, "1", meta.Version)
	assert.NotZero(t, meta.CreatedAt)
	assert.NotZero(t, meta.UpdatedAt)
}

func TestMemoryStoreMalformedDefinitionFallsBackToID(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("wf-raw", []byte("{{not yaml")))

	meta, err := store.GetMetadata("wf-raw")
	require.NoError(t, err)
	assert.Equal(t, "wf-raw", meta.Name)
}

func TestMemoryStoreResavePreservesCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("wf-1", []byte(sampleDefinition)))

	first, err := store.GetMetadata("wf-1")
	require.NoError(t, err)

	require.NoError(t, store.Save("wf-1", []byte(sampleDefinition)))

	second, err := store.GetMetadata("wf-1")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("wf-1", []byte(sampleDefinition)))
	require.NoError(t, store.Save("wf-2", []byte("metadata:\n  name: other\nnodes: []\n")))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	names := []string{list[0].Name, list[1].Name}
	assert.ElementsMatch(t, []string{"research-pipeline", "other"}, names)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("wf-1", []byte(sampleDefinition)))

	require.NoError(t, store.Delete("wf-1"))

	_, err := store.Get("wf-1")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	assert.ErrorIs(t, store.Delete("wf-1"), ErrWorkflowNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("wf-1", []byte(sampleDefinition)))

	definition, err := store.Get("wf-1")
	require.NoError(t, err)
	definition[0] = 'X'

	fresh, err := store.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, sampleDefinition, string(fresh))
}
