package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackCatalogListCategory(t *testing.T) {
	cat := NewStackCatalogTool(testLogger())

	res, err := cat.Execute(context.Background(), json.RawMessage(`{"category":"database"}`))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var entries []CatalogEntry
	require.NoError(t, json.Unmarshal([]byte(res.Content), &entries))
	assert.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "database", e.Category)
	}
}

func TestStackCatalogLookupByName(t *testing.T) {
	cat := NewStackCatalogTool(testLogger())

	res, err := cat.Execute(context.Background(), json.RawMessage(`{"category":"cache","name":"redis"}`))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var entry CatalogEntry
	require.NoError(t, json.Unmarshal([]byte(res.Content), &entry))
	assert.Equal(t, "Redis", entry.Name)
}

func TestStackCatalogUnknownEntry(t *testing.T) {
	cat := NewStackCatalogTool(testLogger())

	res, err := cat.Execute(context.Background(), json.RawMessage(`{"category":"cache","name":"nosuchthing"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestStackCatalogUnknownCategory(t *testing.T) {
	cat := NewStackCatalogTool(testLogger())

	// Raw Execute bypasses registry schema validation; the tool still
	// rejects categories outside the catalog.
	res, err := cat.Execute(context.Background(), json.RawMessage(`{"category":"blockchain"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestStackCatalogSchemaCompiles(t *testing.T) {
	cat := NewStackCatalogTool(testLogger())

	_, err := WithSchemaValidation(cat)
	require.NoError(t, err)
}
