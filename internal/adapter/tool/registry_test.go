package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackpilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type stubTool struct {
	name   string
	params json.RawMessage
	result *domain.ToolResult
	gotRaw json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: "stub", Parameters: s.params}
}

func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	s.gotRaw = params
	if s.result != nil {
		return s.result, nil
	}
	return &domain.ToolResult{Content: "ok"}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))

	got, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name())
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))
	assert.Error(t, r.Register(&stubTool{name: "alpha"}))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(testLogger())

	_, err := r.Get("nonexistent")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubTool{name: "zeta"}))
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))

	schemas := r.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "zeta", schemas[1].Name)
}

func TestRegistryWrapsWithSchemaValidation(t *testing.T) {
	r := NewRegistry(testLogger())
	stub := &stubTool{
		name: "strict",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {"value": {"type": "integer"}},
			"required": ["value"]
		}`),
	}
	require.NoError(t, r.Register(stub))

	got, err := r.Get("strict")
	require.NoError(t, err)

	// Schema rejection never reaches the inner tool.
	res, err := got.Execute(context.Background(), json.RawMessage(`{"value":"not an int"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Nil(t, stub.gotRaw)

	res, err = got.Execute(context.Background(), json.RawMessage(`{"value":42}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.NotNil(t, stub.gotRaw)
}
