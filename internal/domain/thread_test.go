package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadAccess(t *testing.T) {
	tests := []struct {
		name     string
		owner    string
		isPublic bool
		caller   string
		read     bool
		write    bool
	}{
		{"owner on private", "alice", false, "alice", true, true},
		{"stranger on private", "alice", false, "bob", false, false},
		{"anonymous on private", "alice", false, "", false, false},
		{"stranger on public", "alice", true, "bob", true, false},
		{"owner on public", "alice", true, "alice", true, true},
		{"anyone on unowned", "", false, "bob", true, true},
		{"anonymous on unowned", "", false, "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := &Thread{Owner: tt.owner, IsPublic: tt.isPublic}
			assert.Equal(t, tt.read, th.ReadableBy(tt.caller), "ReadableBy")
			assert.Equal(t, tt.write, th.WritableBy(tt.caller), "WritableBy")
		})
	}
}

func TestDisplayMessages(t *testing.T) {
	now := time.Now()
	th := &Thread{Messages: []Message{
		{Role: RoleSystem, Content: "system prompt", Timestamp: now},
		{Role: RoleUser, Content: "question", Timestamp: now},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "calc"}}, Timestamp: now},
		{Role: RoleTool, Name: "calc", Content: "42", Timestamp: now},
		{Role: RoleAssistant, Content: "the answer is 42", Timestamp: now},
		{Role: RoleUser, Content: "", Timestamp: now}, // empty user turns still shown
	}}

	display := th.DisplayMessages()
	require.Len(t, display, 3)
	assert.Equal(t, RoleUser, display[0].Role)
	assert.Equal(t, "question", display[0].Content)
	assert.Equal(t, RoleAssistant, display[1].Role)
	assert.Equal(t, "the answer is 42", display[1].Content)
	assert.Equal(t, RoleUser, display[2].Role)

	// Projection strips tool plumbing fields.
	for _, m := range display {
		assert.Empty(t, m.ToolCalls)
		assert.Empty(t, m.Name)
	}
}

func TestMessageIsDisplayable(t *testing.T) {
	assert.True(t, Message{Role: RoleUser, Content: "hi"}.IsDisplayable())
	assert.True(t, Message{Role: RoleUser}.IsDisplayable())
	assert.True(t, Message{Role: RoleAssistant, Content: "answer"}.IsDisplayable())
	assert.False(t, Message{Role: RoleAssistant}.IsDisplayable())
	assert.False(t, Message{Role: RoleSystem, Content: "prompt"}.IsDisplayable())
	assert.False(t, Message{Role: RoleTool, Content: "result"}.IsDisplayable())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})
	assert.Equal(t, Usage{PromptTokens: 13, CompletionTokens: 7, TotalTokens: 20}, u)
}
