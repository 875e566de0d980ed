package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stackpilot/internal/domain"
)

// PromptAssembler constructs the message array for LLM calls: one system
// message carrying the base instructions and the tool catalog, followed
// by the stored history. The system message is injected per call and is
// never part of the persisted thread.
type PromptAssembler struct {
	systemPrompt string
	maxTokens    int
}

// NewPromptAssembler creates an assembler with the configured base
// instructions.
func NewPromptAssembler(systemPrompt string, maxTokens int) *PromptAssembler {
	return &PromptAssembler{
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}
}

// Build assembles a chat request from history and the available tools.
// Stored system messages are skipped: exactly one system message leaves
// this function, always first.
func (a *PromptAssembler) Build(history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	messages := make([]domain.Message, 0, 1+len(history))

	systemContent := a.systemPrompt
	if toolSection := formatToolCatalog(tools); toolSection != "" {
		systemContent += "\n\n" + toolSection
	}
	messages = append(messages, domain.Message{
		Role:      domain.RoleSystem,
		Content:   systemContent,
		Timestamp: time.Now(),
	})

	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}

	return domain.ChatRequest{
		Messages:  messages,
		Tools:     tools,
		MaxTokens: a.maxTokens,
	}
}

// formatToolCatalog renders the tool section of the system prompt.
// Returns "" when no tools are available.
func formatToolCatalog(tools []domain.ToolSchema) string {
	if len(tools) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	sb.WriteString("Call a tool when it would improve your answer. ")
	sb.WriteString("Arguments must be valid JSON matching the tool's parameter schema.\n\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- **%s**: %s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			fmt.Fprintf(&sb, "  parameters: %s\n", compactJSON(t.Parameters))
		}
	}
	return sb.String()
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
