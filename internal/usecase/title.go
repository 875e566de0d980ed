package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stackpilot/internal/domain"
)

// FallbackTitle is used whenever title generation fails or produces
// nothing usable.
const FallbackTitle = "Untitled Conversation"

const (
	titlePrompt = "Summarize the conversation in a 3-7 word title. " +
		"Respond with the title only: no quotes, no punctuation at the end, " +
		"no explanation."
	titleMaxExchanges  = 2
	titleMaxContentLen = 400
	titleMaxTokens     = 24
)

// TitleGenerator produces a short thread title from the opening of a
// conversation. It is deliberately forgiving: any failure yields the
// fallback title so titling can never block persisting a turn.
type TitleGenerator struct {
	llm     domain.LLMProvider
	timeout time.Duration
	logger  *slog.Logger
}

// NewTitleGenerator creates a title generator with its own timeout,
// independent of the main generation deadline.
func NewTitleGenerator(llm domain.LLMProvider, timeout time.Duration, logger *slog.Logger) *TitleGenerator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TitleGenerator{llm: llm, timeout: timeout, logger: logger}
}

// Generate returns a title for the conversation. Never returns an empty
// string and never returns an error.
func (g *TitleGenerator) Generate(ctx context.Context, history []domain.Message) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	excerpt := conversationExcerpt(history)
	if excerpt == "" {
		return FallbackTitle
	}

	resp, err := g.llm.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: titlePrompt, Timestamp: time.Now()},
			{Role: domain.RoleUser, Content: excerpt, Timestamp: time.Now()},
		},
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		g.logger.Warn("title generation failed", "error", err)
		return FallbackTitle
	}

	title := sanitizeTitle(resp.Message.Content)
	if title == "" {
		return FallbackTitle
	}
	return title
}

// conversationExcerpt renders up to the first two user/assistant
// exchanges, each message truncated, as input for the title model.
func conversationExcerpt(history []domain.Message) string {
	var sb strings.Builder
	userTurns := 0
	for _, m := range history {
		if !m.IsDisplayable() {
			continue
		}
		if m.Role == domain.RoleUser {
			userTurns++
			if userTurns > titleMaxExchanges {
				break
			}
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, truncate(m.Content, titleMaxContentLen))
	}
	return strings.TrimSpace(sb.String())
}

// sanitizeTitle trims whitespace and strips one pair of surrounding
// quotes, the way chat models tend to wrap short answers.
func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if len(title) >= 2 {
		first, last := title[0], title[len(title)-1]
		if first == last && (first == '"' || first == '\'') {
			title = title[1 : len(title)-1]
		}
	}
	// Keep it to a single line.
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	return strings.TrimSpace(title)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
