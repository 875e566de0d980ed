package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"stackpilot/internal/domain"
	"stackpilot/internal/infra/tracer"
)

// StepBudgetExhaustedText is returned as the assistant's answer when the
// tool loop runs out of steps before the model produces a final response.
const StepBudgetExhaustedText = "I wasn't able to finish within the allowed " +
	"number of tool steps. Please send a follow-up message to continue."

// CompletionInvoker drives one logical conversation turn: it calls the
// provider, executes any requested tool calls, feeds the results back,
// and repeats until the model answers with plain text or the step budget
// runs out.
type CompletionInvoker struct {
	llm      domain.LLMProvider
	tools    domain.ToolExecutor
	maxSteps int
	logger   *slog.Logger
}

// TurnResult is the outcome of one invoked turn. Messages holds every
// message produced during the turn (assistant turns and tool results, in
// order) so the caller can append them to the thread verbatim.
type TurnResult struct {
	Messages []domain.Message
	Text     string
	Usage    domain.Usage
}

// NewCompletionInvoker creates an invoker. maxSteps bounds the number of
// provider round-trips per turn.
func NewCompletionInvoker(llm domain.LLMProvider, tools domain.ToolExecutor, maxSteps int, logger *slog.Logger) *CompletionInvoker {
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &CompletionInvoker{
		llm:      llm,
		tools:    tools,
		maxSteps: maxSteps,
		logger:   logger,
	}
}

// Invoke runs the tool loop for the given request. The request's message
// array is extended in place with each round-trip's output. A nil error
// with TurnResult.Text set is the only success shape; provider failures
// abort the turn and surface as errors.
func (inv *CompletionInvoker) Invoke(ctx context.Context, req domain.ChatRequest) (*TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "invoker.turn")
	defer span.End()

	result := &TurnResult{}

	for step := 0; step < inv.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		span.AddEvent("invoker.step", trace.WithAttributes(tracer.IntAttr("step", step)))

		resp, err := inv.llm.Chat(ctx, req)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		result.Usage.Add(resp.Usage)

		assistantMsg := resp.Message
		assistantMsg.Role = domain.RoleAssistant
		if assistantMsg.Timestamp.IsZero() {
			assistantMsg.Timestamp = time.Now()
		}
		req.Messages = append(req.Messages, assistantMsg)
		result.Messages = append(result.Messages, assistantMsg)

		inv.logger.Debug("llm step completed",
			"step", step,
			"tool_calls", len(assistantMsg.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		if len(assistantMsg.ToolCalls) == 0 {
			result.Text = assistantMsg.Content
			tracer.SetOK(span)
			return result, nil
		}

		// Execute tool calls sequentially, preserving the order the
		// model requested them in.
		for _, call := range assistantMsg.ToolCalls {
			toolMsg := inv.executeTool(ctx, call)
			req.Messages = append(req.Messages, toolMsg)
			result.Messages = append(result.Messages, toolMsg)
		}
	}

	// Step budget exhausted: answer with a marker so the caller can
	// persist and respond instead of failing the whole turn.
	marker := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   StepBudgetExhaustedText,
		Timestamp: time.Now(),
	}
	result.Messages = append(result.Messages, marker)
	result.Text = marker.Content
	span.AddEvent("invoker.step_budget_exhausted")
	tracer.SetOK(span)
	return result, nil
}

// executeTool runs a single tool call and returns the result as a
// tool-role message. Failures become error payloads fed back to the
// model; they never abort the turn.
func (inv *CompletionInvoker) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "invoker.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	content, isErr := inv.runTool(ctx, call)
	if isErr {
		tracer.RecordError(span, domain.NewDomainError("Invoker.executeTool", domain.ErrToolFailure, content))
	} else {
		tracer.SetOK(span)
	}

	return domain.Message{
		Role:    domain.RoleTool,
		Name:    call.Name,
		Content: content,
		ToolCalls: []domain.ToolCall{{
			ID:   call.ID,
			Name: call.Name,
		}},
		Timestamp: time.Now(),
	}
}

func (inv *CompletionInvoker) runTool(ctx context.Context, call domain.ToolCall) (content string, isErr bool) {
	tool, err := inv.tools.Get(call.Name)
	if err != nil {
		inv.logger.Warn("unknown tool requested", "tool", call.Name)
		return err.Error(), true
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		inv.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return err.Error(), true
	}
	return result.Content, result.IsError
}
