package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"stackpilot/internal/domain"
	"stackpilot/internal/infra/tracer"
)

// OrchestratorOptions carries the tunables for one orchestrator.
type OrchestratorOptions struct {
	MaxThreadsPerOwner  int
	GenerationTimeout   time.Duration
	PromptCostPer1K     float64
	CompletionCostPer1K float64
}

// Orchestrator coordinates a full conversational turn: thread
// resolution, authorization, generation through the tool loop, titling,
// persistence, and cost accounting.
type Orchestrator struct {
	store     domain.ThreadStore
	assembler *PromptAssembler
	invoker   *CompletionInvoker
	titles    *TitleGenerator
	tools     domain.ToolExecutor
	opts      OrchestratorOptions
	logger    *slog.Logger
}

// ChatInput is one inbound chat request.
type ChatInput struct {
	Caller   string // empty for anonymous callers
	ThreadID string // empty to start a new thread
	Text     string
	IsPublic bool // applies only when a new thread is created
}

// ChatOutput is the response to a chat request.
type ChatOutput struct {
	ThreadID string
	Text     string
	Title    string
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(
	store domain.ThreadStore,
	assembler *PromptAssembler,
	invoker *CompletionInvoker,
	titles *TitleGenerator,
	tools domain.ToolExecutor,
	opts OrchestratorOptions,
	logger *slog.Logger,
) *Orchestrator {
	if opts.MaxThreadsPerOwner <= 0 {
		opts.MaxThreadsPerOwner = 50
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		assembler: assembler,
		invoker:   invoker,
		titles:    titles,
		tools:     tools,
		opts:      opts,
		logger:    logger,
	}
}

// Chat processes one user turn. All precondition checks (ownership,
// thread limits) happen before any provider call; generation failures
// leave the store untouched.
func (o *Orchestrator) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	const op = "Orchestrator.Chat"

	ctx, span := tracer.StartSpan(ctx, "orchestrator.chat",
		trace.WithAttributes(tracer.StringAttr("thread.id", in.ThreadID)),
	)
	defer span.End()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		err := domain.NewDomainError(op, domain.ErrInvalidInput, "text must not be empty")
		tracer.RecordError(span, err)
		return nil, err
	}

	thread, isNew, err := o.resolveThread(ctx, in)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	// Ownership fails fast, before any token is spent.
	if !isNew && !thread.WritableBy(in.Caller) {
		err := domain.NewDomainError(op, domain.ErrForbidden, thread.ID)
		tracer.RecordError(span, err)
		return nil, err
	}

	// Thread-count limit applies only when an identified caller is about
	// to create a new thread, again before generation.
	if isNew && in.Caller != "" {
		n, err := o.store.CountByOwner(ctx, in.Caller)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp(op, err)
		}
		if n >= o.opts.MaxThreadsPerOwner {
			err := domain.NewDomainError(op, domain.ErrThreadLimit, in.Caller)
			tracer.RecordError(span, err)
			return nil, err
		}
	}

	userMsg := domain.Message{
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	history := append(slices.Clone(thread.Messages), userMsg)

	genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()

	turn, err := o.invoker.Invoke(genCtx, o.assembler.Build(history, o.tools.Schemas()))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}
	history = append(history, turn.Messages...)

	title := thread.Title
	if title == "" {
		title = o.titles.Generate(ctx, history)
	}

	if isNew {
		thread.ID = ulid.Make().String()
		thread.Title = title
		thread.Messages = history
		thread.Owner = in.Caller
		thread.IsPublic = in.IsPublic
		if err := o.store.Create(ctx, thread); err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp(op, err)
		}
	} else {
		updated, err := o.store.Update(ctx, thread.ID, history, title, in.Caller, thread.Version)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp(op, err)
		}
		thread = updated
	}

	o.applyCost(ctx, thread.ID, in.Caller, turn.Usage)

	o.logger.Info("chat turn completed",
		"thread", thread.ID,
		"new_thread", isNew,
		"messages", len(turn.Messages),
		"tokens", turn.Usage.TotalTokens,
	)
	tracer.SetOK(span)

	return &ChatOutput{
		ThreadID: thread.ID,
		Text:     turn.Text,
		Title:    title,
	}, nil
}

// resolveThread loads the referenced thread, or returns a fresh unsaved
// one. A reference to a thread that no longer exists degrades to a new
// thread rather than failing the request.
func (o *Orchestrator) resolveThread(ctx context.Context, in ChatInput) (*domain.Thread, bool, error) {
	if in.ThreadID == "" {
		return &domain.Thread{}, true, nil
	}

	thread, err := o.store.Get(ctx, in.ThreadID)
	if err == nil {
		return thread, false, nil
	}
	if errors.Is(err, domain.ErrThreadNotFound) {
		o.logger.Info("referenced thread missing, starting new thread", "thread", in.ThreadID)
		return &domain.Thread{}, true, nil
	}
	return nil, false, domain.WrapOp("Orchestrator.resolveThread", err)
}

// applyCost converts token usage into a cost delta and adds it to the
// thread's accumulator. Best-effort: the turn has already been persisted
// and responded to, so a failure here is logged, not surfaced.
func (o *Orchestrator) applyCost(ctx context.Context, threadID, caller string, usage domain.Usage) {
	delta := float64(usage.PromptTokens)/1000*o.opts.PromptCostPer1K +
		float64(usage.CompletionTokens)/1000*o.opts.CompletionCostPer1K
	if delta <= 0 {
		return
	}

	if _, err := o.store.AddCost(ctx, threadID, delta, caller); err != nil {
		o.logger.Warn("cost accounting failed", "thread", threadID, "delta", delta, "error", err)
	}
}

// GetThread returns a thread for display. Owned private threads are
// visible to their owner only; unowned and public threads to anyone.
func (o *Orchestrator) GetThread(ctx context.Context, id, caller string) (*domain.Thread, error) {
	const op = "Orchestrator.GetThread"

	thread, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if !thread.ReadableBy(caller) {
		return nil, domain.NewDomainError(op, domain.ErrForbidden, id)
	}
	return thread, nil
}

// ListThreads returns the caller's threads, newest first. Anonymous
// callers have nothing to list.
func (o *Orchestrator) ListThreads(ctx context.Context, caller string, limit int) ([]*domain.Thread, error) {
	const op = "Orchestrator.ListThreads"

	if caller == "" {
		return nil, domain.NewDomainError(op, domain.ErrUnauthorized, "listing requires a caller id")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	threads, err := o.store.ListByOwner(ctx, caller, limit)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	return threads, nil
}

// DeleteThread removes a thread under the same ownership rules as any
// other mutation.
func (o *Orchestrator) DeleteThread(ctx context.Context, id, caller string) error {
	return domain.WrapOp("Orchestrator.DeleteThread", o.store.Delete(ctx, id, caller))
}
