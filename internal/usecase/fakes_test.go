package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"stackpilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// scriptedProvider replays a fixed sequence of responses (or errors) and
// records every request it sees.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []scriptedStep
	requests []domain.ChatRequest
}

type scriptedStep struct {
	resp *domain.ChatResponse
	err  error
}

func respondText(text string) scriptedStep {
	return scriptedStep{resp: &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: text, Timestamp: time.Now()},
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

func respondToolCall(id, name, args string) scriptedStep {
	return scriptedStep{resp: &domain.ChatResponse{
		Message: domain.Message{
			Role: domain.RoleAssistant,
			ToolCalls: []domain.ToolCall{
				{ID: id, Name: name, Arguments: json.RawMessage(args)},
			},
			Timestamp: time.Now(),
		},
		Usage: domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

func respondError(err error) scriptedStep {
	return scriptedStep{err: err}
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return nil, fmt.Errorf("scriptedProvider: no steps left (call %d)", len(p.requests))
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// fakeTool returns a canned result and records the arguments it was
// called with.
type fakeTool struct {
	name    string
	result  *domain.ToolResult
	err     error
	gotArgs []json.RawMessage
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }
func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        f.name,
		Description: f.Description(),
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}
}

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	f.gotArgs = append(f.gotArgs, params)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.ToolResult{Content: "ok"}, nil
}

// fakeExecutor is a map-backed domain.ToolExecutor.
type fakeExecutor struct {
	tools map[string]domain.Tool
}

func newFakeExecutor(tools ...domain.Tool) *fakeExecutor {
	m := make(map[string]domain.Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &fakeExecutor{tools: m}
}

func (e *fakeExecutor) Get(name string) (domain.Tool, error) {
	t, ok := e.tools[name]
	if !ok {
		return nil, domain.NewDomainError("fakeExecutor.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (e *fakeExecutor) Schemas() []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(e.tools))
	for _, t := range e.tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// memStore is an in-memory ThreadStore with the same conditional-write
// semantics as the SQLite adapter.
type memStore struct {
	mu      sync.Mutex
	threads map[string]*domain.Thread

	failCreate  error
	failUpdate  error
	failAddCost error
}

func newMemStore() *memStore {
	return &memStore{threads: make(map[string]*domain.Thread)}
}

func cloneThread(t *domain.Thread) *domain.Thread {
	c := *t
	c.Messages = slices.Clone(t.Messages)
	return &c
}

func (s *memStore) Create(ctx context.Context, t *domain.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate != nil {
		return s.failCreate
	}
	if _, exists := s.threads[t.ID]; exists {
		return domain.NewDomainError("memStore.Create", domain.ErrThreadExists, t.ID)
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Version == 0 {
		t.Version = 1
	}
	s.threads[t.ID] = cloneThread(t)
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, domain.NewDomainError("memStore.Get", domain.ErrThreadNotFound, id)
	}
	return cloneThread(t), nil
}

func (s *memStore) Update(ctx context.Context, id string, messages []domain.Message, title string, expectedOwner string, expectedVersion int64) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpdate != nil {
		return nil, s.failUpdate
	}
	t, ok := s.threads[id]
	if !ok {
		return nil, domain.NewDomainError("memStore.Update", domain.ErrThreadNotFound, id)
	}
	if t.Owner != "" && t.Owner != expectedOwner {
		return nil, domain.NewDomainError("memStore.Update", domain.ErrForbidden, id)
	}
	if t.Version != expectedVersion {
		return nil, domain.NewDomainError("memStore.Update", domain.ErrConflict, id)
	}
	t.Messages = slices.Clone(messages)
	t.Title = title
	t.Version++
	t.UpdatedAt = time.Now()
	return cloneThread(t), nil
}

func (s *memStore) AddCost(ctx context.Context, id string, delta float64, expectedOwner string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAddCost != nil {
		return 0, s.failAddCost
	}
	t, ok := s.threads[id]
	if !ok {
		return 0, domain.NewDomainError("memStore.AddCost", domain.ErrThreadNotFound, id)
	}
	if t.Owner != "" && t.Owner != expectedOwner {
		return 0, domain.NewDomainError("memStore.AddCost", domain.ErrForbidden, id)
	}
	t.Cost += delta
	return t.Cost, nil
}

func (s *memStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Thread
	for _, t := range s.threads {
		if t.Owner == owner {
			out = append(out, cloneThread(t))
		}
	}
	slices.SortFunc(out, func(a, b *domain.Thread) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CountByOwner(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.threads {
		if t.Owner == owner {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Delete(ctx context.Context, id string, expectedOwner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return domain.NewDomainError("memStore.Delete", domain.ErrThreadNotFound, id)
	}
	if t.Owner != "" && t.Owner != expectedOwner {
		return domain.NewDomainError("memStore.Delete", domain.ErrForbidden, id)
	}
	delete(s.threads, id)
	return nil
}

var _ domain.ThreadStore = (*memStore)(nil)
var _ domain.LLMProvider = (*scriptedProvider)(nil)
var _ domain.ToolExecutor = (*fakeExecutor)(nil)
