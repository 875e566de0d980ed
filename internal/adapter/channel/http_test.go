package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackpilot/internal/adapter/store"
	"stackpilot/internal/adapter/tool"
	"stackpilot/internal/domain"
	"stackpilot/internal/usecase"
)

// cannedProvider replays scripted assistant texts in order.
type cannedProvider struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (p *cannedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	if len(p.texts) == 0 {
		return nil, fmt.Errorf("cannedProvider: out of responses")
	}
	text := p.texts[0]
	p.texts = p.texts[1:]
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: text, Timestamp: time.Now()},
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (p *cannedProvider) Name() string { return "canned" }

func newTestServer(t *testing.T, provider domain.LLMProvider) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	st, err := store.NewSQLiteThreadStore(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := tool.NewRegistry(logger)
	require.NoError(t, registry.Register(tool.NewCalculatorTool(logger)))

	orch := usecase.NewOrchestrator(
		st,
		usecase.NewPromptAssembler("You recommend stacks.", 512),
		usecase.NewCompletionInvoker(provider, registry, 5, logger),
		usecase.NewTitleGenerator(provider, time.Second, logger),
		registry,
		usecase.OrchestratorOptions{MaxThreadsPerOwner: 3},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHTTPChannel("127.0.0.1:0", orch, logger)
	srv := httptest.NewServer(h.Routes(ctx, 1000, 1000))
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, caller string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/chat", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller-Id", caller)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, caller string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	require.NoError(t, err)
	if caller != "" {
		req.Header.Set("X-Caller-Id", caller)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestChatEndpoint(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"Use PostgreSQL.", "Database Advice"}})

	resp, body := postChat(t, srv, "alice", map[string]any{"text": "what db?"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Use PostgreSQL.", body["generated_text"])
	assert.Equal(t, "Database Advice", body["generated_title"])
	assert.NotEmpty(t, body["id"])
}

func TestChatEndpointContinuation(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"first", "Title Here", "second"}})

	_, first := postChat(t, srv, "alice", map[string]any{"text": "one"})
	id := first["id"].(string)

	resp, second := postChat(t, srv, "alice", map[string]any{"text": "two", "id": id})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, second["id"])
	assert.Equal(t, "second", second["generated_text"])
	assert.Equal(t, "Title Here", second["generated_title"])
}

func TestChatEndpointEmptyText(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{})

	resp, body := postChat(t, srv, "alice", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(domain.CodeInvalidInput), body["code"])
}

func TestChatEndpointInvalidJSON(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{})

	resp, err := http.Post(srv.URL+"/api/v1/chat", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpointForbidden(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"answer", "A Title"}})

	_, created := postChat(t, srv, "alice", map[string]any{"text": "mine"})
	id := created["id"].(string)

	resp, body := postChat(t, srv, "mallory", map[string]any{"text": "takeover", "id": id})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(domain.CodeForbidden), body["code"])
}

func TestChatEndpointUpstreamFailure(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{err: fmt.Errorf("%w: boom", domain.ErrUpstream)})

	resp, body := postChat(t, srv, "alice", map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, string(domain.CodeUpstream), body["code"])
}

func TestChatEndpointThreadLimit(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{
		"a1", "T1", "a2", "T2", "a3", "T3",
	}})

	for i := 0; i < 3; i++ {
		resp, _ := postChat(t, srv, "alice", map[string]any{"text": "new thread"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := postChat(t, srv, "alice", map[string]any{"text": "one too many"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, string(domain.CodeLimitExceeded), body["code"])
}

func TestGetThreadEndpoint(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"answer", "A Title"}})

	_, created := postChat(t, srv, "alice", map[string]any{"text": "question"})
	id := created["id"].(string)

	resp, body := doRequest(t, srv, http.MethodGet, "/api/v1/threads/"+id, "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view threadView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, "A Title", view.Title)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "question", view.Messages[0].Content)
	assert.Equal(t, "answer", view.Messages[1].Content)
}

func TestGetThreadEndpointAccessControl(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"answer", "A Title"}})

	_, created := postChat(t, srv, "alice", map[string]any{"text": "private stuff"})
	id := created["id"].(string)

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/v1/threads/"+id, "mallory")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/api/v1/threads/"+id, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGetThreadEndpointPublicThread(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"answer", "A Title"}})

	_, created := postChat(t, srv, "alice", map[string]any{"text": "shared", "is_public": true})
	id := created["id"].(string)

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/v1/threads/"+id, "bob")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetThreadEndpointNotFound(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/v1/threads/01ARZ3NDEKTSV4RRFFQ69G5FAV", "alice")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListThreadsEndpoint(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"a1", "T1", "a2", "T2"}})

	postChat(t, srv, "alice", map[string]any{"text": "first"})
	postChat(t, srv, "alice", map[string]any{"text": "second"})

	resp, body := doRequest(t, srv, http.MethodGet, "/api/v1/threads", "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing map[string][]threadSummary
	require.NoError(t, json.Unmarshal(body, &listing))
	assert.Len(t, listing["threads"], 2)
}

func TestListThreadsEndpointAnonymous(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/v1/threads", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeleteThreadEndpoint(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{texts: []string{"answer", "A Title"}})

	_, created := postChat(t, srv, "alice", map[string]any{"text": "temp"})
	id := created["id"].(string)

	resp, _ := doRequest(t, srv, http.MethodDelete, "/api/v1/threads/"+id, "mallory")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodDelete, "/api/v1/threads/"+id, "alice")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/api/v1/threads/"+id, "alice")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{})

	resp, body := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t, &cannedProvider{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}
