package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"stackpilot/internal/domain"
	"stackpilot/internal/infra/middleware"
	"stackpilot/internal/usecase"
)

// callerHeader carries the caller identity. Identity provisioning (auth
// proxies, gateways) is an external collaborator; an absent header means
// an anonymous caller.
const callerHeader = "X-Caller-Id"

const maxRequestBody = 1 << 20 // 1MB

// HTTPChannel exposes the orchestrator as a JSON HTTP API.
type HTTPChannel struct {
	orch   *usecase.Orchestrator
	server *http.Server
	logger *slog.Logger
	addr   string

	// Actual bound address (set after Start).
	boundAddr string

	cancel context.CancelFunc
}

// NewHTTPChannel creates the HTTP API channel.
func NewHTTPChannel(addr string, orch *usecase.Orchestrator, logger *slog.Logger) *HTTPChannel {
	return &HTTPChannel{
		addr:   addr,
		orch:   orch,
		logger: logger,
	}
}

// Routes returns the channel's handler with middleware applied. ctx
// bounds the rate limiter's cleanup goroutine.
func (h *HTTPChannel) Routes(ctx context.Context, requestsPerMin, burstSize int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", h.handleChat)
	mux.HandleFunc("GET /api/v1/threads", h.handleListThreads)
	mux.HandleFunc("GET /api/v1/threads/{id}", h.handleGetThread)
	mux.HandleFunc("DELETE /api/v1/threads/{id}", h.handleDeleteThread)
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)

	return middleware.SecurityHeaders(
		middleware.RateLimit(ctx, requestsPerMin, burstSize)(mux),
	)
}

// Start begins serving. Non-blocking; the server runs in a goroutine.
func (h *HTTPChannel) Start(ctx context.Context, requestsPerMin, burstSize int) error {
	ctx, h.cancel = context.WithCancel(ctx)

	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Routes(ctx, requestsPerMin, burstSize),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      180 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.logger.Info("http api started", "addr", h.boundAddr)
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Addr returns the bound address after Start.
func (h *HTTPChannel) Addr() string { return h.boundAddr }

// --- wire types ---

type chatRequest struct {
	Text     string `json:"text"`
	ThreadID string `json:"id,omitempty"`
	IsPublic bool   `json:"is_public,omitempty"`
}

type chatResponse struct {
	ThreadID       string `json:"id"`
	GeneratedText  string `json:"generated_text"`
	GeneratedTitle string `json:"generated_title"`
}

type messageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type threadView struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Messages []messageView `json:"messages"`
	IsPublic bool          `json:"is_public"`
	Cost     float64       `json:"cost"`
}

type threadSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

// --- handlers ---

func (h *HTTPChannel) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "invalid JSON: " + err.Error()
		if err.Error() == "http: request body too large" {
			msg = "request body too large (max 1MB)"
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: domain.CodeInvalidInput})
		return
	}

	out, err := h.orch.Chat(r.Context(), usecase.ChatInput{
		Caller:   r.Header.Get(callerHeader),
		ThreadID: req.ThreadID,
		Text:     req.Text,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ThreadID:       out.ThreadID,
		GeneratedText:  out.Text,
		GeneratedTitle: out.Title,
	})
}

func (h *HTTPChannel) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.orch.GetThread(r.Context(), r.PathValue("id"), r.Header.Get(callerHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}

	display := thread.DisplayMessages()
	msgs := make([]messageView, 0, len(display))
	for _, m := range display {
		msgs = append(msgs, messageView{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}

	writeJSON(w, http.StatusOK, threadView{
		ID:       thread.ID,
		Title:    thread.Title,
		Messages: msgs,
		IsPublic: thread.IsPublic,
		Cost:     thread.Cost,
	})
}

func (h *HTTPChannel) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.orch.ListThreads(r.Context(), r.Header.Get(callerHeader), 50)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]threadSummary, 0, len(threads))
	for _, t := range threads {
		out = append(out, threadSummary{ID: t.ID, Title: t.Title, UpdatedAt: t.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string][]threadSummary{"threads": out})
}

func (h *HTTPChannel) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	err := h.orch.DeleteThread(r.Context(), r.PathValue("id"), r.Header.Get(callerHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- error mapping ---

// statusForCode maps domain error codes to HTTP statuses. Provider and
// tool failures surface as 502: the service is fine, the upstream is not.
func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeThreadNotFound:
		return http.StatusNotFound
	case domain.CodeThreadExists, domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeLimitExceeded, domain.CodeRateLimit:
		return http.StatusTooManyRequests
	case domain.CodeUpstream, domain.CodeAuthInvalid, domain.CodeToolFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPChannel) writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	status := statusForCode(code)
	if status >= 500 {
		h.logger.Error("request failed", "code", code, "error", err)
	} else {
		h.logger.Debug("request rejected", "code", code, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
