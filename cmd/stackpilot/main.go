package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stackpilot/internal/adapter/channel"
	"stackpilot/internal/adapter/llm"
	"stackpilot/internal/adapter/store"
	"stackpilot/internal/adapter/tool"
	"stackpilot/internal/domain"
	"stackpilot/internal/infra/config"
	"stackpilot/internal/infra/logger"
	"stackpilot/internal/infra/tracer"
	"stackpilot/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("setup tracer: %w", err)
	}

	threads, err := store.NewSQLiteThreadStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer threads.Close()

	provider := buildProvider(ctx, cfg, log)
	registry := buildTools(cfg, log)

	orch := usecase.NewOrchestrator(
		threads,
		usecase.NewPromptAssembler(cfg.Orchestrator.SystemPrompt, cfg.Orchestrator.MaxTokens),
		usecase.NewCompletionInvoker(provider, registry, cfg.Orchestrator.MaxSteps, log),
		usecase.NewTitleGenerator(provider, cfg.Orchestrator.TitleTimeout, log),
		registry,
		usecase.OrchestratorOptions{
			MaxThreadsPerOwner:  cfg.Orchestrator.MaxThreadsPerOwner,
			GenerationTimeout:   cfg.Orchestrator.GenerationTimeout,
			PromptCostPer1K:     cfg.Orchestrator.Pricing.PromptPer1K,
			CompletionCostPer1K: cfg.Orchestrator.Pricing.CompletionPer1K,
		},
		log,
	)

	api := channel.NewHTTPChannel(cfg.Server.Addr, orch, log)
	if err := api.Start(ctx, cfg.Server.RequestsPerMin, cfg.Server.BurstSize); err != nil {
		return err
	}

	log.Info("stackpilot started", "addr", api.Addr(), "provider", provider.Name())
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", "error", err)
	}
	return nil
}

// buildProvider resolves the configured model alias and wires the
// provider behind a circuit breaker when enabled.
func buildProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) domain.LLMProvider {
	resolveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	model := llm.ResolveModel(resolveCtx, cfg.LLM.Provider, log)

	var provider domain.LLMProvider = llm.NewOpenAIProvider(cfg.LLM.Provider, model, log)
	if cfg.LLM.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cfg.LLM.CircuitBreaker, log)
	}
	return provider
}

// buildTools registers the tool set. Web search joins only when a
// search instance is configured.
func buildTools(cfg *config.Config, log *slog.Logger) *tool.Registry {
	registry := tool.NewRegistry(log)

	register := func(t domain.Tool) {
		if err := registry.Register(t); err != nil {
			log.Warn("tool registration failed", "tool", t.Name(), "error", err)
		}
	}

	register(tool.NewStackCatalogTool(log))
	register(tool.NewCalculatorTool(log))

	if ws := cfg.Tools.WebSearch; ws.BaseURL != "" {
		backend := tool.NewSearXNGBackend(ws.BaseURL, ws.Timeout, log)
		register(tool.NewWebSearchTool(backend, ws.MaxResults, log))
	}

	return registry
}
