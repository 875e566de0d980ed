package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"stackpilot/internal/domain"
	"stackpilot/internal/infra/tracer"
)

// CatalogEntry describes one technology the assistant can recommend.
type CatalogEntry struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Summary  string   `json:"summary"`
	GoodFor  []string `json:"good_for"`
	Caveats  string   `json:"caveats,omitempty"`
}

// StackCatalogTool looks up technologies from a curated catalog, grouped
// by category. It gives the model a consistent factual base to recommend
// from instead of relying on its training data alone.
type StackCatalogTool struct {
	entries map[string][]CatalogEntry
	logger  *slog.Logger
}

// NewStackCatalogTool creates the catalog tool with the built-in catalog.
func NewStackCatalogTool(logger *slog.Logger) *StackCatalogTool {
	return &StackCatalogTool{entries: builtinCatalog(), logger: logger}
}

func (t *StackCatalogTool) Name() string { return "stack_catalog" }
func (t *StackCatalogTool) Description() string {
	return "Look up technologies from the curated stack catalog by category"
}

func (t *StackCatalogTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {"type": "string", "enum": ["database", "cache", "queue", "framework", "hosting"], "description": "Technology category to list"},
				"name": {"type": "string", "description": "Look up a single entry by name (optional)"}
			},
			"required": ["category"]
		}`),
	}
}

type catalogParams struct {
	Category string `json:"category"`
	Name     string `json:"name,omitempty"`
}

func (t *StackCatalogTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.stack_catalog", t.logger, params,
		func(ctx context.Context, span trace.Span, p catalogParams) (any, error) {
			span.SetAttributes(tracer.StringAttr("tool.category", p.Category))

			entries, ok := t.entries[p.Category]
			if !ok {
				return nil, fmt.Errorf("unknown category %q", p.Category)
			}

			if p.Name != "" {
				for _, e := range entries {
					if strings.EqualFold(e.Name, p.Name) {
						return e, nil
					}
				}
				return nil, fmt.Errorf("no entry %q in category %q", p.Name, p.Category)
			}

			return entries, nil
		},
	)
}

func builtinCatalog() map[string][]CatalogEntry {
	return map[string][]CatalogEntry{
		"database": {
			{Name: "PostgreSQL", Category: "database", Summary: "Relational database with strong SQL support and extensions",
				GoodFor: []string{"transactional workloads", "relational data", "JSON documents via jsonb"},
				Caveats: "operational overhead for small single-binary deployments"},
			{Name: "SQLite", Category: "database", Summary: "Embedded single-file SQL database",
				GoodFor: []string{"single-node services", "edge deployments", "local-first apps"},
				Caveats: "single writer; not for high write concurrency"},
			{Name: "MongoDB", Category: "database", Summary: "Document database with flexible schemas",
				GoodFor: []string{"rapidly evolving schemas", "document-shaped data"},
				Caveats: "weaker cross-document transactional guarantees than relational stores"},
		},
		"cache": {
			{Name: "Redis", Category: "cache", Summary: "In-memory data store for caching, queues, and counters",
				GoodFor: []string{"session caching", "rate limiting", "pub/sub"}},
			{Name: "Memcached", Category: "cache", Summary: "Simple distributed memory cache",
				GoodFor: []string{"plain key-value caching at scale"},
				Caveats: "no persistence or rich data types"},
		},
		"queue": {
			{Name: "NATS", Category: "queue", Summary: "Lightweight messaging system with optional persistence via JetStream",
				GoodFor: []string{"service-to-service messaging", "low-latency events"}},
			{Name: "Kafka", Category: "queue", Summary: "Distributed event log for high-throughput streaming",
				GoodFor: []string{"event sourcing", "analytics pipelines"},
				Caveats: "heavy to operate for small teams"},
			{Name: "RabbitMQ", Category: "queue", Summary: "Broker with flexible routing and per-message acknowledgement",
				GoodFor: []string{"task queues", "complex routing topologies"}},
		},
		"framework": {
			{Name: "Go net/http", Category: "framework", Summary: "Standard library HTTP server with routing enhancements since 1.22",
				GoodFor: []string{"APIs with minimal dependencies", "long-term maintainability"}},
			{Name: "Django", Category: "framework", Summary: "Batteries-included Python web framework",
				GoodFor: []string{"admin-heavy CRUD apps", "fast prototyping"}},
			{Name: "Rails", Category: "framework", Summary: "Convention-over-configuration Ruby framework",
				GoodFor: []string{"product teams iterating quickly on server-rendered apps"}},
			{Name: "Next.js", Category: "framework", Summary: "React framework with server rendering and static generation",
				GoodFor: []string{"content-heavy frontends", "hybrid SSR/SSG sites"}},
		},
		"hosting": {
			{Name: "Fly.io", Category: "hosting", Summary: "Run containers close to users on a global network",
				GoodFor: []string{"latency-sensitive full-stack apps", "SQLite-backed services"}},
			{Name: "AWS", Category: "hosting", Summary: "Full-breadth cloud platform",
				GoodFor: []string{"teams needing managed everything", "compliance-heavy workloads"},
				Caveats: "cost and complexity grow quickly"},
			{Name: "Hetzner", Category: "hosting", Summary: "Bare-metal and VPS hosting at low cost",
				GoodFor: []string{"predictable workloads", "cost-sensitive self-managed deployments"}},
		},
	}
}
