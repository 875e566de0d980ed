package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"stackpilot/internal/infra/config"
)

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ResolveModel resolves the configured logical model alias against the
// provider's model listing at startup. An exact match wins; otherwise the
// first listed model containing the alias as a substring is taken. When
// the listing is unreachable or nothing matches, the configured fallback
// model is used so the service still starts.
func ResolveModel(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) string {
	fallback := cfg.FallbackModel
	if fallback == "" {
		fallback = cfg.Model
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" || cfg.Model == "" {
		return fallback
	}

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}

	client := NewHTTPClient(cfg)
	body, err := doGETRequest(ctx, client, baseURL+"/models", headers)
	if err != nil {
		logger.Warn("model listing unavailable, using fallback",
			"alias", cfg.Model, "fallback", fallback, "error", err)
		return fallback
	}

	var listing modelListResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		logger.Warn("model listing unparseable, using fallback",
			"alias", cfg.Model, "fallback", fallback, "error", err)
		return fallback
	}

	resolved, err := matchModel(cfg.Model, listing)
	if err != nil {
		logger.Warn("model alias unmatched, using fallback",
			"alias", cfg.Model, "fallback", fallback, "error", err)
		return fallback
	}

	logger.Info("model resolved", "alias", cfg.Model, "model", resolved)
	return resolved
}

func matchModel(alias string, listing modelListResponse) (string, error) {
	for _, m := range listing.Data {
		if m.ID == alias {
			return m.ID, nil
		}
	}
	for _, m := range listing.Data {
		if strings.Contains(m.ID, alias) {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("no model matching %q among %d listed", alias, len(listing.Data))
}
