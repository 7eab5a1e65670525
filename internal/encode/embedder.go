// Package encode turns persisted tasks into vector documents so later
// planning context can be retrieved semantically. Encoding failures never
// fail an ingestion run; they degrade it.
package encode

import (
	"context"
	"fmt"
	"strings"

	einoollama "github.com/cloudwego/eino-ext/components/embedding/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/dohr-michael/dayflow/internal/config"
)

// NewEmbedder creates an Eino Embedder from the embedding config.
// Supported drivers: "openai", "ollama".
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Driver) {
	case "openai":
		ecfg := &einoopenai.EmbeddingConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}
		if cfg.BaseURL != "" {
			ecfg.BaseURL = cfg.BaseURL
		}
		if cfg.Dims > 0 {
			dims := cfg.Dims
			ecfg.Dimensions = &dims
		}
		return einoopenai.NewEmbedder(ctx, ecfg)
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return einoollama.NewEmbedder(ctx, &einoollama.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding driver %q (supported: openai, ollama)", cfg.Driver)
	}
}
