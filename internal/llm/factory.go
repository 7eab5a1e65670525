// Package llm builds chat models from provider config and layers the JSON
// call discipline the extraction and planning flows rely on.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	einoclaude "github.com/cloudwego/eino-ext/components/model/claude"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/dayflow/internal/config"
)

const (
	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
)

// CreateModel creates a model.ToolCallingChatModel from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case "anthropic":
		return newAnthropic(ctx, cfg)
	case "openai":
		return newOpenAI(ctx, cfg)
	case "ollama":
		return newOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}

// Default resolves the configured default provider and builds it.
func Default(ctx context.Context, cfg config.ModelsConfig) (model.ToolCallingChatModel, error) {
	name := cfg.Default
	if name == "" && len(cfg.Providers) == 1 {
		for n := range cfg.Providers {
			name = n
		}
	}
	provider, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider named %q configured", name)
	}
	return CreateModel(ctx, provider)
}

func newAnthropic(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	conf := &einoclaude.Config{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		conf.BaseURL = &baseURL
	}
	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		conf.Temperature = &t
	}
	return einoclaude.NewChatModel(ctx, conf)
}

func newOpenAI(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	conf := &einoopenai.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		conf.MaxCompletionTokens = &maxTokens
	}
	if cfg.Timeout.Duration() > 0 {
		conf.Timeout = cfg.Timeout.Duration()
	} else {
		conf.Timeout = defaultTimeout
	}
	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		conf.Temperature = &t
	}
	return einoopenai.NewChatModel(ctx, conf)
}

func newOllama(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
		Timeout: timeout,
	})
}
