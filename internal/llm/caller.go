package llm

import (
	"context"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

// NewModelCaller picks the provider implementation for cfg. Unknown providers
// are treated as OpenAI-compatible endpoints.
func NewModelCaller(ctx context.Context, cfg config.ModelConfig) (ModelCaller, error) {
	logger.Infof("[LLM] Using provider: %s, model: %s, baseURL: %s", cfg.Provider, cfg.Model, cfg.BaseURL)

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicCaller(cfg), nil
	case "ollama":
		return NewOllamaCaller(cfg)
	case "gemini":
		return NewGeminiCaller(ctx, cfg)
	case "azure":
		return NewAzureCaller(cfg), nil
	default:
		return NewOpenAICaller(cfg), nil
	}
}
