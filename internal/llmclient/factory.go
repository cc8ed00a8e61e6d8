// -- internal/llmclient/factory.go --
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/config"
)

// NewClient is a factory that builds the tiered, rate-limited LLM client
// stack for the configured provider.
func NewClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newProviderClient(ctx, cfg.Provider, cfg.Fast, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := newProviderClient(ctx, cfg.Provider, cfg.Powerful, logger)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}
	return NewRouter(logger, fast, powerful, cfg.RequestsPerSecond)
}

func newProviderClient(ctx context.Context, provider config.LLMProvider, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	case config.ProviderGoogleGenAI:
		return NewGenAIClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s, %s]",
			provider, config.ProviderGemini, config.ProviderGoogleGenAI)
	}
}
