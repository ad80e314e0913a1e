// ABOUTME: Provider selection by configured name
// ABOUTME: Returns a nil Provider for "none" so the gateway runs in fallback mode

package generation

import (
	"context"
	"fmt"
)

// Provider names accepted by NewProvider.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// NewProvider builds the named provider. An empty name or "none" yields a
// nil Provider and no error. A named provider without an API key is also
// treated as unconfigured so local runs work without credentials.
func NewProvider(ctx context.Context, name string, cfg ProviderConfig) (Provider, error) {
	switch name {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		if cfg.APIKey == "" {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unknown generation provider %q", name)
	}

	switch name {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	default:
		return NewGeminiProvider(ctx, cfg)
	}
}
