// ABOUTME: Builds the configured completion provider.
// ABOUTME: Provider "none" yields no completer, so only FAQ answers are given.

package assistant

import "fmt"

// ProviderConfig selects a completion provider.
type ProviderConfig struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// NewCompleter returns the Completer for cfg, or nil for provider "none".
func NewCompleter(cfg ProviderConfig) (Completer, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key not set")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAI(cfg.APIKey, model, cfg.BaseURL, cfg.MaxTokens), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic api key not set")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}
		return NewAnthropic(cfg.APIKey, model, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}
