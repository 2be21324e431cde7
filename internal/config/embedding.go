package config

import "fmt"

const (
	EmbeddingProviderOpenAI           = "openai"
	EmbeddingProviderOpenAICompatible = "openai-compatible"
	EmbeddingProviderJina             = "jina"
)

// EmbeddingConfig selects the provider that turns analysis text into a vector.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// Validate checks that the embedding configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *EmbeddingConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("embedding: model is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Model)
	}

	switch c.Provider {
	case EmbeddingProviderOpenAI, EmbeddingProviderOpenAICompatible, EmbeddingProviderJina:
	default:
		return fmt.Errorf("embedding %q: unknown provider %q", c.Model, c.Provider)
	}

	if c.Provider == EmbeddingProviderOpenAICompatible && c.BaseURL == "" {
		return fmt.Errorf("embedding %q: base_url is required for %s", c.Model, c.Provider)
	}
	return nil
}

// ValidateWithAPIKey validates the configuration including the API key.
func (c *EmbeddingConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("embedding %q: api_key is required", c.Model)
	}
	return nil
}
