// Package embedding builds the configured domain.Embedder.
package embedding

import (
	"fmt"
	"time"

	"synthia/internal/config"
	"synthia/internal/domain"
	"synthia/internal/embedding/hashing"
	"synthia/internal/embedding/ollama"
	"synthia/internal/embedding/openai"
)

// New selects the embedder implementation named by cfg.Type.
func New(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		dim := 0
		if cfg.Hashing != nil {
			dim = cfg.Hashing.Dimension
		}
		return hashing.NewEmbedder(dim), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		return openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Dimension: cfg.OpenAI.Dimension,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		})
	case "ollama":
		if cfg.Ollama == nil {
			return nil, fmt.Errorf("ollama embedder config missing")
		}
		return ollama.NewClient(ollama.Config{
			BaseURL:    cfg.Ollama.BaseURL,
			APIKeyEnv:  cfg.Ollama.APIKeyEnv,
			Model:      cfg.Ollama.Model,
			Dimension:  cfg.Ollama.Dimension,
			Timeout:    time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Ollama.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}
