// Package index embeds chunk sets and serves similarity search over
// the stored vectors.
package index

import (
	"context"

	"oculith/internal/config"
	"oculith/internal/services"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedder builds the embedder named by configuration.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	switch cfg.Embeddings.Provider {
	case "local":
		return NewLocalEmbedder(cfg.Embeddings.Dimensions), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "index", "new embedder",
			"unknown embeddings provider "+cfg.Embeddings.Provider, nil)
	}
}
