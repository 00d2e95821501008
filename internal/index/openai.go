package index

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"oculith/internal/config"
	"oculith/internal/services"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
// Local services that skip authentication work with an empty API key.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
}

// NewOpenAIEmbedder builds an embedder against cfg.Embeddings.BaseURL.
func NewOpenAIEmbedder(cfg *config.Config) (*OpenAIEmbedder, error) {
	token := cfg.Embeddings.APIKey
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.Embeddings.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Embeddings.Model),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "index", "new embedder", "build openai client", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "index", "new embedder", "wrap embedder", err)
	}
	return &OpenAIEmbedder{embedder: embedder}, nil
}

func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, services.Wrap(services.ErrCollaborator, "index", "embed text", "embedder returned no vector", nil)
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "index", "embed texts", "embedding request failed", err)
	}
	return vectors, nil
}
