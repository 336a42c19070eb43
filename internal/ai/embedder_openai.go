package ai

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	embedder *embeddings.EmbedderImpl
	model    string
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, batchSize int) (*OpenAIEmbedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}

	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(llm, opts...)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{embedder: embedder, model: model}, nil
}

func (o *OpenAIEmbedder) Model() string { return o.model }

func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return o.embedder.EmbedDocuments(ctx, texts)
}

func (o *OpenAIEmbedder) Close() error { return nil }
