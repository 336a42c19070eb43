package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"query-sphere/internal/config"
	"query-sphere/internal/logger"
	"query-sphere/models"
)

// Embedder turns texts into fixed-dimension vectors with one pinned model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Close() error
}

// NewEmbedder builds the configured provider wrapped with batching, the
// embed timeout and result validation.
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.EmbeddingsProvider {
	case "google":
		inner, err = NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel)
	case "ollama":
		inner, err = NewOllamaEmbedder(cfg.OllamaHost, cfg.OllamaEmbeddingsModel)
	case "openai":
		inner, err = NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIEmbeddingsModel, cfg.EmbedBatchSize)
	case "hashing", "":
		inner = NewHashingEmbedder(cfg.HashingDimensions)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Embedder ready", "provider", cfg.EmbeddingsProvider, "model", inner.Model())
	return NewBatchingEmbedder(inner, cfg.EmbedBatchSize, cfg.EmbedTimeout), nil
}

// BatchingEmbedder splits large inputs into provider-sized batches, bounds
// each call with a timeout and maps every failure to ErrEmbeddingUnavailable.
type BatchingEmbedder struct {
	inner     Embedder
	batchSize int
	timeout   time.Duration
}

func NewBatchingEmbedder(inner Embedder, batchSize int, timeout time.Duration) *BatchingEmbedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &BatchingEmbedder{inner: inner, batchSize: batchSize, timeout: timeout}
}

func (b *BatchingEmbedder) Model() string { return b.inner.Model() }

func (b *BatchingEmbedder) Close() error { return b.inner.Close() }

func (b *BatchingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	dim := 0
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))

		vectors, err := b.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
				models.ErrEmbeddingUnavailable, b.inner.Model(), len(vectors), end-start)
		}
		for _, v := range vectors {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector", models.ErrEmbeddingUnavailable)
			}
			if dim == 0 {
				dim = len(v)
			} else if len(v) != dim {
				return nil, fmt.Errorf("%w: dimension changed from %d to %d",
					models.ErrEmbeddingUnavailable, dim, len(v))
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (b *BatchingEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	vectors, err := b.inner.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, models.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", models.ErrEmbeddingUnavailable, b.inner.Model(), err)
	}
	return vectors, nil
}
