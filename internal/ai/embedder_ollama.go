package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// OllamaEmbedder generates embeddings with a local Ollama server.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

// ollamaClient uses host when set, otherwise OLLAMA_HOST via envconfig.
func ollamaClient(host string) (*api.Client, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = u
	}
	return api.NewClient(hostURL, http.DefaultClient), nil
}

func NewOllamaEmbedder(host, model string) (*OllamaEmbedder, error) {
	client, err := ollamaClient(host)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{client: client, model: model}, nil
}

func (o *OllamaEmbedder) Model() string { return o.model }

func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	return resp.Embeddings, nil
}

func (o *OllamaEmbedder) Close() error { return nil }
