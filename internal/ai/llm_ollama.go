package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaLLM generates answers with a local Ollama model.
type OllamaLLM struct {
	client *api.Client
	model  string
}

func NewOllamaLLM(host, model string) (*OllamaLLM, error) {
	client, err := ollamaClient(host)
	if err != nil {
		return nil, err
	}
	return &OllamaLLM{client: client, model: model}, nil
}

func (o *OllamaLLM) Model() string { return o.model }

func (o *OllamaLLM) Complete(ctx context.Context, req LLMRequest) (*Completion, error) {
	stream := false
	greq := api.GenerateRequest{
		Model:  o.model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.JSON {
		greq.Format = json.RawMessage(`"json"`)
	}

	var (
		sb     strings.Builder
		tokens int
	)
	err := o.client.Generate(ctx, &greq, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		if resp.Done {
			tokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	text := sb.String()
	if tokens == 0 {
		tokens = estimateTokens(req.System, req.Prompt, text)
	}
	return &Completion{Text: text, Tokens: tokens}, nil
}

func (o *OllamaLLM) Close() error { return nil }
