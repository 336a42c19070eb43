package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiLLM struct {
	client *genai.Client
	model  string
}

func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiLLM{client: client, model: model}, nil
}

func (g *GeminiLLM) Model() string { return g.model }

func (g *GeminiLLM) Complete(ctx context.Context, req LLMRequest) (*Completion, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(float32(req.Temperature))
	model.SetMaxOutputTokens(int32(req.MaxTokens))
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, err
	}

	text := responseText(resp)
	return &Completion{Text: text, Tokens: tokenUsage(resp, req, text)}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		// only the first candidate is used
		break
	}
	return sb.String()
}

// tokenUsage prefers the usage metadata and falls back to an estimate.
func tokenUsage(resp *genai.GenerateContentResponse, req LLMRequest, text string) int {
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	return estimateTokens(req.System, req.Prompt, text)
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
