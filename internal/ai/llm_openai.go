package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAICompatibleLLM serves Groq, OpenAI and any other endpoint speaking the
// OpenAI chat completions protocol.
type OpenAICompatibleLLM struct {
	llm   *openai.LLM
	model string
}

func NewOpenAICompatibleLLM(baseURL, apiKey, model string) (*OpenAICompatibleLLM, error) {
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &OpenAICompatibleLLM{llm: llm, model: model}, nil
}

func (o *OpenAICompatibleLLM) Model() string { return o.model }

func (o *OpenAICompatibleLLM) Complete(ctx context.Context, req LLMRequest) (*Completion, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := o.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices returned")
	}

	choice := resp.Choices[0]
	tokens := 0
	if v, ok := choice.GenerationInfo["TotalTokens"].(int); ok {
		tokens = v
	}
	if tokens == 0 {
		tokens = estimateTokens(req.System, req.Prompt, choice.Content)
	}
	return &Completion{Text: choice.Content, Tokens: tokens}, nil
}

func (o *OpenAICompatibleLLM) Close() error { return nil }
