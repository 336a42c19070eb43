package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"query-sphere/internal/ai"
	"query-sphere/internal/logger"
	"query-sphere/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const systemPrompt = `You are a helpful assistant designed to answer questions about a document.
Your response MUST be a valid JSON object with these keys:
- "relevant_clause": The most relevant text from the context
- "explanation": How the clause answers the query
- "source_reference": Where the clause was found
If the answer cannot be found, state that in "explanation".`

// FallbackExplanation is used when the model reply is not the expected JSON.
const FallbackExplanation = "Invalid JSON response. Showing most relevant clause."

const (
	promptHead  = "Based ONLY on this CONTEXT, answer the QUERY.\n\nCONTEXT:\n"
	promptQuery = "\n\nQUERY: "

	// minContextChars is the room always left for retrieved text, so a
	// question can never crowd the context out of the prompt entirely.
	minContextChars = 64
)

type AnswererOptions struct {
	MaxPromptChars   int
	MaxQuestionChars int
	MaxTokens        int
	Temperature      float64
}

// Answerer builds a bounded prompt from retrieved chunks, asks the LLM once
// and turns the reply into a structured answer.
type Answerer struct {
	llm  ai.LLMClient
	opts AnswererOptions
	md   goldmark.Markdown
}

func NewAnswerer(llm ai.LLMClient, opts AnswererOptions) *Answerer {
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 24000
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.MaxQuestionChars <= 0 {
		opts.MaxQuestionChars = 2000
	}
	return &Answerer{
		llm:  llm,
		opts: opts,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// MaxQuestionChars is the longest question, in runes, that still leaves
// minContextChars of context inside MaxPromptChars.
func (a *Answerer) MaxQuestionChars() int {
	fixed := utf8.RuneCountInString(systemPrompt) + utf8.RuneCountInString(promptHead) +
		utf8.RuneCountInString(promptQuery) + minContextChars
	return max(min(a.opts.MaxQuestionChars, a.opts.MaxPromptChars-fixed), 0)
}

// Answer requires at least one retrieved chunk. LLM failures are returned
// as the models.ErrLLM* family; only malformed replies fall back to the top chunk.
func (a *Answerer) Answer(ctx context.Context, question string, hits []models.ScoredChunk) (*models.Answer, error) {
	if len(hits) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if limit := a.MaxQuestionChars(); utf8.RuneCountInString(question) > limit {
		return nil, fmt.Errorf("%w: %d characters allowed", models.ErrQuestionTooLong, limit)
	}

	started := time.Now()
	prompt, used := a.BuildPrompt(question, hits)
	req := ai.LLMRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
		JSON:        true,
	}

	completion, err := a.llm.Complete(ctx, req)
	if err != nil && errors.Is(err, ai.ErrTransient) && ctx.Err() == nil {
		logger.Warn("Retrying LLM call after transient failure", "error", err)
		completion, err = a.llm.Complete(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	answer := a.parse(completion.Text, used)
	answer.Question = question
	answer.Sources = used
	answer.Model = a.llm.Model()
	answer.LatencyMs = time.Since(started).Milliseconds()
	answer.AnsweredAt = time.Now().UTC()
	answer.ExplanationHTML = a.renderHTML(answer.Explanation)
	return answer, nil
}

// BuildPrompt adds chunks in descending similarity until MaxPromptChars is
// reached and returns the chunks that made it in. The system prompt, the
// question and the context all count against the limit. A question longer
// than MaxQuestionChars is cut, and when not even the best chunk fits whole
// it is truncated.
func (a *Answerer) BuildPrompt(question string, hits []models.ScoredChunk) (string, []models.ScoredChunk) {
	if q := []rune(question); len(q) > a.MaxQuestionChars() {
		question = string(q[:a.MaxQuestionChars()])
	}
	head := promptHead
	tail := promptQuery + question

	budget := a.opts.MaxPromptChars - utf8.RuneCountInString(systemPrompt) -
		utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)

	var (
		blocks []string
		used   []models.ScoredChunk
		size   int
	)
	for _, h := range hits {
		block := contextBlock(h.Chunk)
		cost := utf8.RuneCountInString(block)
		if len(blocks) > 0 {
			cost += 2 // blank line separator
		}
		if size+cost > budget {
			break
		}
		blocks = append(blocks, block)
		used = append(used, h)
		size += cost
	}

	if len(blocks) == 0 {
		top := hits[0]
		prefix := "Source: " + top.Chunk.Source + "\nText: "
		room := max(budget-utf8.RuneCountInString(prefix), 0)
		text := []rune(top.Chunk.Text)
		if len(text) > room {
			text = text[:room]
		}
		blocks = append(blocks, prefix+string(text))
		used = append(used, top)
	}

	return head + strings.Join(blocks, "\n\n") + tail, used
}

func contextBlock(c models.Chunk) string {
	return "Source: " + c.Source + "\nText: " + c.Text
}

type llmReply struct {
	RelevantClause  any `json:"relevant_clause"`
	Explanation     any `json:"explanation"`
	SourceReference any `json:"source_reference"`
}

func (a *Answerer) parse(raw string, used []models.ScoredChunk) *models.Answer {
	var reply llmReply
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &reply); err == nil {
		ans := &models.Answer{
			RelevantClause:  stringify(reply.RelevantClause),
			Explanation:     stringify(reply.Explanation),
			SourceReference: stringify(reply.SourceReference),
		}
		if ans.RelevantClause != "" || ans.Explanation != "" {
			return ans
		}
	}

	logger.Warn("LLM reply is not the expected JSON, using top chunk", "reply_chars", len(raw))
	top := used[0].Chunk
	return &models.Answer{
		RelevantClause:  top.Text,
		Explanation:     FallbackExplanation,
		SourceReference: top.Source,
		Fallback:        true,
	}
}

// stripCodeFence removes a ```json ... ``` wrapper some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// stringify flattens JSON values the model sometimes returns instead of strings.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func (a *Answerer) renderHTML(markdown string) string {
	if markdown == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := a.md.Convert([]byte(markdown), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
