package insights

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no Gemini model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// DefaultClaudeModel is the Claude model used for summaries.
const DefaultClaudeModel = "claude-haiku-4-5"

const maxSummaryTokens = 512

// GeminiSummarizer calls Gemini through the GenAI SDK. Credentials come from
// the environment (GOOGLE_API_KEY or Vertex settings).
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

// NewGeminiSummarizer creates a Gemini client for model.
func NewGeminiSummarizer(ctx context.Context, model string) (*GeminiSummarizer, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiSummarizer: create genai client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: model}, nil
}

// Name implements Summarizer.
func (g *GeminiSummarizer) Name() string { return "gemini:" + g.model }

// Summarize implements Summarizer.
func (g *GeminiSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// AnthropicSummarizer calls Claude through the Messages API.
type AnthropicSummarizer struct {
	client anthropic.Client
	model  string
}

// NewAnthropicSummarizer creates a Claude client. An empty apiKey falls back
// to ANTHROPIC_API_KEY from the environment.
func NewAnthropicSummarizer(apiKey, model string) *AnthropicSummarizer {
	if model == "" {
		model = DefaultClaudeModel
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicSummarizer{client: anthropic.NewClient(opts...), model: model}
}

// Name implements Summarizer.
func (a *AnthropicSummarizer) Name() string { return "anthropic:" + a.model }

// Summarize implements Summarizer.
func (a *AnthropicSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxSummaryTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages new: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

var (
	_ Summarizer = (*GeminiSummarizer)(nil)
	_ Summarizer = (*AnthropicSummarizer)(nil)
)

// NewSummarizer builds the summarizer for provider ("gemini" or
// "anthropic"). An empty provider returns ErrDisabled.
func NewSummarizer(ctx context.Context, provider, anthropicKey, geminiModel string) (Summarizer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "":
		return nil, ErrDisabled
	case "gemini":
		g, err := NewGeminiSummarizer(ctx, geminiModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "anthropic":
		return NewAnthropicSummarizer(anthropicKey, ""), nil
	default:
		return nil, fmt.Errorf("NewSummarizer: unknown provider %q", provider)
	}
}
