package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/huangang/scamarena/backend/internal/config"
)

type messageClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicReader reads Messages API responses, joining every text block.
type AnthropicReader struct{}

func (AnthropicReader) Text(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String()
}

func (AnthropicReader) Usage(resp *anthropic.Message) TokenUsage {
	if resp == nil {
		return TokenUsage{}
	}
	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)
	return TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

type AnthropicCaller struct {
	messages    messageClient
	model       string
	maxTokens   int64
	temperature float64
}

func NewAnthropicCaller(cfg config.ModelConfig) *AnthropicCaller {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return newAnthropicCaller(&client.Messages, cfg)
}

func newAnthropicCaller(messages messageClient, cfg config.ModelConfig) *AnthropicCaller {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 2000
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-haiku-20240307"
	}
	return &AnthropicCaller{
		messages:    messages,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *AnthropicCaller) Provider() string { return "anthropic" }
func (c *AnthropicCaller) Model() string    { return c.model }

func (c *AnthropicCaller) Complete(ctx context.Context, inv *Invoker, req Request, meta CallMeta) *Invocation {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}

	call := func(ctx context.Context) (*anthropic.Message, error) {
		resp, err := c.messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("Anthropic API error: %w", err)
		}
		return resp, nil
	}

	meta.Model = c.model
	meta.Prompt = promptContent(req)
	return Invoke[*anthropic.Message](ctx, inv, call, AnthropicReader{}, meta)
}
