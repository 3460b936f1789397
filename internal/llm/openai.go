package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/huangang/scamarena/backend/internal/config"
)

// OpenAIReader reads chat completion responses.
type OpenAIReader struct{}

func (OpenAIReader) Text(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func (OpenAIReader) Usage(resp openai.ChatCompletionResponse) TokenUsage {
	return TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
}

// OpenAICaller serves both OpenAI-compatible endpoints and Azure deployments.
type OpenAICaller struct {
	client      ChatCompleter
	provider    string
	model       string
	maxTokens   int
	temperature float64
}

// NewChatClient builds the OpenAI client for cfg. Azure deployments use the
// Azure auth scheme; everything else is an OpenAI-compatible endpoint.
func NewChatClient(cfg config.ModelConfig) *openai.Client {
	if cfg.Provider == "azure" {
		return openai.NewClientWithConfig(openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL))
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func NewOpenAICaller(cfg config.ModelConfig) *OpenAICaller {
	return newOpenAICaller(NewChatClient(cfg), "openai", cfg)
}

func NewAzureCaller(cfg config.ModelConfig) *OpenAICaller {
	return newOpenAICaller(NewChatClient(cfg), "azure", cfg)
}

// NewOpenAICallerWithClient builds a caller around an existing client.
func NewOpenAICallerWithClient(client ChatCompleter, cfg config.ModelConfig) *OpenAICaller {
	return newOpenAICaller(client, "openai", cfg)
}

func newOpenAICaller(client ChatCompleter, provider string, cfg config.ModelConfig) *OpenAICaller {
	return &OpenAICaller{
		client:      client,
		provider:    provider,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *OpenAICaller) Provider() string { return c.provider }
func (c *OpenAICaller) Model() string    { return c.model }

func (c *OpenAICaller) Complete(ctx context.Context, inv *Invoker, req Request, meta CallMeta) *Invocation {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
	}

	call := func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return resp, fmt.Errorf("%s API error: %w", c.provider, err)
		}
		if len(resp.Choices) == 0 {
			return resp, errors.New("no response from " + c.provider)
		}
		return resp, nil
	}

	meta.Model = c.model
	meta.Prompt = promptContent(req)
	return Invoke[openai.ChatCompletionResponse](ctx, inv, call, OpenAIReader{}, meta)
}
