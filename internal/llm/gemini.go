package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/huangang/scamarena/backend/internal/config"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiReader struct{}

func (GeminiReader) Text(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}

func (GeminiReader) Usage(resp *genai.GenerateContentResponse) TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return TokenUsage{}
	}
	return TokenUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

type GeminiCaller struct {
	models      contentGenerator
	model       string
	maxTokens   int32
	temperature float64
}

func NewGeminiCaller(ctx context.Context, cfg config.ModelConfig) (*GeminiCaller, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini client error: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiCaller{
		models:      client.Models,
		model:       model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

func (c *GeminiCaller) Provider() string { return "gemini" }
func (c *GeminiCaller) Model() string    { return c.model }

func (c *GeminiCaller) Complete(ctx context.Context, inv *Invoker, req Request, meta CallMeta) *Invocation {
	genConfig := &genai.GenerateContentConfig{
		MaxOutputTokens: c.maxTokens,
	}
	if c.temperature > 0 {
		genConfig.Temperature = genai.Ptr(float32(c.temperature))
	}
	if req.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	call := func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), genConfig)
		if err != nil {
			return nil, fmt.Errorf("Gemini API error: %w", err)
		}
		return resp, nil
	}

	meta.Model = c.model
	meta.Prompt = promptContent(req)
	return Invoke[*genai.GenerateContentResponse](ctx, inv, call, GeminiReader{}, meta)
}
