package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/huangang/scamarena/backend/internal/config"
)

type chatStreamer interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// OllamaResult is a streamed chat folded into one response. Final holds the
// last chunk, which carries the eval counters.
type OllamaResult struct {
	Content string
	Final   api.ChatResponse
}

type OllamaReader struct{}

func (OllamaReader) Text(resp OllamaResult) string {
	return resp.Content
}

func (OllamaReader) Usage(resp OllamaResult) TokenUsage {
	in := resp.Final.PromptEvalCount
	out := resp.Final.EvalCount
	return TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

type OllamaCaller struct {
	client      chatStreamer
	model       string
	temperature float64
}

func NewOllamaCaller(cfg config.ModelConfig) (*OllamaCaller, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "llama3"
	}
	return &OllamaCaller{
		client:      api.NewClient(u, http.DefaultClient),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (c *OllamaCaller) Provider() string { return "ollama" }
func (c *OllamaCaller) Model() string    { return c.model }

func (c *OllamaCaller) Complete(ctx context.Context, inv *Invoker, req Request, meta CallMeta) *Invocation {
	messages := make([]api.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	call := func(ctx context.Context) (OllamaResult, error) {
		var content strings.Builder
		var final api.ChatResponse
		err := c.client.Chat(ctx, &api.ChatRequest{
			Model:    c.model,
			Messages: messages,
			Options: map[string]interface{}{
				"temperature": c.temperature,
			},
		}, func(resp api.ChatResponse) error {
			content.WriteString(resp.Message.Content)
			if resp.Done {
				final = resp
			}
			return nil
		})
		if err != nil {
			return OllamaResult{}, fmt.Errorf("Ollama API error: %w", err)
		}
		return OllamaResult{Content: content.String(), Final: final}, nil
	}

	meta.Model = c.model
	meta.Prompt = promptContent(req)
	return Invoke[OllamaResult](ctx, inv, call, OllamaReader{}, meta)
}
