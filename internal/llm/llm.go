// Package llm wraps language-model providers behind a retrying invoker that
// prices every call and records it against a competition round.
package llm

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai"
)

// TokenUsage is the prompt/completion/total triple every provider reports.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add sums two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Call performs exactly one request to a provider.
type Call[R any] func(ctx context.Context) (R, error)

// Reader extracts text and token usage from one provider's response type.
type Reader[R any] interface {
	Text(resp R) string
	Usage(resp R) TokenUsage
}

// Request is a single-turn prompt with an optional system instruction.
type Request struct {
	System string
	Prompt string
}

// CallMeta identifies a call for pricing and persistence. A nil RoundID means
// the call is never persisted.
type CallMeta struct {
	Agent   string
	Model   string
	Prompt  string
	RoundID *uint
	EmailID *uint
}

// APICallRecord is what the invoker hands to a Recorder after a successful call.
type APICallRecord struct {
	RoundID   uint
	EmailID   *uint
	AgentType string
	ModelName string
	TokenUsed int
	Cost      float64
	LatencyMs int64
	CreatedAt time.Time
}

// Recorder persists API call telemetry.
type Recorder interface {
	SaveAPICall(ctx context.Context, rec APICallRecord) error
}

// ModelCaller sends one request to a configured provider through an Invoker.
type ModelCaller interface {
	Provider() string
	Model() string
	Complete(ctx context.Context, inv *Invoker, req Request, meta CallMeta) *Invocation
}

// ChatCompleter is the slice of the OpenAI client the callers and the
// orchestrator use. *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

func promptContent(req Request) string {
	if req.System == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}
