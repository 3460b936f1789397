package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/prompts"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, logger.Silent)
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	t.Cleanup(func() { _ = models.Close(db) })
	return NewStore(db)
}

func testTemplates(t *testing.T) *prompts.Templates {
	t.Helper()
	tpl, err := prompts.Default()
	require.NoError(t, err)
	return tpl
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }
func strPtr(v string) *string     { return &v }

func createRunningRound(t *testing.T, s *Store, total int) uint {
	t.Helper()
	id, err := s.CreateRound(context.Background(), total, RoundOptions{Status: models.RoundRunning})
	require.NoError(t, err)
	return id
}

func countLogs(t *testing.T, s *Store, level string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB().Model(&models.Log{}).Where("level = ?", level).Count(&n).Error)
	return n
}

// scriptedChat replays responses in order and repeats the last one once
// the script runs out.
type scriptedChat struct {
	mu       sync.Mutex
	script   []openai.ChatCompletionResponse
	err      error
	requests []openai.ChatCompletionRequest
}

func (c *scriptedChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	c.requests = append(c.requests, req)

	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	i := len(c.requests) - 1
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i], nil
}

func (c *scriptedChat) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func toolCallResponse(id, name string, args interface{}) openai.ChatCompletionResponse {
	data, _ := json.Marshal(args)
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: openai.FinishReasonToolCalls,
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   id,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      name,
						Arguments: string(data),
					},
				}},
			},
		}},
	}
}

func finalResponse(content string, reason openai.FinishReason) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: reason,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
		}},
		Usage: openai.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}
}

// textChat answers every request with the same text.
type textChat struct {
	content string
	usage   openai.Usage
}

func (c textChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: openai.FinishReasonStop,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: c.content},
		}},
		Usage: c.usage,
	}, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  int
	result GeneratorResult
}

func (g *fakeGenerator) GenerateScam(_ context.Context, scenario string, _ *uint) *GeneratorResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	res := g.result
	res.Scenario = scenario
	return &res
}

type fakeDetector struct {
	mu     sync.Mutex
	calls  int
	inputs []string
	result DetectorResult
}

func (d *fakeDetector) DetectScam(_ context.Context, emailContent string, _ *uint) *DetectorResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.inputs = append(d.inputs, emailContent)
	res := d.result
	return &res
}

const (
	sampleEmail = "Subject: Urgent Action Required\n\nDear customer,\nyour account has been suspended. Verify at http://secure-bank.example within 24 hours."

	sampleAnalysis = "The email uses urgency and a look-alike domain.\n\n" +
		"OVERALL SCAM SCORE: [92]\n" +
		"CONFIDENCE LEVEL: [88]%\n" +
		"VERDICT: [SCAM]\n" +
		"SCAM CATEGORY: [Credential phishing]\n" +
		"SOPHISTICATION LEVEL: [MEDIUM]\n" +
		"THREAT LEVEL: [HIGH]\n"
)
