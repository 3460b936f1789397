package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/llm"
	"github.com/huangang/scamarena/backend/internal/models"
)

func newTestOrchestrator(t *testing.T, chat llm.ChatCompleter, maxRounds int, gen ScamGenerator, det ScamDetector, logs LogSink) *Orchestrator {
	t.Helper()
	// One attempt per chat call keeps failing tests free of backoff sleeps.
	inv := llm.NewInvoker(1, llm.NewPriceTable(nil), nil)
	o := NewOrchestrator(chat, inv, config.ModelConfig{Model: "gpt-4o"}, maxRounds, gen, det, testTemplates(t), logs)
	o.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func successfulAgents() (*fakeGenerator, *fakeDetector) {
	gen := &fakeGenerator{result: GeneratorResult{
		Status:        llm.StatusSuccess,
		InferenceTime: 1.5,
		APICost:       0.001,
		TokenUsage:    llm.TokenUsage{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300},
		Prompt:        "Write a convincing scam email.",
		Response:      sampleEmail,
	}}
	det := &fakeDetector{result: DetectorResult{
		Status:        llm.StatusSuccess,
		InferenceTime: 0.5,
		APICost:       0.002,
		TokenUsage:    llm.TokenUsage{PromptTokens: 400, CompletionTokens: 100, TotalTokens: 500},
		Response:      sampleAnalysis,
	}}
	return gen, det
}

func TestOrchestrate_Complete(t *testing.T) {
	gen, det := successfulAgents()
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		toolCallResponse("call_1", ToolGenerateScam, map[string]string{"scenario": "random"}),
		toolCallResponse("call_2", ToolDetectScam, map[string]string{"email_content": sampleEmail}),
		finalResponse(`{"generator_agent_status": 1, "detector_agent_status": 1, "is_phishing": true, "detection_verdict": "SCAM, risk 92, confidence 88"}`, openai.FinishReasonStop),
	}}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	result, err := o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 3, chat.calls())
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, []string{sampleEmail}, det.inputs)

	assert.False(t, result.IsFallback())
	assert.Equal(t, 1, result.GeneratorAgentStatus)
	assert.Equal(t, 1, result.DetectorAgentStatus)
	assert.Equal(t, "Urgent Action Required", result.GeneratedSubject)
	assert.Equal(t, sampleEmail, result.GeneratedContent)
	require.NotNil(t, result.DetectionRiskScore)
	assert.InDelta(t, 0.92, *result.DetectionRiskScore, 1e-9)
	require.NotNil(t, result.DetectionConfidence)
	assert.InDelta(t, 0.88, *result.DetectionConfidence, 1e-9)
	assert.Equal(t, "SCAM", result.Metadata.Verdict)
	assert.Equal(t, "HIGH", result.Metadata.ThreatLevel)
	assert.Equal(t, "2025-03-01T12:00:00Z", result.Metadata.GeneratedAt)
	assert.Equal(t, models.VerdictPhishing, result.Verdict())
	require.NotNil(t, result.TotalTokens)
	assert.Equal(t, 800, *result.TotalTokens)
	require.NotNil(t, result.Cost)
	assert.InDelta(t, 0.003, *result.Cost, 1e-12)
	require.NotNil(t, result.GeneratedLatencyMs)
	assert.InDelta(t, 1500, *result.GeneratedLatencyMs, 1e-9)

	// Tool results go back to the model tied to their call ids.
	last := chat.requests[2].Messages
	require.Len(t, last, 6)
	assert.Equal(t, openai.ChatMessageRoleTool, last[3].Role)
	assert.Equal(t, "call_1", last[3].ToolCallID)
	assert.Contains(t, last[3].Content, `"generator_agent_status":1`)
	assert.Equal(t, "call_2", last[5].ToolCallID)

	req := chat.requests[0]
	assert.Len(t, req.Tools, 2)
	assert.Equal(t, "auto", req.ToolChoice)
	assert.Equal(t, 16000, req.MaxCompletionTokens)
}

func TestOrchestrate_TerminatesAtMaxRounds(t *testing.T) {
	store := setupTestStore(t)
	roundID := createRunningRound(t, store, 1)
	gen, det := successfulAgents()
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		toolCallResponse("call_loop", ToolGenerateScam, map[string]string{"scenario": "random"}),
	}}
	o := newTestOrchestrator(t, chat, 4, gen, det, store)

	result, err := o.Orchestrate(context.Background(), &roundID)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrMaxRoundsExceeded)
	assert.Equal(t, 4, chat.calls())
	assert.Equal(t, 4, gen.calls)
	assert.Equal(t, int64(1), countLogs(t, store, models.LevelWarning))
}

func TestOrchestrate_StatusesCopiedIndependently(t *testing.T) {
	gen, det := successfulAgents()
	gen.result = GeneratorResult{Status: llm.StatusFailed, Error: "rate limited", Prompt: "p"}
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		toolCallResponse("call_1", ToolGenerateScam, map[string]string{}),
		toolCallResponse("call_2", ToolDetectScam, map[string]string{"email_content": "placeholder email"}),
		// The model claims both agents succeeded; the captured results win.
		finalResponse(`{"generator_agent_status": 1, "detector_agent_status": 1}`, openai.FinishReasonStop),
	}}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	result, err := o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, llm.StatusFailed, result.GeneratorAgentStatus)
	assert.Equal(t, "rate limited", result.GeneratorError)
	assert.Equal(t, llm.StatusSuccess, result.DetectorAgentStatus)
	assert.Empty(t, result.DetectorError)
	assert.True(t, result.NeedsReview())
}

func TestOrchestrate_NotInvokedAgents(t *testing.T) {
	gen, det := successfulAgents()
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		finalResponse(`{"generator_agent_status": 1, "detector_agent_status": 1}`, openai.FinishReasonStop),
	}}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	result, err := o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.GeneratorAgentStatus)
	assert.Equal(t, "not invoked", result.GeneratorError)
	assert.Equal(t, 0, result.DetectorAgentStatus)
	assert.Equal(t, "not invoked", result.DetectorError)
	assert.Equal(t, 0, gen.calls)
}

func TestOrchestrate_FallbackDoesNotFail(t *testing.T) {
	gen, det := successfulAgents()
	text := "Sure, here's the summary: the detector flagged the email."
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		toolCallResponse("call_1", ToolGenerateScam, map[string]string{"scenario": "random"}),
		toolCallResponse("call_2", ToolDetectScam, map[string]string{"email_content": sampleEmail}),
		finalResponse(text, openai.FinishReasonStop),
	}}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	result, err := o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.IsFallback())
	assert.Equal(t, text, result.RawResponse)
	assert.NotEmpty(t, result.ParseError)
	assert.True(t, result.NeedsReview())
	// Captured agent output still fills the structure.
	assert.Equal(t, "Urgent Action Required", result.GeneratedSubject)
	assert.Equal(t, models.VerdictPhishing, result.Verdict())
}

func TestOrchestrate_TruncatedResponseIsNotAToolRound(t *testing.T) {
	gen, det := successfulAgents()
	truncated := toolCallResponse("call_cut", ToolGenerateScam, map[string]string{"scenario": "random"})
	truncated.Choices[0].FinishReason = openai.FinishReasonLength
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		truncated,
		finalResponse(`{}`, openai.FinishReasonStop),
	}}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	result, err := o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 0, gen.calls)
	assert.Equal(t, 2, chat.calls())
	second := chat.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, openai.ChatMessageRoleAssistant, second[2].Role)
	assert.Empty(t, second[2].ToolCalls)
}

func TestOrchestrate_UnknownTool(t *testing.T) {
	gen, det := successfulAgents()
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		toolCallResponse("call_x", "send_email", map[string]string{"to": "victim@example.com"}),
		finalResponse(`{}`, openai.FinishReasonStop),
	}}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	_, err := o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)

	toolMsg := chat.requests[1].Messages[3]
	assert.Equal(t, openai.ChatMessageRoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "unknown tool")
	assert.Equal(t, 0, gen.calls)
	assert.Equal(t, 0, det.calls)
}

func TestOrchestrate_ChatErrorPropagates(t *testing.T) {
	gen, det := successfulAgents()
	chat := &scriptedChat{err: errors.New("503 service unavailable")}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	result, err := o.Orchestrate(context.Background(), nil)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMaxRoundsExceeded)
	assert.Contains(t, err.Error(), "503")
}

func TestOrchestrate_FreshTranscriptPerItem(t *testing.T) {
	gen, det := successfulAgents()
	chat := &scriptedChat{script: []openai.ChatCompletionResponse{
		toolCallResponse("call_1", ToolGenerateScam, map[string]string{"scenario": "random"}),
		finalResponse(`{}`, openai.FinishReasonStop),
		toolCallResponse("call_2", ToolGenerateScam, map[string]string{"scenario": "random"}),
		finalResponse(`{}`, openai.FinishReasonStop),
	}}
	o := newTestOrchestrator(t, chat, 10, gen, det, nil)

	_, err := o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)
	_, err = o.Orchestrate(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, 4, chat.calls())
	assert.Len(t, chat.requests[0].Messages, 2)
	assert.Len(t, chat.requests[2].Messages, 2, "second item must start from the seeded transcript")
}
