package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/llm"
	"github.com/huangang/scamarena/backend/internal/metrics"
	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/prompts"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

const (
	ToolGenerateScam = "generate_scam"
	ToolDetectScam   = "detect_scam"

	agentOrchestrator = "orchestrator"
)

// ErrMaxRoundsExceeded is returned when the model keeps requesting tools
// past the configured round limit.
var ErrMaxRoundsExceeded = errors.New("orchestration exceeded max rounds")

var orchestratorTools = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolGenerateScam,
			Description: "Generate one synthetic scam email. Returns the generator result as JSON.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"scenario": {
						Type:        jsonschema.String,
						Description: `Scam scenario to write, or "random" to pick one.`,
					},
				},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolDetectScam,
			Description: "Analyse an email for scam indicators. Returns the detector result as JSON.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"email_content": {
						Type:        jsonschema.String,
						Description: "Full text of the email to analyse, including the subject line.",
					},
				},
				Required: []string{"email_content"},
			},
		},
	},
}

// LogSink persists audit log rows. It must never fail the caller.
type LogSink interface {
	SaveLog(ctx context.Context, level, message string, roundID *uint, fields map[string]interface{}) bool
}

// Orchestrator drives one generate-then-detect conversation per item. It
// holds no per-item state, so one instance serves concurrent workflows.
type Orchestrator struct {
	chat      llm.ChatCompleter
	invoker   *llm.Invoker
	model     string
	maxTokens int
	maxRounds int
	generator ScamGenerator
	detector  ScamDetector
	templates *prompts.Templates
	logs      LogSink
	now       func() time.Time
}

func NewOrchestrator(chat llm.ChatCompleter, invoker *llm.Invoker, cfg config.ModelConfig, maxRounds int,
	generator ScamGenerator, detector ScamDetector, templates *prompts.Templates, logs LogSink) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 16000
	}
	return &Orchestrator{
		chat:      chat,
		invoker:   invoker,
		model:     cfg.Model,
		maxTokens: maxTokens,
		maxRounds: maxRounds,
		generator: generator,
		detector:  detector,
		templates: templates,
		logs:      logs,
		now:       time.Now,
	}
}

// session captures the agent results of one item.
type session struct {
	roundID   *uint
	generated *GeneratorResult
	detected  *DetectorResult
}

// Orchestrate runs a fresh conversation for one item. It returns
// ErrMaxRoundsExceeded with a nil result when the model never settles, and a
// wrapped error when the chat service itself keeps failing.
func (o *Orchestrator) Orchestrate(ctx context.Context, roundID *uint) (*CompetitionResult, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: o.templates.OrchestratorSystem},
		{Role: openai.ChatMessageRoleUser, Content: o.templates.OrchestratorGoal},
	}
	sess := &session{roundID: roundID}

	for round := 1; round <= o.maxRounds; round++ {
		choice, err := o.complete(ctx, messages)
		if err != nil {
			metrics.RecordOrchestration("error", round)
			return nil, fmt.Errorf("orchestrator round %d: %w", round, err)
		}
		msg := choice.Message

		if choice.FinishReason == openai.FinishReasonLength {
			// Truncated output: keep the text, drop half-formed tool calls.
			msg.ToolCalls = nil
			messages = append(messages, msg)
			logger.Warnf("[Orchestrator] Round %d truncated by max tokens, continuing", round)
			continue
		}

		messages = append(messages, msg)

		if len(msg.ToolCalls) > 0 {
			for _, call := range msg.ToolCalls {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    o.execute(ctx, call, sess),
					Name:       call.Function.Name,
					ToolCallID: call.ID,
				})
			}
			continue
		}

		if strings.TrimSpace(msg.Content) != "" || choice.FinishReason == openai.FinishReasonStop {
			result := DecodeResult(msg.Content)
			result.enrich(sess.generated, sess.detected, o.now())

			outcome := "complete"
			if result.IsFallback() {
				outcome = "fallback"
				logger.Warnf("[Orchestrator] Final response was not valid JSON: %s", result.ParseError)
			}
			metrics.RecordOrchestration(outcome, round)
			return result, nil
		}
	}

	metrics.RecordOrchestration("max_rounds", o.maxRounds)
	logger.Warn().
		Int("max_rounds", o.maxRounds).
		Interface("round_id", roundID).
		Msg("[Orchestrator] Max rounds reached without a final response")
	if o.logs != nil {
		o.logs.SaveLog(ctx, models.LevelWarning, "orchestration exceeded max rounds", roundID, map[string]interface{}{
			"max_rounds":       o.maxRounds,
			"generator_called": sess.generated != nil,
			"detector_called":  sess.detected != nil,
		})
	}
	return nil, ErrMaxRoundsExceeded
}

func (o *Orchestrator) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (openai.ChatCompletionChoice, error) {
	req := openai.ChatCompletionRequest{
		Model:               o.model,
		Messages:            messages,
		Tools:               orchestratorTools,
		ToolChoice:          "auto",
		MaxCompletionTokens: o.maxTokens,
	}
	call := func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := o.chat.CreateChatCompletion(ctx, req)
		if err != nil {
			return resp, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return resp, errors.New("chat completion returned no choices")
		}
		return resp, nil
	}

	res := llm.Invoke[openai.ChatCompletionResponse](ctx, o.invoker, call, llm.OpenAIReader{}, llm.CallMeta{
		Agent:  agentOrchestrator,
		Model:  o.model,
		Prompt: transcriptText(messages),
	})
	if !res.OK() {
		return openai.ChatCompletionChoice{}, errors.New(res.Error)
	}
	return res.Raw.(openai.ChatCompletionResponse).Choices[0], nil
}

type toolArguments struct {
	Scenario     string `json:"scenario"`
	EmailContent string `json:"email_content"`
}

// execute runs one requested tool and returns the JSON handed back to the model.
func (o *Orchestrator) execute(ctx context.Context, call openai.ToolCall, sess *session) string {
	var args toolArguments
	if strings.TrimSpace(call.Function.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return toolError(fmt.Sprintf("invalid arguments for %s: %v", call.Function.Name, err))
		}
	}

	switch call.Function.Name {
	case ToolGenerateScam:
		if args.Scenario == "" {
			args.Scenario = ScenarioRandom
		}
		sess.generated = o.generator.GenerateScam(ctx, args.Scenario, sess.roundID)
		return marshalTool(sess.generated)
	case ToolDetectScam:
		if strings.TrimSpace(args.EmailContent) == "" {
			return toolError("email_content is required")
		}
		sess.detected = o.detector.DetectScam(ctx, args.EmailContent, sess.roundID)
		return marshalTool(sess.detected)
	default:
		logger.Warnf("[Orchestrator] Model requested unknown tool %q", call.Function.Name)
		return toolError("unknown tool: " + call.Function.Name)
	}
}

func marshalTool(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(err.Error())
	}
	return string(data)
}

func toolError(msg string) string {
	data, _ := json.Marshal(map[string]interface{}{"status": 0, "error": msg})
	return string(data)
}

func transcriptText(messages []openai.ChatCompletionMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
