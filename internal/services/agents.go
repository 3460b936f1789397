package services

import (
	"context"
	"math/rand"
	"strings"

	"github.com/huangang/scamarena/backend/internal/llm"
	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/prompts"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

// ScenarioRandom asks the generator to pick one of ScamScenarios.
const ScenarioRandom = "random"

var ScamScenarios = []string{
	"phishing for bank credentials",
	"lottery winner notification",
	"Nigerian prince inheritance",
	"tech support scam",
	"fake invoice",
	"CEO fraud",
	"romance scam",
	"cryptocurrency investment scam",
	"fake package delivery notification",
	"IRS tax scam",
}

// GeneratorResult is what generate_scam hands back to the orchestrator.
type GeneratorResult struct {
	Status        int            `json:"generator_agent_status"`
	Scenario      string         `json:"scenario"`
	InferenceTime float64        `json:"generator_agent_inference_time_seconds"`
	APICost       float64        `json:"generator_agent_api_cost"`
	TokenUsage    llm.TokenUsage `json:"generator_agent_token_usage"`
	Prompt        string         `json:"generator_agent_prompt"`
	Response      string         `json:"generator_agent_response,omitempty"`
	Error         string         `json:"generator_agent_error,omitempty"`
}

// DetectorResult is what detect_scam hands back to the orchestrator.
type DetectorResult struct {
	Status        int            `json:"detector_agent_status"`
	InferenceTime float64        `json:"detector_agent_inference_time_seconds"`
	APICost       float64        `json:"detector_agent_api_cost"`
	TokenUsage    llm.TokenUsage `json:"detector_agent_token_usage"`
	Response      string         `json:"detector_agent_response,omitempty"`
	Error         string         `json:"detector_agent_error,omitempty"`
}

type ScamGenerator interface {
	GenerateScam(ctx context.Context, scenario string, roundID *uint) *GeneratorResult
}

type ScamDetector interface {
	DetectScam(ctx context.Context, emailContent string, roundID *uint) *DetectorResult
}

type GeneratorAgent struct {
	caller    llm.ModelCaller
	invoker   *llm.Invoker
	templates *prompts.Templates
	pick      func(n int) int
}

func NewGeneratorAgent(caller llm.ModelCaller, invoker *llm.Invoker, templates *prompts.Templates) *GeneratorAgent {
	return &GeneratorAgent{
		caller:    caller,
		invoker:   invoker,
		templates: templates,
		pick:      rand.Intn,
	}
}

func (a *GeneratorAgent) resolveScenario(scenario string) string {
	scenario = strings.TrimSpace(scenario)
	if scenario == "" || strings.EqualFold(scenario, ScenarioRandom) {
		return ScamScenarios[a.pick(len(ScamScenarios))]
	}
	return scenario
}

// GenerateScam writes one synthetic scam email for scenario.
func (a *GeneratorAgent) GenerateScam(ctx context.Context, scenario string, roundID *uint) *GeneratorResult {
	scenario = a.resolveScenario(scenario)
	prompt := prompts.Render(a.templates.Generator, map[string]string{"scenario": scenario})

	logger.Infof("[Generator] Generating %q email with %s/%s", scenario, a.caller.Provider(), a.caller.Model())

	inv := a.caller.Complete(ctx, a.invoker, llm.Request{
		System: a.templates.GeneratorSystem,
		Prompt: prompt,
	}, llm.CallMeta{Agent: models.AgentGenerator, RoundID: roundID})

	return &GeneratorResult{
		Status:        inv.Status,
		Scenario:      scenario,
		InferenceTime: inv.InferenceTime,
		APICost:       inv.APICost,
		TokenUsage:    inv.TokenUsage,
		Prompt:        prompt,
		Response:      inv.Response,
		Error:         inv.Error,
	}
}

type DetectorAgent struct {
	caller    llm.ModelCaller
	invoker   *llm.Invoker
	templates *prompts.Templates
}

func NewDetectorAgent(caller llm.ModelCaller, invoker *llm.Invoker, templates *prompts.Templates) *DetectorAgent {
	return &DetectorAgent{caller: caller, invoker: invoker, templates: templates}
}

// DetectScam analyses emailContent and returns the detector's free-text report.
func (a *DetectorAgent) DetectScam(ctx context.Context, emailContent string, roundID *uint) *DetectorResult {
	prompt := prompts.Render(a.templates.Detector, map[string]string{"email_content": emailContent})

	logger.Infof("[Detector] Analysing %d chars with %s/%s", len(emailContent), a.caller.Provider(), a.caller.Model())

	inv := a.caller.Complete(ctx, a.invoker, llm.Request{
		System: a.templates.DetectorSystem,
		Prompt: prompt,
	}, llm.CallMeta{Agent: models.AgentDetector, RoundID: roundID})

	return &DetectorResult{
		Status:        inv.Status,
		InferenceTime: inv.InferenceTime,
		APICost:       inv.APICost,
		TokenUsage:    inv.TokenUsage,
		Response:      inv.Response,
		Error:         inv.Error,
	}
}
