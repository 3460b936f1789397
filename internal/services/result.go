package services

import (
	"time"

	"github.com/huangang/scamarena/backend/internal/llm"
	"github.com/huangang/scamarena/backend/internal/models"
)

const errNotInvoked = "not invoked"

// CompetitionResult is the structured outcome of one orchestrated item. When
// the orchestrator's final text was not JSON, RawResponse and ParseError are
// set and the remaining fields come only from the captured agent results.
type CompetitionResult struct {
	GeneratorAgentStatus int                  `json:"generator_agent_status"`
	DetectorAgentStatus  int                  `json:"detector_agent_status"`
	GeneratedContent     string               `json:"generated_content"`
	GeneratedPrompt      string               `json:"generated_prompt"`
	GeneratedSubject     string               `json:"generated_subject"`
	GeneratedBody        string               `json:"generated_body"`
	IsPhishing           *bool                `json:"is_phishing"`
	Metadata             models.EmailMetadata `json:"generated_email_metadata"`
	GeneratedLatencyMs   *float64             `json:"generated_latency_ms"`
	GeneratedTokenUsage  *llm.TokenUsage      `json:"generated_token_usage"`
	GeneratorAPICost     *float64             `json:"generator_agent_api_cost"`
	GeneratorError       string               `json:"generator_agent_error,omitempty"`
	DetectionVerdict     string               `json:"detection_verdict"`
	DetectionRiskScore   *float64             `json:"detection_risk_score"`
	DetectionConfidence  *float64             `json:"detection_confidence"`
	DetectionReasoning   string               `json:"detection_reasoning"`
	DetectorLatencyMs    *float64             `json:"detector_latency_ms"`
	DetectorTokenUsage   *llm.TokenUsage      `json:"detector_token_usage"`
	DetectorAPICost      *float64             `json:"detector_agent_api_cost"`
	DetectorError        string               `json:"detector_agent_error,omitempty"`
	TotalTokens          *int                 `json:"total_tokens"`
	Cost                 *float64             `json:"cost"`

	RawResponse string `json:"raw_response,omitempty"`
	ParseError  string `json:"parse_error,omitempty"`

	// SequenceNumber is assigned by the runner, never by the model.
	SequenceNumber int `json:"-"`
}

// IsFallback reports whether the orchestrator's final text failed to parse.
func (r *CompetitionResult) IsFallback() bool {
	return r.ParseError != ""
}

// NeedsReview reports whether a human should check the item before it is
// trusted: a parse fallback or either agent failing.
func (r *CompetitionResult) NeedsReview() bool {
	return r.IsFallback() || r.GeneratorAgentStatus != llm.StatusSuccess || r.DetectorAgentStatus != llm.StatusSuccess
}

// Verdict is the normalized detector verdict.
func (r *CompetitionResult) Verdict() string {
	return NormalizeVerdict(r.Metadata.Verdict, r.DetectionVerdict)
}

// enrich overlays what the agents actually returned. Statuses and errors are
// copied from each agent's own result; every other field is filled only when
// the model left it empty.
func (r *CompetitionResult) enrich(gen *GeneratorResult, det *DetectorResult, now time.Time) {
	if gen == nil {
		r.GeneratorAgentStatus = llm.StatusFailed
		r.GeneratorError = errNotInvoked
	} else {
		r.GeneratorAgentStatus = gen.Status
		r.GeneratorError = gen.Error
		fillString(&r.GeneratedContent, gen.Response)
		fillString(&r.GeneratedPrompt, gen.Prompt)
		fillFloat(&r.GeneratedLatencyMs, gen.InferenceTime*1000)
		fillFloat(&r.GeneratorAPICost, gen.APICost)
		if r.GeneratedTokenUsage == nil {
			usage := gen.TokenUsage
			r.GeneratedTokenUsage = &usage
		}
	}

	if r.GeneratedSubject == "" || r.GeneratedBody == "" {
		subject, body := ExtractSubject(r.GeneratedContent)
		fillString(&r.GeneratedSubject, subject)
		fillString(&r.GeneratedBody, body)
	}

	if det == nil {
		r.DetectorAgentStatus = llm.StatusFailed
		r.DetectorError = errNotInvoked
	} else {
		r.DetectorAgentStatus = det.Status
		r.DetectorError = det.Error
		fillString(&r.DetectionReasoning, det.Response)
		fillFloat(&r.DetectorLatencyMs, det.InferenceTime*1000)
		fillFloat(&r.DetectorAPICost, det.APICost)
		if r.DetectorTokenUsage == nil {
			usage := det.TokenUsage
			r.DetectorTokenUsage = &usage
		}

		report := ExtractDetectorReport(det.Response)
		if r.DetectionRiskScore == nil {
			r.DetectionRiskScore = report.RiskScore
		}
		if r.DetectionConfidence == nil {
			r.DetectionConfidence = report.Confidence
		}
		fillString(&r.Metadata.Verdict, report.Verdict)
		fillString(&r.Metadata.ScamType, report.ScamCategory)
		fillString(&r.Metadata.Sophistication, report.Sophistication)
		fillString(&r.Metadata.ThreatLevel, report.ThreatLevel)
		fillString(&r.DetectionVerdict, report.Verdict)
	}

	if r.IsPhishing == nil {
		phishing := true
		r.IsPhishing = &phishing
	}
	if r.TotalTokens == nil {
		total := 0
		if r.GeneratedTokenUsage != nil {
			total += r.GeneratedTokenUsage.TotalTokens
		}
		if r.DetectorTokenUsage != nil {
			total += r.DetectorTokenUsage.TotalTokens
		}
		r.TotalTokens = &total
	}
	if r.Cost == nil {
		cost := 0.0
		if r.GeneratorAPICost != nil {
			cost += *r.GeneratorAPICost
		}
		if r.DetectorAPICost != nil {
			cost += *r.DetectorAPICost
		}
		r.Cost = &cost
	}
	fillString(&r.Metadata.GeneratedAt, now.UTC().Format(time.RFC3339))
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func fillFloat(dst **float64, v float64) {
	if *dst == nil {
		*dst = &v
	}
}
