package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	AgentGenerator = "generator"
	AgentDetector  = "detector"
	AgentJudge     = "judge"
)

// APICall records one successful language-model invocation.
// EmailID is a soft reference with no foreign key: calls are written before
// the email they belong to exists.
type APICall struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoundID   uint      `gorm:"not null;index" json:"round_id"`
	EmailID   *uint     `gorm:"index" json:"email_id"`
	AgentType string    `gorm:"size:20;not null;index;check:chk_api_calls_agent_type,agent_type IN ('generator','detector','judge')" json:"agent_type"`
	ModelName string    `gorm:"size:100;not null" json:"model_name"`
	TokenUsed int       `gorm:"not null;default:0;check:chk_api_calls_token_used,token_used >= 0" json:"token_used"`
	Cost      float64   `gorm:"not null;default:0;check:chk_api_calls_cost,cost >= 0" json:"cost"`
	LatencyMs int64     `gorm:"not null;default:0;check:chk_api_calls_latency_ms,latency_ms >= 0" json:"latency_ms"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (APICall) TableName() string { return "api_calls" }

func (a *APICall) Validate() error {
	if a.RoundID == 0 {
		return invalid("api_call", "round_id", "is required")
	}
	if !oneOf(a.AgentType, AgentGenerator, AgentDetector, AgentJudge) {
		return invalid("api_call", "agent_type", "must be generator, detector or judge; got %q", a.AgentType)
	}
	if a.ModelName == "" {
		return invalid("api_call", "model_name", "is required")
	}
	if a.TokenUsed < 0 || a.Cost < 0 || a.LatencyMs < 0 {
		return invalid("api_call", "token_used", "numeric fields must be non-negative")
	}
	return nil
}

func (a *APICall) BeforeSave(tx *gorm.DB) error {
	return a.Validate()
}
