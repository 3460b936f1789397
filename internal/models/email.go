package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	VerdictPhishing   = "phishing"
	VerdictLegitimate = "legitimate"
)

// EmailMetadata is the structured description of a generated email,
// filled from the detector's report.
type EmailMetadata struct {
	ScamType       string `json:"scam_type,omitempty"`
	ThreatLevel    string `json:"threat_level,omitempty"`
	Sophistication string `json:"sophistication,omitempty"`
	Verdict        string `json:"verdict,omitempty"`
	GeneratedAt    string `json:"generated_at,omitempty"`
}

// Email is one generated-and-analyzed item. Rows are immutable once written.
type Email struct {
	ID                 uint          `gorm:"primaryKey" json:"id"`
	RoundID            uint          `gorm:"not null;index" json:"round_id"`
	SequenceNumber     int           `json:"sequence_number"`
	GeneratedContent   string        `gorm:"type:text" json:"generated_content"`
	GeneratedPrompt    string        `gorm:"type:text" json:"generated_prompt"`
	GeneratedSubject   string        `gorm:"size:500" json:"generated_subject"`
	GeneratedBody      string        `gorm:"type:text" json:"generated_body"`
	IsPhishing         bool          `gorm:"not null" json:"is_phishing"`
	Metadata           EmailMetadata `gorm:"column:generated_email_metadata;type:text;serializer:json" json:"generated_email_metadata"`
	GeneratorLatencyMs *float64      `gorm:"check:chk_emails_generator_latency,generator_latency_ms IS NULL OR generator_latency_ms >= 0" json:"generator_latency_ms"`
	DetectorVerdict    string        `gorm:"size:20;not null;check:chk_emails_detector_verdict,detector_verdict IN ('phishing','legitimate')" json:"detector_verdict"`
	DetectorRiskScore  *float64      `gorm:"check:chk_emails_detector_risk_score,detector_risk_score IS NULL OR (detector_risk_score >= 0 AND detector_risk_score <= 1)" json:"detector_risk_score"`
	DetectorConfidence *float64      `gorm:"check:chk_emails_detector_confidence,detector_confidence IS NULL OR (detector_confidence >= 0 AND detector_confidence <= 1)" json:"detector_confidence"`
	DetectorReasoning  string        `gorm:"type:text" json:"detector_reasoning"`
	DetectorLatencyMs  *float64      `gorm:"check:chk_emails_detector_latency,detector_latency_ms IS NULL OR detector_latency_ms >= 0" json:"detector_latency_ms"`
	ProcessingTime     *float64      `json:"processing_time"`
	Cost               float64       `gorm:"not null;default:0;check:chk_emails_cost,cost >= 0" json:"cost"`
	NeedsReview        bool          `gorm:"not null;default:false" json:"needs_review"`
	CreatedAt          time.Time     `gorm:"index" json:"created_at"`

	Override *Override `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"override,omitempty"`
}

func (Email) TableName() string { return "emails" }

func (e *Email) Validate() error {
	if e.RoundID == 0 {
		return invalid("email", "round_id", "is required")
	}
	if !oneOf(e.DetectorVerdict, VerdictPhishing, VerdictLegitimate) {
		return invalid("email", "detector_verdict", "must be phishing or legitimate; got %q", e.DetectorVerdict)
	}
	if !fractionOK(e.DetectorRiskScore) {
		return invalid("email", "detector_risk_score", "must be within 0.0-1.0")
	}
	if !fractionOK(e.DetectorConfidence) {
		return invalid("email", "detector_confidence", "must be within 0.0-1.0")
	}
	if e.GeneratorLatencyMs != nil && *e.GeneratorLatencyMs < 0 {
		return invalid("email", "generator_latency_ms", "must be non-negative")
	}
	if e.DetectorLatencyMs != nil && *e.DetectorLatencyMs < 0 {
		return invalid("email", "detector_latency_ms", "must be non-negative")
	}
	if e.Cost < 0 {
		return invalid("email", "cost", "must be non-negative")
	}
	return nil
}

func (e *Email) BeforeSave(tx *gorm.DB) error {
	return e.Validate()
}

// DetectedPhishing reports whether the detector flagged the email.
func (e *Email) DetectedPhishing() bool {
	return e.DetectorVerdict == VerdictPhishing
}

// IsCorrect reports whether the detector verdict matches ground truth.
func (e *Email) IsCorrect() bool {
	return e.IsPhishing == e.DetectedPhishing()
}

// IsFalsePositive: legitimate email flagged as phishing.
func (e *Email) IsFalsePositive() bool {
	return !e.IsPhishing && e.DetectedPhishing()
}

// IsFalseNegative: phishing email the detector let through.
func (e *Email) IsFalseNegative() bool {
	return e.IsPhishing && !e.DetectedPhishing()
}
