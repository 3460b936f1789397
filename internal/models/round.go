package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoundPending   = "pending"
	RoundRunning   = "running"
	RoundCompleted = "completed"
	RoundFailed    = "failed"
)

// Round is one competition batch. It owns its emails, logs and API calls.
type Round struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Status               string     `gorm:"size:20;not null;index;check:chk_rounds_status,status IN ('pending','running','completed','failed')" json:"status"`
	StartedAt            time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	TotalEmails          int        `gorm:"not null;check:chk_rounds_total_emails,total_emails > 0" json:"total_emails"`
	ProcessedEmails      int        `gorm:"not null;default:0;check:chk_rounds_processed_emails,processed_emails >= 0 AND processed_emails <= total_emails" json:"processed_emails"`
	DetectorAccuracy     *float64   `gorm:"check:chk_rounds_detector_accuracy,detector_accuracy IS NULL OR (detector_accuracy >= 0 AND detector_accuracy <= 100)" json:"detector_accuracy"`
	GeneratorSuccessRate *float64   `gorm:"check:chk_rounds_generator_success_rate,generator_success_rate IS NULL OR (generator_success_rate >= 0 AND generator_success_rate <= 100)" json:"generator_success_rate"`
	AvgConfidenceScore   *float64   `gorm:"check:chk_rounds_avg_confidence_score,avg_confidence_score IS NULL OR (avg_confidence_score >= 0 AND avg_confidence_score <= 100)" json:"avg_confidence_score"`
	ProcessingTime       *float64   `json:"processing_time"`
	TotalCost            float64    `gorm:"not null;default:0;check:chk_rounds_total_cost,total_cost >= 0" json:"total_cost"`
	CreatedBy            string     `gorm:"size:100" json:"created_by"`
	Notes                string     `gorm:"type:text" json:"notes"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	Emails   []Email   `gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE" json:"emails,omitempty"`
	Logs     []Log     `gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE" json:"-"`
	APICalls []APICall `gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Round) TableName() string { return "rounds" }

// Validate checks the row-level invariants.
func (r *Round) Validate() error {
	if !oneOf(r.Status, RoundPending, RoundRunning, RoundCompleted, RoundFailed) {
		return invalid("round", "status", "must be one of pending, running, completed, failed; got %q", r.Status)
	}
	if r.TotalEmails <= 0 {
		return invalid("round", "total_emails", "must be positive, got %d", r.TotalEmails)
	}
	if r.ProcessedEmails < 0 {
		return invalid("round", "processed_emails", "must be non-negative, got %d", r.ProcessedEmails)
	}
	if r.ProcessedEmails > r.TotalEmails {
		return invalid("round", "processed_emails", "%d exceeds total_emails %d", r.ProcessedEmails, r.TotalEmails)
	}
	if !percentOK(r.DetectorAccuracy) {
		return invalid("round", "detector_accuracy", "must be within 0-100")
	}
	if !percentOK(r.GeneratorSuccessRate) {
		return invalid("round", "generator_success_rate", "must be within 0-100")
	}
	if !percentOK(r.AvgConfidenceScore) {
		return invalid("round", "avg_confidence_score", "must be within 0-100")
	}
	if r.TotalCost < 0 {
		return invalid("round", "total_cost", "must be non-negative")
	}
	return nil
}

func (r *Round) BeforeSave(tx *gorm.DB) error {
	return r.Validate()
}

// IsTerminal reports whether the round can no longer change status.
func (r *Round) IsTerminal() bool {
	return r.Status == RoundCompleted || r.Status == RoundFailed
}

var roundStatusRank = map[string]int{
	RoundPending:   0,
	RoundRunning:   1,
	RoundCompleted: 2,
	RoundFailed:    2,
}

// CanTransition reports whether a round may move from one status to another.
// Status only moves forward; terminal states are final.
func CanTransition(from, to string) bool {
	fr, ok := roundStatusRank[from]
	if !ok {
		return false
	}
	tr, ok := roundStatusRank[to]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	return tr > fr
}
