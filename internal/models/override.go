package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	OverrideCorrect    = "correct"
	OverrideIncorrect  = "incorrect"
	OverridePhishing   = "phishing"
	OverrideLegitimate = "legitimate"
)

// Override is a human correction. At most one exists per email.
type Override struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	EmailID      uint      `gorm:"not null;uniqueIndex:uq_overrides_email_id;check:chk_overrides_email_id,email_id > 0" json:"email_id"`
	Verdict      string    `gorm:"size:20;not null;check:chk_overrides_verdict,verdict IN ('correct','incorrect','phishing','legitimate')" json:"verdict"`
	OverriddenBy string    `gorm:"size:100" json:"overridden_by"`
	Reason       string    `gorm:"type:text" json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Override) TableName() string { return "overrides" }

func (o *Override) Validate() error {
	if o.EmailID == 0 {
		return invalid("override", "email_id", "must be a positive id")
	}
	if !oneOf(o.Verdict, OverrideCorrect, OverrideIncorrect, OverridePhishing, OverrideLegitimate) {
		return invalid("override", "verdict", "must be correct, incorrect, phishing or legitimate; got %q", o.Verdict)
	}
	return nil
}

func (o *Override) BeforeSave(tx *gorm.DB) error {
	return o.Validate()
}
