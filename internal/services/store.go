package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/huangang/scamarena/backend/internal/llm"
	"github.com/huangang/scamarena/backend/internal/metrics"
	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateOverride = errors.New("email already has an override")
)

// Store is the only component that touches the database. Every write runs
// in its own transaction and a failed write leaves an error row in logs.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// write runs fn in a transaction. fn must only use tx: SQLite runs with a
// single connection and s.db would block behind the open transaction.
func (s *Store) write(ctx context.Context, entity string, roundID *uint, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}

	metrics.RecordStoreFailure(entity)
	logger.Errorf("[Store] Failed to save %s: %v", entity, err)
	s.SaveLog(ctx, models.LevelError, fmt.Sprintf("failed to save %s: %v", entity, err), roundID, map[string]interface{}{
		"entity": entity,
	})
	return err
}

type RoundOptions struct {
	Status    string
	CreatedBy string
	Notes     string
}

// CreateRound inserts a round and returns its id. Status defaults to running.
func (s *Store) CreateRound(ctx context.Context, totalEmails int, opts RoundOptions) (uint, error) {
	if opts.Status == "" {
		opts.Status = models.RoundRunning
	}
	round := &models.Round{
		Status:      opts.Status,
		StartedAt:   time.Now(),
		TotalEmails: totalEmails,
		CreatedBy:   opts.CreatedBy,
		Notes:       opts.Notes,
	}
	err := s.write(ctx, "round", nil, func(tx *gorm.DB) error {
		return tx.Create(round).Error
	})
	if err != nil {
		return 0, err
	}
	return round.ID, nil
}

// RoundUpdate lists the fields to change; nil fields are left alone.
type RoundUpdate struct {
	Status               *string
	ProcessedEmails      *int
	DetectorAccuracy     *float64
	GeneratorSuccessRate *float64
	AvgConfidenceScore   *float64
	ProcessingTime       *float64
	TotalCost            *float64
	Notes                *string
}

// UpdateRound applies upd to round id. A missing round returns ErrNotFound.
// Moving to completed or failed stamps completed_at.
func (s *Store) UpdateRound(ctx context.Context, id uint, upd RoundUpdate) error {
	return s.write(ctx, "round", &id, func(tx *gorm.DB) error {
		var round models.Round
		if err := tx.First(&round, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if upd.Status != nil {
			if !models.CanTransition(round.Status, *upd.Status) {
				return &models.ValidationError{
					Model:   "round",
					Field:   "status",
					Message: fmt.Sprintf("cannot move from %s to %s", round.Status, *upd.Status),
				}
			}
			if *upd.Status != round.Status && (*upd.Status == models.RoundCompleted || *upd.Status == models.RoundFailed) {
				now := time.Now()
				round.CompletedAt = &now
			}
			round.Status = *upd.Status
		}
		if upd.ProcessedEmails != nil {
			round.ProcessedEmails = *upd.ProcessedEmails
		}
		if upd.DetectorAccuracy != nil {
			round.DetectorAccuracy = upd.DetectorAccuracy
		}
		if upd.GeneratorSuccessRate != nil {
			round.GeneratorSuccessRate = upd.GeneratorSuccessRate
		}
		if upd.AvgConfidenceScore != nil {
			round.AvgConfidenceScore = upd.AvgConfidenceScore
		}
		if upd.ProcessingTime != nil {
			round.ProcessingTime = upd.ProcessingTime
		}
		if upd.TotalCost != nil {
			round.TotalCost = *upd.TotalCost
		}
		if upd.Notes != nil {
			round.Notes = *upd.Notes
		}
		return tx.Save(&round).Error
	})
}

// SaveEmail persists one competition result. Scores are clamped into range
// and the verdict is normalized before the row reaches the validators.
func (s *Store) SaveEmail(ctx context.Context, roundID uint, result *CompetitionResult, processingTime *float64) (uint, error) {
	email := emailFromResult(roundID, result, processingTime)
	err := s.write(ctx, "email", &roundID, func(tx *gorm.DB) error {
		return tx.Create(email).Error
	})
	if err != nil {
		return 0, err
	}
	return email.ID, nil
}

func emailFromResult(roundID uint, r *CompetitionResult, processingTime *float64) *models.Email {
	email := &models.Email{
		RoundID:            roundID,
		SequenceNumber:     r.SequenceNumber,
		GeneratedContent:   r.GeneratedContent,
		GeneratedPrompt:    r.GeneratedPrompt,
		GeneratedSubject:   r.GeneratedSubject,
		GeneratedBody:      r.GeneratedBody,
		IsPhishing:         r.IsPhishing == nil || *r.IsPhishing,
		Metadata:           r.Metadata,
		GeneratorLatencyMs: nonNegative(r.GeneratedLatencyMs),
		DetectorVerdict:    r.Verdict(),
		DetectorRiskScore:  clamped(r.DetectionRiskScore),
		DetectorConfidence: clamped(r.DetectionConfidence),
		DetectorReasoning:  r.DetectionReasoning,
		DetectorLatencyMs:  nonNegative(r.DetectorLatencyMs),
		ProcessingTime:     processingTime,
		NeedsReview:        r.NeedsReview(),
	}
	if r.Cost != nil && *r.Cost > 0 {
		email.Cost = *r.Cost
	}
	return email
}

func clamped(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := models.Clamp01(*v)
	return &c
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v >= 0 {
		return v
	}
	zero := 0.0
	return &zero
}

// SaveAPICall appends one API call row. It implements llm.Recorder.
func (s *Store) SaveAPICall(ctx context.Context, rec llm.APICallRecord) error {
	roundID := rec.RoundID
	call := &models.APICall{
		RoundID:   rec.RoundID,
		EmailID:   rec.EmailID,
		AgentType: rec.AgentType,
		ModelName: rec.ModelName,
		TokenUsed: rec.TokenUsed,
		Cost:      rec.Cost,
		LatencyMs: rec.LatencyMs,
		CreatedAt: rec.CreatedAt,
	}
	return s.write(ctx, "api_call", &roundID, func(tx *gorm.DB) error {
		return tx.Create(call).Error
	})
}

// SaveLog appends a log row and reports whether it was written. It never
// returns an error: a row pointing at a missing round is retried as a
// system-level entry.
func (s *Store) SaveLog(ctx context.Context, level, message string, roundID *uint, fields map[string]interface{}) bool {
	entry := &models.Log{
		RoundID:   roundID,
		Level:     level,
		Message:   message,
		Context:   fields,
		Timestamp: time.Now(),
	}
	err := s.db.WithContext(ctx).Create(entry).Error
	if err != nil && roundID != nil && errors.Is(err, gorm.ErrForeignKeyViolated) {
		ctxCopy := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			ctxCopy[k] = v
		}
		ctxCopy["round_id"] = *roundID
		entry = &models.Log{Level: level, Message: message, Context: ctxCopy, Timestamp: time.Now()}
		err = s.db.WithContext(ctx).Create(entry).Error
	}
	if err != nil {
		logger.Errorf("[Store] Failed to write %s log %q: %v", level, message, err)
		return false
	}
	return true
}

// CreateOverride records a human verdict on an email. A second override for
// the same email returns ErrDuplicateOverride.
func (s *Store) CreateOverride(ctx context.Context, emailID uint, verdict, overriddenBy, reason string) (*models.Override, error) {
	override := &models.Override{
		EmailID:      emailID,
		Verdict:      verdict,
		OverriddenBy: overriddenBy,
		Reason:       reason,
	}
	// Reject bad input before touching the store so a bad verdict never
	// reads as a duplicate.
	if err := override.Validate(); err != nil {
		return nil, err
	}

	var roundID *uint
	err := s.write(ctx, "override", nil, func(tx *gorm.DB) error {
		var email models.Email
		if err := tx.Select("id", "round_id").First(&email, emailID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		roundID = &email.RoundID

		var existing int64
		if err := tx.Model(&models.Override{}).Where("email_id = ?", emailID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateOverride
		}

		if err := tx.Create(override).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateOverride
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.SaveLog(ctx, models.LevelInfo, "verdict overridden", roundID, map[string]interface{}{
		"email_id":      emailID,
		"verdict":       verdict,
		"overridden_by": overriddenBy,
	})
	return override, nil
}

// MarkStaleRounds fails running rounds that started before cutoff. It
// returns the ids it changed.
func (s *Store) MarkStaleRounds(ctx context.Context, cutoff time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Round{}).
		Where("status = ? AND started_at < ?", models.RoundRunning, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}

	failed := models.RoundFailed
	note := "marked failed: no progress before " + cutoff.Format(time.RFC3339)
	var changed []uint
	for _, id := range ids {
		if err := s.UpdateRound(ctx, id, RoundUpdate{Status: &failed, Notes: &note}); err != nil {
			logger.Warnf("[Store] Failed to reap stale round %d: %v", id, err)
			continue
		}
		s.SaveLog(ctx, models.LevelWarning, "stale round marked failed", &id, nil)
		changed = append(changed, id)
	}
	return changed, nil
}

func (s *Store) GetRound(ctx context.Context, id uint) (*models.Round, error) {
	var round models.Round
	if err := s.db.WithContext(ctx).First(&round, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &round, nil
}

type RoundListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Status   string `form:"status"`
}

type RoundListResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []models.Round `json:"items"`
}

func (s *Store) ListRounds(ctx context.Context, req *RoundListRequest) (*RoundListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Round{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var rounds []models.Round
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("id DESC").Find(&rounds).Error; err != nil {
		return nil, err
	}

	return &RoundListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    rounds,
	}, nil
}

func (s *Store) ListEmails(ctx context.Context, roundID uint) ([]models.Email, error) {
	var emails []models.Email
	err := s.db.WithContext(ctx).Preload("Override").
		Where("round_id = ?", roundID).
		Order("sequence_number ASC, id ASC").
		Find(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}

func (s *Store) GetEmail(ctx context.Context, id uint) (*models.Email, error) {
	var email models.Email
	if err := s.db.WithContext(ctx).Preload("Override").First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &email, nil
}

type LogListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Level    string `form:"level"`
	RoundID  *uint  `form:"round_id"`
	Search   string `form:"search"`
}

type LogListResponse struct {
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Items    []models.Log `json:"items"`
}

func (s *Store) ListLogs(ctx context.Context, req *LogListRequest) (*LogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Log{})
	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.RoundID != nil {
		query = query.Where("round_id = ?", *req.RoundID)
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []models.Log
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("timestamp DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

func (s *Store) ListAPICalls(ctx context.Context, roundID uint) ([]models.APICall, error) {
	var calls []models.APICall
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("created_at ASC, id ASC").
		Find(&calls).Error
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// AgentUsage aggregates the API calls of one agent type.
type AgentUsage struct {
	AgentType    string  `json:"agent_type"`
	Calls        int64   `json:"calls"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

type UsageStats struct {
	RoundID     uint         `json:"round_id"`
	TotalCalls  int64        `json:"total_calls"`
	TotalTokens int64        `json:"total_tokens"`
	TotalCost   float64      `json:"total_cost"`
	ByAgent     []AgentUsage `json:"by_agent"`
}

func (s *Store) UsageStats(ctx context.Context, roundID uint) (*UsageStats, error) {
	var agents []AgentUsage
	err := s.db.WithContext(ctx).Model(&models.APICall{}).
		Where("round_id = ?", roundID).
		Select(
			"agent_type, " +
				"COUNT(*) as calls, " +
				"COALESCE(SUM(token_used), 0) as total_tokens, " +
				"COALESCE(SUM(cost), 0) as total_cost, " +
				"COALESCE(AVG(latency_ms), 0) as avg_latency_ms",
		).Group("agent_type").Order("agent_type ASC").Scan(&agents).Error
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{RoundID: roundID, ByAgent: agents}
	if stats.ByAgent == nil {
		stats.ByAgent = []AgentUsage{}
	}
	for _, a := range agents {
		stats.TotalCalls += a.Calls
		stats.TotalTokens += a.TotalTokens
		stats.TotalCost += a.TotalCost
	}
	return stats, nil
}

// CountRoundsByStatus returns the number of rounds in each status. Statuses
// with no rounds are reported as zero.
func (s *Store) CountRoundsByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Round{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{
		models.RoundPending:   0,
		models.RoundRunning:   0,
		models.RoundCompleted: 0,
		models.RoundFailed:    0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
