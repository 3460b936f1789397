package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/metrics"
	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

// ItemOrchestrator produces one competition result per call.
type ItemOrchestrator interface {
	Orchestrate(ctx context.Context, roundID *uint) (*CompetitionResult, error)
}

// RoundSummary is the finalized state of a round as seen by the runner.
type RoundSummary struct {
	RoundID              uint     `json:"round_id"`
	RunID                string   `json:"run_id"`
	Status               string   `json:"status"`
	TotalEmails          int      `json:"total_emails"`
	ProcessedEmails      int      `json:"processed_emails"`
	SavedEmails          int      `json:"saved_emails"`
	FailedEmails         int      `json:"failed_emails"`
	DetectorAccuracy     *float64 `json:"detector_accuracy"`
	GeneratorSuccessRate *float64 `json:"generator_success_rate"`
	AvgConfidenceScore   *float64 `json:"avg_confidence_score"`
	TotalCost            float64  `json:"total_cost"`
	ProcessingTime       float64  `json:"processing_time"`
}

type CompetitionRunner struct {
	store        *Store
	orchestrator ItemOrchestrator
	queue        TaskQueue
	workflows    int
	maxEmails    int
	events       *EventHub
}

func NewCompetitionRunner(store *Store, orchestrator ItemOrchestrator, queue TaskQueue, cfg config.CompetitionConfig) *CompetitionRunner {
	workflows := cfg.Workflows
	if workflows <= 0 {
		workflows = 1
	}
	return &CompetitionRunner{
		store:        store,
		orchestrator: orchestrator,
		queue:        queue,
		workflows:    workflows,
		maxEmails:    cfg.MaxEmailsPerRound,
	}
}

// SetEvents publishes round progress to hub.
func (r *CompetitionRunner) SetEvents(hub *EventHub) {
	r.events = hub
}

func (r *CompetitionRunner) checkTotal(totalEmails int) error {
	if totalEmails <= 0 {
		return &models.ValidationError{Model: "round", Field: "total_emails", Message: "must be positive"}
	}
	if r.maxEmails > 0 && totalEmails > r.maxEmails {
		return &models.ValidationError{
			Model:   "round",
			Field:   "total_emails",
			Message: fmt.Sprintf("%d exceeds the per-round limit of %d", totalEmails, r.maxEmails),
		}
	}
	return nil
}

// RunRound creates a running round and processes every item before returning.
func (r *CompetitionRunner) RunRound(ctx context.Context, totalEmails int, createdBy string) (*RoundSummary, error) {
	if err := r.checkTotal(totalEmails); err != nil {
		return nil, err
	}
	roundID, err := r.store.CreateRound(ctx, totalEmails, RoundOptions{
		Status:    models.RoundRunning,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}
	return r.execute(ctx, roundID, totalEmails)
}

// StartRoundAsync creates a pending round and queues it. The round id is
// returned as soon as the task is accepted.
func (r *CompetitionRunner) StartRoundAsync(ctx context.Context, totalEmails int, createdBy string) (uint, error) {
	if err := r.checkTotal(totalEmails); err != nil {
		return 0, err
	}
	roundID, err := r.store.CreateRound(ctx, totalEmails, RoundOptions{
		Status:    models.RoundPending,
		CreatedBy: createdBy,
	})
	if err != nil {
		return 0, fmt.Errorf("create round: %w", err)
	}

	task := &RoundTask{
		RoundID:     roundID,
		TotalEmails: totalEmails,
		RequestID:   uuid.NewString(),
		CreatedBy:   createdBy,
	}
	if err := r.queue.Enqueue(task); err != nil {
		failed := models.RoundFailed
		note := "enqueue failed: " + err.Error()
		if uerr := r.store.UpdateRound(ctx, roundID, RoundUpdate{Status: &failed, Notes: &note}); uerr != nil {
			logger.Errorf("[Competition] Failed to mark round %d failed: %v", roundID, uerr)
		}
		return 0, fmt.Errorf("enqueue round %d: %w", roundID, err)
	}

	logger.Infof("[Competition] Round %d queued (request_id=%s, emails=%d, async=%v)",
		roundID, task.RequestID, totalEmails, r.queue.IsAsync())
	return roundID, nil
}

// ProcessRoundTask runs a round queued by StartRoundAsync. Rounds that have
// already left pending are skipped so queue redeliveries are harmless.
func (r *CompetitionRunner) ProcessRoundTask(ctx context.Context, task *RoundTask) error {
	round, err := r.store.GetRound(ctx, task.RoundID)
	if err != nil {
		return fmt.Errorf("load round %d: %w", task.RoundID, err)
	}
	if round.Status != models.RoundPending {
		logger.Infof("[Competition] Round %d already %s, skipping task %s", round.ID, round.Status, task.RequestID)
		return nil
	}

	running := models.RoundRunning
	if err := r.store.UpdateRound(ctx, round.ID, RoundUpdate{Status: &running}); err != nil {
		return fmt.Errorf("start round %d: %w", round.ID, err)
	}
	_, err = r.execute(ctx, round.ID, round.TotalEmails)
	return err
}

type itemOutcome struct {
	saved      bool
	isPhishing bool
	verdict    string
	confidence *float64
	cost       float64
}

func (o itemOutcome) correct() bool {
	return o.isPhishing == (o.verdict == models.VerdictPhishing)
}

func (o itemOutcome) falseNegative() bool {
	return o.isPhishing && o.verdict != models.VerdictPhishing
}

// workflowRanges splits total items across workflows. The first workflow
// takes the remainder.
func workflowRanges(total, workflows int) [][2]int {
	if workflows > total {
		workflows = total
	}
	if workflows <= 0 {
		return nil
	}
	base := total / workflows
	rem := total % workflows

	ranges := make([][2]int, 0, workflows)
	next := 0
	for i := 0; i < workflows; i++ {
		n := base
		if i == 0 {
			n += rem
		}
		ranges = append(ranges, [2]int{next, next + n})
		next += n
	}
	return ranges
}

func (r *CompetitionRunner) execute(ctx context.Context, roundID uint, totalEmails int) (*RoundSummary, error) {
	start := time.Now()
	runID := uuid.NewString()
	// Bookkeeping writes must land even when the caller gives up.
	storeCtx := context.WithoutCancel(ctx)

	metrics.RoundsRunning.Inc()
	defer metrics.RoundsRunning.Dec()

	ranges := workflowRanges(totalEmails, r.workflows)
	logger.Info().
		Uint("round_id", roundID).
		Str("run_id", runID).
		Int("total_emails", totalEmails).
		Int("workflows", len(ranges)).
		Msg("[Competition] Round started")
	r.store.SaveLog(storeCtx, models.LevelInfo, "round started", &roundID, map[string]interface{}{
		"run_id":       runID,
		"total_emails": totalEmails,
		"workflows":    len(ranges),
	})
	r.events.Publish(RoundEvent{RoundID: roundID, Status: models.RoundRunning, Total: totalEmails})

	outcomes := make([]itemOutcome, totalEmails)
	var (
		mu        sync.Mutex
		processed int
		wg        sync.WaitGroup
	)

	markProcessed := func() {
		mu.Lock()
		defer mu.Unlock()
		processed++
		n := processed
		if err := r.store.UpdateRound(storeCtx, roundID, RoundUpdate{ProcessedEmails: &n}); err != nil {
			logger.Warnf("[Competition] Failed to update progress for round %d: %v", roundID, err)
		}
		r.events.Publish(RoundEvent{RoundID: roundID, Status: models.RoundRunning, Processed: n, Total: totalEmails})
	}

	for w, rng := range ranges {
		wg.Add(1)
		go func(workflow, from, to int) {
			defer wg.Done()
			for i := from; i < to; i++ {
				outcomes[i] = r.processItem(ctx, storeCtx, roundID, i+1, workflow)
				markProcessed()
			}
		}(w, rng[0], rng[1])
	}
	wg.Wait()

	summary := summarize(roundID, runID, totalEmails, processed, outcomes)
	summary.ProcessingTime = time.Since(start).Seconds()

	upd := RoundUpdate{
		Status:               &summary.Status,
		ProcessedEmails:      &summary.ProcessedEmails,
		DetectorAccuracy:     summary.DetectorAccuracy,
		GeneratorSuccessRate: summary.GeneratorSuccessRate,
		AvgConfidenceScore:   summary.AvgConfidenceScore,
		ProcessingTime:       &summary.ProcessingTime,
		TotalCost:            &summary.TotalCost,
	}
	if err := r.store.UpdateRound(storeCtx, roundID, upd); err != nil {
		return summary, fmt.Errorf("finalize round %d: %w", roundID, err)
	}

	metrics.RecordRoundFinished(summary.Status, summary.ProcessingTime)
	r.events.Publish(RoundEvent{
		RoundID:   roundID,
		Status:    summary.Status,
		Processed: summary.ProcessedEmails,
		Total:     totalEmails,
		Summary:   summary,
	})
	level := models.LevelInfo
	if summary.Status == models.RoundFailed {
		level = models.LevelError
	}
	r.store.SaveLog(storeCtx, level, "round "+summary.Status, &roundID, map[string]interface{}{
		"run_id":        runID,
		"saved_emails":  summary.SavedEmails,
		"failed_emails": summary.FailedEmails,
		"total_cost":    summary.TotalCost,
	})
	logger.Infof("[Competition] Round %d %s: %d/%d saved in %.1fs, cost $%.4f",
		roundID, summary.Status, summary.SavedEmails, totalEmails, summary.ProcessingTime, summary.TotalCost)

	return summary, nil
}

func (r *CompetitionRunner) processItem(ctx, storeCtx context.Context, roundID uint, seq, workflow int) itemOutcome {
	if err := ctx.Err(); err != nil {
		metrics.RecordEmail("failed")
		return itemOutcome{}
	}

	itemStart := time.Now()
	result, err := r.orchestrator.Orchestrate(ctx, &roundID)
	if err != nil || result == nil {
		metrics.RecordEmail("failed")
		logger.Warnf("[Competition] Round %d email %d (workflow %d) produced no result: %v", roundID, seq, workflow, err)
		if !errors.Is(err, ErrMaxRoundsExceeded) {
			msg := "orchestration returned no result"
			if err != nil {
				msg = err.Error()
			}
			r.store.SaveLog(storeCtx, models.LevelWarning, "email failed", &roundID, map[string]interface{}{
				"sequence_number": seq,
				"workflow":        workflow,
				"error":           msg,
			})
		}
		return itemOutcome{}
	}

	result.SequenceNumber = seq
	processingTime := time.Since(itemStart).Seconds()
	if _, err := r.store.SaveEmail(storeCtx, roundID, result, &processingTime); err != nil {
		metrics.RecordEmail("failed")
		logger.Warnf("[Competition] Round %d email %d could not be saved: %v", roundID, seq, err)
		return itemOutcome{}
	}

	metrics.RecordEmail("saved")
	outcome := itemOutcome{
		saved:      true,
		isPhishing: result.IsPhishing == nil || *result.IsPhishing,
		verdict:    result.Verdict(),
		confidence: clamped(result.DetectionConfidence),
	}
	if result.Cost != nil && *result.Cost > 0 {
		outcome.cost = *result.Cost
	}
	return outcome
}

// summarize computes round statistics once every item is terminal.
func summarize(roundID uint, runID string, total, processed int, outcomes []itemOutcome) *RoundSummary {
	s := &RoundSummary{
		RoundID:         roundID,
		RunID:           runID,
		Status:          models.RoundFailed,
		TotalEmails:     total,
		ProcessedEmails: processed,
	}

	var correct, falseNegatives, confCount int
	var confSum float64
	for _, o := range outcomes {
		if !o.saved {
			s.FailedEmails++
			continue
		}
		s.SavedEmails++
		s.TotalCost += o.cost
		if o.correct() {
			correct++
		}
		if o.falseNegative() {
			falseNegatives++
		}
		if o.confidence != nil {
			confSum += *o.confidence
			confCount++
		}
	}

	if s.SavedEmails == 0 {
		return s
	}
	s.Status = models.RoundCompleted
	accuracy := float64(correct) / float64(s.SavedEmails) * 100
	success := float64(falseNegatives) / float64(s.SavedEmails) * 100
	s.DetectorAccuracy = &accuracy
	s.GeneratorSuccessRate = &success
	if confCount > 0 {
		avg := confSum / float64(confCount) * 100
		s.AvgConfidenceScore = &avg
	}
	return s
}
