package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

const staleRoundCheck = "@every 30m"

// RoundStarter queues a new round.
type RoundStarter interface {
	StartRoundAsync(ctx context.Context, totalEmails int, createdBy string) (uint, error)
}

// Scheduler starts unattended rounds on a cron schedule and fails rounds
// left running by a crashed process.
type Scheduler struct {
	cron    *cron.Cron
	starter RoundStarter
	store   *Store
	cfg     config.CompetitionConfig
	now     func() time.Time
}

func NewScheduler(starter RoundStarter, store *Store, cfg config.CompetitionConfig) *Scheduler {
	return &Scheduler{
		starter: starter,
		store:   store,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *Scheduler) Start() error {
	s.cron = cron.New()

	if s.cfg.Schedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.Schedule, s.runScheduledRound); err != nil {
			return err
		}
		logger.Infof("[Scheduler] Scheduled rounds enabled: %q, %d emails each", s.cfg.Schedule, s.cfg.ScheduledEmails)
	}

	if s.cfg.StaleRoundHours > 0 {
		s.ReapStaleRounds()
		if _, err := s.cron.AddFunc(staleRoundCheck, s.ReapStaleRounds); err != nil {
			return err
		}
	}

	s.cron.Start()
	logger.Infof("[Scheduler] Started")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	logger.Infof("[Scheduler] Stopped")
}

func (s *Scheduler) runScheduledRound() {
	emails := s.cfg.ScheduledEmails
	if emails <= 0 {
		emails = 1
	}
	id, err := s.starter.StartRoundAsync(context.Background(), emails, "scheduler")
	if err != nil {
		logger.Errorf("[Scheduler] Failed to start scheduled round: %v", err)
		return
	}
	logger.Infof("[Scheduler] Scheduled round %d queued", id)
}

// ReapStaleRounds marks rounds running longer than StaleRoundHours as failed.
func (s *Scheduler) ReapStaleRounds() {
	cutoff := s.now().Add(-time.Duration(s.cfg.StaleRoundHours) * time.Hour)
	ids, err := s.store.MarkStaleRounds(context.Background(), cutoff)
	if err != nil {
		logger.Errorf("[Scheduler] Stale round check failed: %v", err)
		return
	}
	if len(ids) > 0 {
		logger.Warnf("[Scheduler] Marked %d stale rounds failed: %v", len(ids), ids)
	}
}
