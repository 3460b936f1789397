package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/models"
)

type recordingStarter struct {
	totals    []int
	createdBy []string
	err       error
}

func (s *recordingStarter) StartRoundAsync(_ context.Context, totalEmails int, createdBy string) (uint, error) {
	s.totals = append(s.totals, totalEmails)
	s.createdBy = append(s.createdBy, createdBy)
	return 1, s.err
}

func TestScheduler_RunScheduledRound(t *testing.T) {
	tests := []struct {
		name     string
		emails   int
		expected int
	}{
		{"configured size", 5, 5},
		{"unset size defaults to one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &recordingStarter{}
			s := NewScheduler(starter, nil, config.CompetitionConfig{ScheduledEmails: tt.emails})
			s.runScheduledRound()
			assert.Equal(t, []int{tt.expected}, starter.totals)
			assert.Equal(t, []string{"scheduler"}, starter.createdBy)
		})
	}
}

func TestScheduler_RunScheduledRoundError(t *testing.T) {
	starter := &recordingStarter{err: errors.New("queue closed")}
	s := NewScheduler(starter, nil, config.CompetitionConfig{ScheduledEmails: 2})
	assert.NotPanics(t, s.runScheduledRound)
}

func TestScheduler_ReapStaleRounds(t *testing.T) {
	store := setupTestStore(t)
	id := createRunningRound(t, store, 1)

	s := NewScheduler(&recordingStarter{}, store, config.CompetitionConfig{StaleRoundHours: 6})

	s.ReapStaleRounds()
	round, err := store.GetRound(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RoundRunning, round.Status, "a fresh round is left alone")

	s.now = func() time.Time { return time.Now().Add(7 * time.Hour) }
	s.ReapStaleRounds()
	round, err = store.GetRound(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RoundFailed, round.Status)
	assert.Contains(t, round.Notes, "no progress")
	assert.Equal(t, int64(1), countLogs(t, store, models.LevelWarning))
}

func TestScheduler_StartRejectsBadSpec(t *testing.T) {
	s := NewScheduler(&recordingStarter{}, nil, config.CompetitionConfig{Schedule: "not a cron spec"})
	assert.Error(t, s.Start())
}

func TestScheduler_StartStop(t *testing.T) {
	store := setupTestStore(t)
	s := NewScheduler(&recordingStarter{}, store, config.CompetitionConfig{
		Schedule:        "0 3 * * *",
		ScheduledEmails: 10,
		StaleRoundHours: 6,
	})
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 2)
	s.Stop()
}
