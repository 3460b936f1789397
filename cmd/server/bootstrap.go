package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/middleware"
	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/internal/utils"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

// appServices holds everything the HTTP layer and shutdown need.
type appServices struct {
	db        *gorm.DB
	store     *services.Store
	runner    *services.CompetitionRunner
	taskQueue services.TaskQueue
	worker    *services.Worker
	scheduler *services.Scheduler
	redis     *redis.Client
	limiter   *middleware.RateLimiter
	events    *services.EventHub
}

// bootstrap opens the database, builds the competition pipeline and starts
// the background workers.
func bootstrap(ctx context.Context, cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	gormLevel := gormlogger.Warn
	if cfg.Server.Mode == "release" {
		gormLevel = gormlogger.Error
	}
	db, err := models.Open(&cfg.Database, gormLevel)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	store := services.NewStore(db)

	// Uses Redis if enabled and reachable, otherwise runs rounds in-process.
	taskQueue := services.NewTaskQueue(&cfg.Redis)

	runner, err := services.NewArena(ctx, cfg, store, taskQueue)
	if err != nil {
		logger.Fatalf("Failed to build competition: %v", err)
	}
	events := services.NewEventHub()
	runner.SetEvents(events)

	var worker *services.Worker
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(runner.ProcessRoundTask)
	} else if worker = services.NewWorker(&cfg.Redis, 2); worker != nil {
		worker.SetProcessor(runner.ProcessRoundTask)
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	scheduler := services.NewScheduler(runner, store, cfg.Competition)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	return &appServices{
		db:        db,
		store:     store,
		runner:    runner,
		taskQueue: taskQueue,
		worker:    worker,
		scheduler: scheduler,
		redis:     rdb,
		limiter:   middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		events:    events,
	}
}

// shutdown stops the background work first so no round writes after the
// database closes.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	s.limiter.Stop()

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if err := models.Close(s.db); err != nil {
		logger.Warn().Err(err).Msg("Failed to close database")
	}
	logger.Info().Msg("All services stopped")
}
