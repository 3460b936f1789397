package services

import (
	"context"
	"fmt"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/llm"
	"github.com/huangang/scamarena/backend/internal/prompts"
)

// NewArena wires the agents, the orchestrator and the runner from cfg.
// Agent calls are priced and recorded in store; orchestrator calls are
// priced for metrics only.
func NewArena(ctx context.Context, cfg *config.Config, store *Store, queue TaskQueue) (*CompetitionRunner, error) {
	templates, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	generatorCaller, err := llm.NewModelCaller(ctx, cfg.Generator)
	if err != nil {
		return nil, fmt.Errorf("generator model: %w", err)
	}
	detectorCaller, err := llm.NewModelCaller(ctx, cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("detector model: %w", err)
	}

	prices := llm.NewPriceTable(cfg.Pricing)
	agentInvoker := llm.NewInvoker(cfg.Competition.MaxRetries, prices, store)

	orchestrator := NewOrchestrator(
		llm.NewChatClient(cfg.Orchestrator),
		llm.NewInvoker(cfg.Competition.MaxRetries, prices, nil),
		cfg.Orchestrator,
		cfg.Competition.MaxRounds,
		NewGeneratorAgent(generatorCaller, agentInvoker, templates),
		NewDetectorAgent(detectorCaller, agentInvoker, templates),
		templates,
		store,
	)

	return NewCompetitionRunner(store, orchestrator, queue, cfg.Competition), nil
}
