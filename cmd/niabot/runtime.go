package main

import (
	"fmt"
	"path/filepath"

	"niabot/pkg/agent"
	"niabot/pkg/bus"
	"niabot/pkg/config"
	"niabot/pkg/personality"
	"niabot/pkg/providers"
	"niabot/pkg/scheduler"
	"niabot/pkg/store"
)

// appRuntime bundles the shared wiring behind both the local chat session and
// the gateway.
type appRuntime struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	store     *store.SQLiteStore
	provider  providers.LLMProvider
	assembler *personality.Assembler
	merger    *personality.Merger
	sched     *scheduler.Service
	orch      *agent.Orchestrator
}

func newRuntime(cfg *config.Config) (*appRuntime, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	workspace := cfg.WorkspacePath()
	st, err := store.NewSQLiteStore(filepath.Join(workspace, "state", "niabot.db"))
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}

	loc := cfg.Location()
	assembler := personality.NewAssembler(st, cfg.Agent.Name, loc)
	merger := personality.NewMerger(st)
	sched := scheduler.NewService(filepath.Join(workspace, "state", "triggers.json"), loc)

	msgBus := bus.NewMessageBus()
	orch := agent.NewOrchestrator(msgBus, provider, st, assembler, merger, sched, agent.Options{
		Model:       cfg.Agent.Model,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
		Location:    loc,
	})

	return &appRuntime{
		cfg:       cfg,
		bus:       msgBus,
		store:     st,
		provider:  provider,
		assembler: assembler,
		merger:    merger,
		sched:     sched,
		orch:      orch,
	}, nil
}

func (r *appRuntime) Close() {
	r.bus.Close()
	_ = r.store.Close()
}

// ownerUID is the identity every local surface acts as: the Discord owner
// when configured, a fixed id otherwise.
func (r *appRuntime) ownerUID() string {
	if owner := r.cfg.Channels.Discord.OwnerID; owner != "" {
		return owner
	}
	return "default"
}
