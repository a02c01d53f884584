package cli

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/agent"
	"github.com/firstclaim/claim-engine/internal/config"
	"github.com/firstclaim/claim-engine/internal/guard"
	"github.com/firstclaim/claim-engine/internal/logging"
	"github.com/firstclaim/claim-engine/internal/orchestrator"
	"github.com/firstclaim/claim-engine/internal/refdata"
	"github.com/firstclaim/claim-engine/internal/store"
	"github.com/firstclaim/claim-engine/internal/tools"
	"github.com/firstclaim/claim-engine/internal/workflow"
)

// app is the wired engine shared by the serve, analyze and chat commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	lookup refdata.Lookup
	orch   *orchestrator.Orchestrator
}

// openStore opens the logger and database only, for commands that never
// start an agent.
func openStore(cfg *config.Config) (*zap.Logger, *sql.DB, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return logger, db, nil
}

func newApp(cfg *config.Config) (*app, error) {
	logger, db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	ag, err := agent.New(agentConfig(cfg), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	lookup := refdata.NewCachedLookup(refdata.NewSQLLookup(db), cfg.CacheTTL())
	reg := tools.NewCatalogue(lookup, cfg.RefData.SearchLimit)

	gov := workflow.NewBudgetGovernor(db, cfg.SessionBudgetUSD)
	g := guard.NewGuard(gov, guard.GuardConfig{RateLimitPerMinute: cfg.RateLimitPerMinute})

	orch := orchestrator.New(db, ag, reg, g, orchestrator.Config{
		AnalysisSystemPrompt: cfg.Agent.AnalysisSystemPrompt,
		ChatSystemPrompt:     cfg.Agent.ChatSystemPrompt,
		AnalysisMaxSteps:     cfg.Agent.AnalysisMaxSteps,
		ChatMaxSteps:         cfg.Agent.ChatMaxSteps,
	}, logger)

	return &app{cfg: cfg, logger: logger, db: db, lookup: lookup, orch: orch}, nil
}

func (a *app) Close() {
	a.db.Close()
	_ = a.logger.Sync()
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Provider: cfg.Agent.Provider,
		Process: agent.ProcessSpec{
			Command: cfg.Agent.Command,
			Args:    cfg.Agent.Args,
			Env:     cfg.AgentEnv(),
		},
		OpenAI: agent.OpenAIConfig{
			APIKey:             cfg.Agent.APIKey,
			BaseURL:            cfg.Agent.BaseURL,
			Model:              cfg.Agent.Model,
			InputPricePerMTok:  cfg.Agent.InputPricePerMTok,
			OutputPricePerMTok: cfg.Agent.OutputPricePerMTok,
			ConversationTTL:    cfg.ConversationTTL(),
		},
	}
}
