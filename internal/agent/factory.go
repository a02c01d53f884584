package agent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Process  ProcessSpec
	OpenAI   OpenAIConfig
}

// New creates the agent named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Agent, error) {
	switch strings.ToLower(cfg.Provider) {
	case "process", "":
		return NewProcessAgent(cfg.Process, logger)
	case "openai":
		return NewOpenAIAgent(cfg.OpenAI, logger)
	default:
		return nil, domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "agent factory",
			fmt.Errorf("unknown provider %q (supported: process, openai)", cfg.Provider))
	}
}
